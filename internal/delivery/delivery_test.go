package delivery

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"triptimer/internal/trips"
	logx "triptimer/pkg/logx"
)

type senderFunc func(ctx context.Context, t trips.Target, p Payload) error

func (f senderFunc) Send(ctx context.Context, t trips.Target, p Payload) error { return f(ctx, t, p) }

func TestPermanentWrapping(t *testing.T) {
	t.Parallel()
	base := errors.New("gone")
	err := Permanent(base)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsPermanent(base))
	assert.Nil(t, Permanent(nil))
}

func TestRouter(t *testing.T) {
	t.Parallel()
	var got trips.Channel
	r := NewRouter()
	r.Register(trips.ChannelWebPush, senderFunc(func(_ context.Context, t trips.Target, _ Payload) error {
		got = t.Channel
		return nil
	}))

	require.NoError(t, r.Send(context.Background(), trips.Target{Channel: trips.ChannelWebPush}, Payload{}))
	assert.Equal(t, trips.ChannelWebPush, got)

	err := r.Send(context.Background(), trips.Target{Channel: trips.ChannelTelegram}, Payload{})
	assert.ErrorIs(t, err, ErrChannelDisabled)
	assert.False(t, IsPermanent(err))

	err = r.Send(context.Background(), trips.Target{Channel: "pigeon"}, Payload{})
	assert.ErrorIs(t, err, ErrUnknownChannel)
	assert.True(t, IsPermanent(err))
}

func TestClassifyPushStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		code      int
		ok        bool
		permanent bool
	}{
		{code: http.StatusCreated, ok: true},
		{code: http.StatusOK, ok: true},
		{code: http.StatusGone, permanent: true},
		{code: http.StatusNotFound, permanent: true},
		{code: http.StatusTooManyRequests},
		{code: http.StatusInternalServerError},
		{code: http.StatusBadRequest},
	}
	for _, tt := range tests {
		err := classifyPushStatus(tt.code)
		if tt.ok {
			assert.NoError(t, err, tt.code)
			continue
		}
		require.Error(t, err, tt.code)
		assert.Equal(t, tt.permanent, IsPermanent(err), tt.code)
	}
}

func TestClassifyTelegramErr(t *testing.T) {
	t.Parallel()
	assert.True(t, IsPermanent(classifyTelegramErr(tele.ErrBlockedByUser)))
	assert.True(t, IsPermanent(classifyTelegramErr(tele.ErrChatNotFound)))
	assert.True(t, IsPermanent(classifyTelegramErr(tele.ErrUserIsDeactivated)))
	assert.False(t, IsPermanent(classifyTelegramErr(errors.New("connection reset"))))
}

func TestRenderTelegramEscapes(t *testing.T) {
	t.Parallel()
	out := renderTelegram(Payload{Title: "Trip <soon>", Body: "G1 & co"})
	assert.Equal(t, "<b>Trip &lt;soon&gt;</b>\nG1 &amp; co", out)
}

func newSubscription(t *testing.T, endpoint string) trips.Target {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)
	return trips.Target{
		ID:       "sub-1",
		OwnerID:  "u1",
		Channel:  trips.ChannelWebPush,
		Endpoint: endpoint,
		P256dh:   base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		Auth:     base64.RawURLEncoding.EncodeToString(auth),
	}
}

func TestWebPushSend(t *testing.T) {
	t.Parallel()
	var status atomic.Int32
	status.Store(http.StatusCreated)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		if len(body) == 0 || r.Header.Get("Authorization") == "" || r.Header.Get("TTL") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	priv, pub, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	wp, err := NewWebPush(WebPushConfig{Subscriber: "ops@example.com", VAPIDPublicKey: pub, VAPIDPrivateKey: priv}, logx.Nop())
	require.NoError(t, err)

	target := newSubscription(t, srv.URL+"/push/abc")
	p := Payload{Title: "Your trip is about to start", Body: "G1234", Tag: "notify:t1:sub-1"}

	require.NoError(t, wp.Send(context.Background(), target, p))

	status.Store(http.StatusGone)
	err = wp.Send(context.Background(), target, p)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))

	status.Store(http.StatusServiceUnavailable)
	err = wp.Send(context.Background(), target, p)
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
	assert.Equal(t, int32(3), hits.Load())
}

func TestWebPushRejectsIncompleteSubscription(t *testing.T) {
	t.Parallel()
	priv, pub, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	wp, err := NewWebPush(WebPushConfig{VAPIDPublicKey: pub, VAPIDPrivateKey: priv}, logx.Nop())
	require.NoError(t, err)

	err = wp.Send(context.Background(), trips.Target{Endpoint: "https://push.example/1"}, Payload{})
	assert.True(t, IsPermanent(err))

	_, err = NewWebPush(WebPushConfig{}, logx.Nop())
	assert.Error(t, err)
}

func TestTelegramSend(t *testing.T) {
	t.Parallel()
	var path, body atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		path.Store(r.URL.Path)
		body.Store(string(b))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`)
	}))
	defer srv.Close()

	tg, err := NewTelegram(TelegramConfig{Token: "123:abc", APIURL: srv.URL}, logx.Nop())
	require.NoError(t, err)

	err = tg.Send(context.Background(), trips.Target{Channel: trips.ChannelTelegram, Endpoint: "42"}, Payload{Title: "Trip", Body: "G1234 departs"})
	require.NoError(t, err)
	assert.Equal(t, "/bot123:abc/sendMessage", path.Load())
	assert.True(t, strings.Contains(body.Load().(string), "G1234 departs"))

	err = tg.Send(context.Background(), trips.Target{Channel: trips.ChannelTelegram, Endpoint: "not-a-chat"}, Payload{})
	assert.True(t, IsPermanent(err))
}
