package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"golang.org/x/time/rate"

	"triptimer/internal/trips"
	logx "triptimer/pkg/logx"
)

const (
	defaultIcon = "/logo192.png"
	defaultTTL  = 3600
)

var defaultVibrate = []int{200, 100, 200}

type WebPushConfig struct {
	Subscriber      string
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	TTL             int
	Timeout         time.Duration
	RatePerSec      int
	Icon            string
	Badge           string
}

// WebPush sends encrypted Web Push messages signed with the VAPID identity.
type WebPush struct {
	cfg     WebPushConfig
	log     logx.Logger
	client  *http.Client
	limiter *rate.Limiter
}

func NewWebPush(cfg WebPushConfig, log logx.Logger) (*WebPush, error) {
	if strings.TrimSpace(cfg.VAPIDPublicKey) == "" || strings.TrimSpace(cfg.VAPIDPrivateKey) == "" {
		return nil, errors.New("webpush: VAPID keys are required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.Icon == "" {
		cfg.Icon = defaultIcon
	}
	if cfg.Badge == "" {
		cfg.Badge = cfg.Icon
	}
	return &WebPush{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "webpush")),
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}, nil
}

func (w *WebPush) Send(ctx context.Context, t trips.Target, p Payload) error {
	if t.Endpoint == "" || t.P256dh == "" || t.Auth == "" {
		return Permanent(errors.New("webpush: subscription is incomplete"))
	}
	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}
	if p.Icon == "" {
		p.Icon = w.cfg.Icon
	}
	if p.Badge == "" {
		p.Badge = w.cfg.Badge
	}
	if len(p.Vibrate) == 0 {
		p.Vibrate = defaultVibrate
	}
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}

	sub := &webpush.Subscription{
		Endpoint: t.Endpoint,
		Keys:     webpush.Keys{P256dh: t.P256dh, Auth: t.Auth},
	}
	resp, err := webpush.SendNotificationWithContext(ctx, body, sub, &webpush.Options{
		HTTPClient:      w.client,
		Subscriber:      w.cfg.Subscriber,
		VAPIDPublicKey:  w.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: w.cfg.VAPIDPrivateKey,
		TTL:             w.cfg.TTL,
		Urgency:         webpush.UrgencyHigh,
	})
	if err != nil {
		return fmt.Errorf("webpush: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	return classifyPushStatus(resp.StatusCode)
}

// classifyPushStatus maps a push service response to a delivery outcome.
// 404 and 410 mean the subscription expired or was revoked.
func classifyPushStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound || code == http.StatusGone:
		return Permanent(fmt.Errorf("webpush: subscription gone (http %d)", code))
	default:
		return fmt.Errorf("webpush: push service returned http %d", code)
	}
}
