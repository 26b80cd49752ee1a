package trips

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triptimer/internal/clock"
	"triptimer/internal/storage"
	logx "triptimer/pkg/logx"
)

var t0 = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.Open(context.Background(), storage.Config{Path: filepath.Join(t.TempDir(), "trips.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db.SQL(), clock.NewFake(t0))
}

func TestSubjectRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	sub := Subject{ID: "t1", OwnerID: "u1", Number: "G1234", DepartureAt: t0.Add(2 * time.Hour), Car: "05", Seat: "12F"}
	require.NoError(t, s.PutSubject(ctx, sub))

	got, err := s.GetSubject(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, KindTrain, got.Kind)
	assert.Equal(t, "G1234", got.Number)
	assert.True(t, got.DepartureAt.Equal(sub.DepartureAt))
	assert.Equal(t, "12F", got.Seat)
	assert.Empty(t, got.TrainType)

	require.NoError(t, s.UpdateMetadata(ctx, "t1", "CR400AF"))
	got, err = s.GetSubject(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "CR400AF", got.TrainType)

	assert.ErrorIs(t, s.UpdateMetadata(ctx, "nope", "x"), ErrSubjectNotFound)
	require.NoError(t, s.DeleteSubject(ctx, "t1"))
	_, err = s.GetSubject(ctx, "t1")
	assert.ErrorIs(t, err, ErrSubjectNotFound)
}

func TestListUpcoming(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	for i, d := range []time.Duration{-time.Hour, 3 * time.Hour, time.Hour} {
		require.NoError(t, s.PutSubject(ctx, Subject{ID: string(rune('a' + i)), OwnerID: "u", Number: "D1", DepartureAt: t0.Add(d)}))
	}

	got, err := s.ListUpcoming(ctx, t0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}

func TestTargets(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.PutTarget(ctx, Target{ID: "s2", OwnerID: "u1", Endpoint: "https://push/2", CreatedAt: t0.Add(time.Minute)}))
	require.NoError(t, s.PutTarget(ctx, Target{ID: "s1", OwnerID: "u1", Endpoint: "https://push/1", P256dh: "k", Auth: "a", CreatedAt: t0}))
	require.NoError(t, s.PutTarget(ctx, Target{ID: "s3", OwnerID: "u2", Channel: ChannelTelegram, Endpoint: "42"}))

	list, err := s.ListTargetsFor(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "s1", list[0].ID)
	assert.Equal(t, ChannelWebPush, list[0].Channel)
	assert.Equal(t, "k", list[0].P256dh)

	tg, err := s.GetTarget(ctx, "s3")
	require.NoError(t, err)
	assert.Equal(t, ChannelTelegram, tg.Channel)

	require.NoError(t, s.DeleteTarget(ctx, "s1"))
	require.NoError(t, s.DeleteTarget(ctx, "s1"))
	_, err = s.GetTarget(ctx, "s1")
	assert.ErrorIs(t, err, ErrTargetNotFound)
}
