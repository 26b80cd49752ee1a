package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triptimer/internal/config"
	"triptimer/internal/delivery"
	"triptimer/internal/jobs"
	"triptimer/internal/trips"
	logx "triptimer/pkg/logx"
)

func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	body := `
logging:
  level: error
storage:
  path: ` + filepath.Join(dir, "triptimer.db") + `
scheduler:
  lead: 1h
  timezone: UTC
task_engine:
  workers: 2
` + extra
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestAppStartRecoversAndInitializes(t *testing.T) {
	ctx := context.Background()
	path := writeConfig(t, "")

	// seed the store before the app is started, as a previous run would
	seed, err := NewApp(ctx, path)
	require.NoError(t, err)
	dep := time.Now().Add(3 * time.Hour).Truncate(time.Second)
	require.NoError(t, seed.Trips().PutSubject(ctx, trips.Subject{
		ID: "t1", OwnerID: "u1", Kind: trips.KindTrain, Number: "G1", DepartureAt: dep,
	}))
	_, err = seed.Jobs().Create(ctx, jobs.New("t1", "", jobs.RefreshMetadata, dep.Add(-time.Hour)))
	require.NoError(t, err)
	require.NoError(t, seed.Close())

	a, err := NewApp(ctx, path)
	require.NoError(t, err)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	require.NoError(t, a.Start(runCtx))

	// recovered and re-initialized jobs share one key
	assert.Equal(t, 1, a.Scheduler().Armed())
	pending, err := a.Scheduler().ListPendingJobs(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "refresh:t1", pending[0].Key)

	stopCtx, stopCancel := context.WithTimeout(ctx, 10*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopAppStop))
	assert.Equal(t, 0, a.Scheduler().Armed())
	assert.NoError(t, a.Err())
}

func TestNewAppRejectsBadResync(t *testing.T) {
	path := writeConfig(t, "")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	bad := strings.Replace(string(raw), "  lead: 1h\n", "  lead: 1h\n  resync: every:10s\n", 1)
	require.NoError(t, os.WriteFile(path, []byte(bad), 0o600))

	_, err = NewApp(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduler.resync")
}

func TestNewAppRequiresVAPIDKeys(t *testing.T) {
	path := writeConfig(t, `
delivery:
  webpush:
    enabled: true
    subscriber: mailto:ops@example.com
`)
	_, err := NewApp(context.Background(), path)
	require.Error(t, err)
}

func TestMapConfigs(t *testing.T) {
	cfg := &config.Config{
		Storage:    config.StorageConfig{BusyTimeout: "2s"},
		Scheduler:  config.SchedulerConfig{Lead: "30m", Timezone: "UTC"},
		TaskEngine: config.TaskEngineConfig{Workers: 3, DefaultTimeout: "15s"},
		Delivery: config.DeliveryConfig{
			Telegram: config.TelegramConfig{Token: "x", Timeout: "4s", RatePerSec: 5},
		},
		Admin: config.AdminConfig{Addr: ":9000", CORSOrigins: []string{"https://ops.example.com"}},
	}

	sc, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "./triptimer.db", sc.Path)
	assert.Equal(t, 2*time.Second, sc.BusyTimeout)

	ec, err := mapTaskEngineConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 3, ec.Workers)
	assert.Equal(t, 15*time.Second, ec.DefaultTimeout)

	schedCfg, err := mapSchedulerConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, schedCfg.Lead)
	assert.Equal(t, "UTC", schedCfg.Location.String())

	tc, err := mapTelegramConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 4*time.Second, tc.Timeout)
	assert.Equal(t, 5, tc.RatePerSec)

	ac := mapAdminConfig(cfg)
	assert.Equal(t, ":9000", ac.Addr)
	assert.Equal(t, []string{"https://ops.example.com"}, ac.CORSOrigins)

	cfg.TaskEngine.DefaultTimeout = "soon"
	_, err = mapTaskEngineConfig(cfg)
	assert.Error(t, err)
}

func TestBuildRouterWithoutChannels(t *testing.T) {
	r, err := buildRouter(&config.Config{}, logx.Nop())
	require.NoError(t, err)

	err = r.Send(context.Background(), trips.Target{Channel: trips.ChannelWebPush}, delivery.Payload{Title: "x"})
	require.Error(t, err)
}
