package app

import (
	"fmt"
	"time"

	"triptimer/internal/adminapi"
	"triptimer/internal/config"
	"triptimer/internal/delivery"
	"triptimer/internal/metadata"
	"triptimer/internal/storage"
	"triptimer/internal/task/engine"
	"triptimer/internal/task/scheduler"
	"triptimer/internal/trips"
	logx "triptimer/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	path := cfg.Storage.Path
	if path == "" {
		path = "./triptimer.db"
	}
	return storage.Config{Driver: cfg.Storage.Driver, Path: path, BusyTimeout: busy}, nil
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	timeout, err := config.ParseDurationField("task_engine.default_timeout", cfg.TaskEngine.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	// zero values are filled in by the engine
	return engine.Config{
		Workers:        cfg.TaskEngine.Workers,
		QueueSize:      cfg.TaskEngine.QueueSize,
		DefaultTimeout: timeout,
		HistorySize:    cfg.TaskEngine.HistorySize,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	lead, err := cfg.Scheduler.LeadDuration()
	if err != nil {
		return scheduler.Config{}, err
	}
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{Lead: lead, Location: loc}, nil
}

func mapWebPushConfig(cfg *config.Config) (delivery.WebPushConfig, error) {
	wp := cfg.Delivery.WebPush
	timeout, err := config.ParseDurationField("delivery.webpush.timeout", wp.Timeout)
	if err != nil {
		return delivery.WebPushConfig{}, err
	}
	return delivery.WebPushConfig{
		Subscriber:      wp.Subscriber,
		VAPIDPublicKey:  wp.VAPIDPublicKey,
		VAPIDPrivateKey: wp.VAPIDPrivateKey,
		TTL:             wp.TTL,
		Timeout:         timeout,
		RatePerSec:      wp.RatePerSec,
		Icon:            wp.Icon,
		Badge:           wp.Badge,
	}, nil
}

func mapTelegramConfig(cfg *config.Config) (delivery.TelegramConfig, error) {
	tg := cfg.Delivery.Telegram
	timeout, err := config.ParseDurationField("delivery.telegram.timeout", tg.Timeout)
	if err != nil {
		return delivery.TelegramConfig{}, err
	}
	return delivery.TelegramConfig{Token: tg.Token, Timeout: timeout, RatePerSec: tg.RatePerSec}, nil
}

func mapMetadataConfig(cfg *config.Config, loc *time.Location) (metadata.Config, error) {
	timeout, err := config.ParseDurationField("metadata.timeout", cfg.Metadata.Timeout)
	if err != nil {
		return metadata.Config{}, err
	}
	return metadata.Config{BaseURL: cfg.Metadata.BaseURL, Timeout: timeout, Location: loc}, nil
}

func mapAdminConfig(cfg *config.Config) adminapi.Config {
	return adminapi.Config{Addr: cfg.Admin.Addr, CORSOrigins: cfg.Admin.CORSOrigins}
}

// buildRouter registers a sender for every enabled channel. Disabled
// channels stay unregistered so sends to them fail as transient.
func buildRouter(cfg *config.Config, log logx.Logger) (*delivery.Router, error) {
	r := delivery.NewRouter()
	if cfg.Delivery.WebPush.Enabled {
		wc, err := mapWebPushConfig(cfg)
		if err != nil {
			return nil, err
		}
		wp, err := delivery.NewWebPush(wc, log)
		if err != nil {
			return nil, fmt.Errorf("webpush: %w", err)
		}
		r.Register(trips.ChannelWebPush, wp)
	}
	if cfg.Delivery.Telegram.Enabled {
		tc, err := mapTelegramConfig(cfg)
		if err != nil {
			return nil, err
		}
		tg, err := delivery.NewTelegram(tc, log)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		r.Register(trips.ChannelTelegram, tg)
	}
	return r, nil
}

// validate is installed on the config manager so a bad hot reload is
// rejected before it is committed.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if cfg.Scheduler.Resync != "" {
		if _, err := scheduler.ParseResync(cfg.Scheduler.Resync); err != nil {
			return fmt.Errorf("scheduler.resync: %w", err)
		}
	}
	return nil
}
