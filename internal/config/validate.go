package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// Validate checks the fields that would otherwise fail late, at first use.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unsupported %q", cfg.Storage.Driver))
	}

	durations := []struct{ path, raw string }{
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"scheduler.lead", cfg.Scheduler.Lead},
		{"task_engine.default_timeout", cfg.TaskEngine.DefaultTimeout},
		{"delivery.webpush.timeout", cfg.Delivery.WebPush.Timeout},
		{"delivery.telegram.timeout", cfg.Delivery.Telegram.Timeout},
		{"metadata.timeout", cfg.Metadata.Timeout},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := cfg.Scheduler.Location(); err != nil {
		errs = append(errs, err)
	}

	if wp := cfg.Delivery.WebPush; wp.Enabled {
		if strings.TrimSpace(wp.VAPIDPublicKey) == "" || strings.TrimSpace(wp.VAPIDPrivateKey) == "" {
			errs = append(errs, errors.New("delivery.webpush: vapid keys are required when enabled"))
		}
		if strings.TrimSpace(wp.Subscriber) == "" {
			errs = append(errs, errors.New("delivery.webpush.subscriber: required when enabled"))
		}
	}
	if tg := cfg.Delivery.Telegram; tg.Enabled && strings.TrimSpace(tg.Token) == "" {
		errs = append(errs, errors.New("delivery.telegram.token: required when enabled"))
	}
	if cfg.TaskEngine.Workers < 0 || cfg.TaskEngine.QueueSize < 0 {
		errs = append(errs, errors.New("task_engine: workers and queue_size must be >= 0"))
	}
	return errors.Join(errs...)
}

// SummarizeChange lists the top-level sections that differ. Secrets are
// compared but never returned.
func SummarizeChange(oldCfg, newCfg *Config) []string {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var changed []string
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
	}
	if oldCfg.TaskEngine != newCfg.TaskEngine {
		changed = append(changed, "task_engine")
	}
	if oldCfg.Delivery != newCfg.Delivery {
		changed = append(changed, "delivery")
	}
	if oldCfg.Metadata != newCfg.Metadata {
		changed = append(changed, "metadata")
	}
	if !reflect.DeepEqual(oldCfg.Admin, newCfg.Admin) {
		changed = append(changed, "admin")
	}
	return changed
}
