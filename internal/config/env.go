package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvDBPath          = "TRIPTIMER_DB_PATH"
	EnvVAPIDPublicKey  = "TRIPTIMER_VAPID_PUBLIC_KEY"
	EnvVAPIDPrivateKey = "TRIPTIMER_VAPID_PRIVATE_KEY"
	EnvTelegramToken   = "TRIPTIMER_TELEGRAM_TOKEN"
	EnvAdminAddr       = "TRIPTIMER_ADMIN_ADDR"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files (default ".env") into
// the process environment. Missing files are ignored; existing variables win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// applyEnv overlays secrets and deployment specific values from the
// environment so they don't have to live in the config file.
func applyEnv(cfg *Config) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Storage.Path, EnvDBPath)
	set(&cfg.Delivery.WebPush.VAPIDPublicKey, EnvVAPIDPublicKey)
	set(&cfg.Delivery.WebPush.VAPIDPrivateKey, EnvVAPIDPrivateKey)
	set(&cfg.Delivery.Telegram.Token, EnvTelegramToken)
	set(&cfg.Admin.Addr, EnvAdminAddr)
}
