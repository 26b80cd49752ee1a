package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/urfave/cli"

	"triptimer/internal/app"
	"triptimer/internal/config"
	logx "triptimer/pkg/logx"
)

var (
	version  = "dev"
	cfgPath  string
	envFiles cli.StringSlice
)

var globalFlags = []cli.Flag{
	cli.StringFlag{
		Name:        "config, c",
		Usage:       "path to the config file (json or yaml)",
		EnvVar:      "TRIPTIMER_CONFIG",
		Value:       "./config.yaml",
		Destination: &cfgPath,
	},
	cli.StringSliceFlag{
		Name:  "env-file",
		Usage: "dotenv file(s) loaded before the config (default: .env)",
		Value: &envFiles,
	},
}

func main() {
	a := cli.App{
		Name:     "triptimer",
		Usage:    "durable departure reminders and trip metadata refresh",
		Version:  version,
		Flags:    globalFlags,
		Before:   loadEnv,
		Commands: []cli.Command{
			{
				Name:   "serve",
				Usage:  "run the scheduler until SIGINT/SIGTERM",
				Action: serve,
			},
			{
				Name:   "pending",
				Usage:  "print pending jobs as json",
				Action: pending,
			},
			{
				Name:      "run-now",
				Usage:     "refresh a subject, or notify one target, immediately",
				ArgsUsage: "<subject-id> [target-id]",
				Action:    runNow,
			},
		},
		Action: serve,
	}
	if err := a.Run(os.Args); err != nil {
		logx.NewConsole("info").Error("triptimer exited", logx.Err(err))
		os.Exit(1)
	}
}

func loadEnv(*cli.Context) error {
	return config.LoadDotEnv(envFiles...)
}

func serve(*cli.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.NewApp(ctx, cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	var reason app.StopReason
	select {
	case sig := <-sigCh:
		reason = app.StopSIGTERM
		if sig == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	return a.Err()
}

// withApp builds the app for a one-shot command without starting it.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	a, err := app.NewApp(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func pending(*cli.Context) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		list, err := a.Scheduler().ListPendingJobs(ctx)
		if err != nil {
			return err
		}
		return printJSON(list)
	})
}

func runNow(c *cli.Context) error {
	subject := c.Args().Get(0)
	if subject == "" {
		return cli.NewExitError("run-now: subject id is required", 2)
	}
	target := c.Args().Get(1)
	return withApp(func(ctx context.Context, a *app.App) error {
		res, err := a.Scheduler().RunNow(ctx, subject, target)
		if err != nil {
			return err
		}
		return printJSON(res)
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
