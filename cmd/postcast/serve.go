package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"postcast/internal/app"
	"postcast/pkg/logx"
	"postcast/pkg/systemd"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon: HTTP API, login refresh and config hot reload",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		if err := a.Start(ctx); err != nil {
			a.Close()
			return err
		}
		log := a.Logger()
		if _, err := systemd.Ready(); err != nil {
			log.Warn("sd_notify ready failed", logx.Err(err))
		}
		a.Supervisor().Go("systemd.watchdog", systemd.Watchdog)

		reason := app.StopUnknown
		select {
		case <-ctx.Done():
			reason = app.StopSIGTERM
		case <-a.Done():
			reason = app.StopFatalError
		}
		_, _ = systemd.Stopping()

		stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		fatal := a.Err()
		_ = a.Stop(stopCtx, reason)
		if reason == app.StopFatalError {
			return fatal
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
