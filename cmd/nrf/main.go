package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"nothing.com/sessionbench/internal/cli"
	"nothing.com/sessionbench/models"
	"nothing.com/sessionbench/peer"
)

type config struct {
	addr string
	smfs []string
}

func newRootCmd() *cobra.Command {
	cfg := &config{}
	cmd := &cobra.Command{
		Use:          "nrf",
		Short:        "Simulated NRF answering SMF discovery.",
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return cli.BindEnv(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.addr, "addr", ":8002", "listen address")
	f.StringSliceVar(&cfg.smfs, "smf", []string{"127.0.0.1:8000"}, "registered SMF REST endpoints, empty for none")
	return cmd
}

func main() {
	cli.Setup()
	cli.Exit(newRootCmd().Execute())
}

func run(ctx context.Context, cfg *config) error {
	profiles := make([]models.NFProfile, 0, len(cfg.smfs))
	for _, ep := range cfg.smfs {
		host, portStr, err := net.SplitHostPort(ep)
		if err != nil {
			return err
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return err
		}
		profiles = append(profiles, peer.SMFProfile(host, port))
	}

	e := peer.NewNRF(profiles...).Echo()
	e.HidePort = true
	e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Timeout: 60 * time.Second,
	}))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = e.Shutdown(shutdownCtx)
	}()

	log.WithFields(log.Fields{"addr": cfg.addr, "smfs": len(profiles)}).Info("nrf serving")
	if err := e.Start(cfg.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
