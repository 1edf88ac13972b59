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

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"nothing.com/sessionbench/broker"
	"nothing.com/sessionbench/internal/cli"
	"nothing.com/sessionbench/peer"
	"nothing.com/sessionbench/sbicli"
	"nothing.com/sessionbench/vrpc"
)

const errorCode = 10005

type config struct {
	port            uint32
	isVsock         bool
	restAddr        string
	natsURL         string
	advertise       string
	notifyDelay     time.Duration
	dispatchTimeout time.Duration
}

func newRootCmd() *cobra.Command {
	cfg := &config{}
	cmd := &cobra.Command{
		Use:          "smf",
		Short:        "Simulated SMF answering CreateSmContext over vrpc, REST and the overlay.",
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
	f.Uint32Var(&cfg.port, "grpc-port", 50001, "vrpc port")
	f.BoolVar(&cfg.isVsock, "vsock", false, "serve vrpc over vsock")
	f.StringVar(&cfg.restAddr, "rest-addr", ":8000", "REST listen address, empty to disable")
	f.StringVar(&cfg.natsURL, "nats-url", "", "also serve discovery and creation on this overlay server")
	f.StringVar(&cfg.advertise, "advertise", "127.0.0.1:8000", "REST endpoint reported by overlay discovery")
	f.DurationVar(&cfg.notifyDelay, "notify-delay", 0, "delay before notifying the requester")
	f.DurationVar(&cfg.dispatchTimeout, "dispatch-timeout", time.Second, "vrpc handler timeout")
	return cmd
}

func main() {
	cli.Setup()
	cli.Exit(newRootCmd().Execute())
}

func run(ctx context.Context, cfg *config) error {
	notifier, err := sbicli.New(&sbicli.Config{})
	if err != nil {
		return err
	}
	smf := peer.NewSMF(notifier, cfg.notifyDelay)

	dp := vrpc.NewDispatcher(errorCode, cfg.dispatchTimeout)
	smf.Register(dp)

	log.WithFields(log.Fields{"port": cfg.port, "vsock": cfg.isVsock}).Info("smf starting")
	server := vrpc.NewServer(cfg.port, dp, cfg.isVsock)
	if err := server.Listen(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(server.Serve)
	g.Go(func() error {
		<-ctx.Done()
		server.Close()
		return nil
	})

	if cfg.restAddr != "" {
		srv := &http.Server{Addr: cfg.restAddr, Handler: smf.Router()}
		g.Go(func() error {
			log.WithField("addr", cfg.restAddr).Info("smf rest serving")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if cfg.natsURL != "" {
		overlay, err := startOverlay(cfg)
		if err != nil {
			server.Close()
			return err
		}
		cli.OnExit(overlay.Close, "overlay")
	}

	return g.Wait()
}

func startOverlay(cfg *config) (*peer.Overlay, error) {
	host, portStr, err := net.SplitHostPort(cfg.advertise)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}

	nc, err := broker.ConnectNATS(cfg.natsURL, "smf", 5*time.Second)
	if err != nil {
		return nil, err
	}
	overlay := peer.NewOverlay(nc, peer.NewNRF(peer.SMFProfile(host, port)), cfg.notifyDelay, 5*time.Second)
	if err := overlay.Start(); err != nil {
		nc.Close()
		return nil, err
	}
	log.WithField("url", cfg.natsURL).Info("smf overlay serving")
	return overlay, nil
}
