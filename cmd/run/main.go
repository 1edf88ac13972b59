package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/xid"
	"github.com/shirou/gopsutil/cpu"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"nothing.com/sessionbench"
	"nothing.com/sessionbench/broker"
	"nothing.com/sessionbench/fixture"
	"nothing.com/sessionbench/internal/cli"
	"nothing.com/sessionbench/listener"
	"nothing.com/sessionbench/models"
	"nothing.com/sessionbench/rendezvous"
	"nothing.com/sessionbench/sbicli"
	"nothing.com/sessionbench/transport"
	"nothing.com/sessionbench/vrpc"
)

const connectTimeout = 5 * time.Second

type config struct {
	transport  string
	iterations int
	listen     string
	callback   string

	smfGrpc         string
	vsockCID        uint32
	vsockPort       uint32
	smfOrigin       string
	nrfOrigin       string
	followDiscovery bool

	kafkaBrokers      string
	mqttBroker        string
	natsURL           string
	registrationTopic string
	callbackTopic     string

	warmUp      time.Duration
	spin        bool
	waitTimeout time.Duration
	maxRetries  int
	backoff     time.Duration
	maxBackoff  time.Duration
}

// setupDefaults fills the per-transport topic names.
func (cfg *config) setupDefaults() {
	if cfg.registrationTopic == "" {
		switch cfg.transport {
		case transport.Kafka:
			cfg.registrationTopic = "smf-registration"
		case transport.MQTT:
			cfg.registrationTopic = "smf/registration"
		}
	}
	if cfg.callbackTopic == "" {
		switch cfg.transport {
		case transport.Kafka:
			cfg.callbackTopic = "amf-termination"
		case transport.MQTT:
			cfg.callbackTopic = "amf/termination"
		case transport.NATS:
			cfg.callbackTopic = "amf.callback.termination"
		}
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Measure session establishment latency over one transport.",
		Long: `Issues the same session establishment request over the selected transport ` +
			`and prints one <event>,<transport>,<ns>,ns line per completed round trip.`,
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return cli.BindEnv(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg.setupDefaults()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.transport, "transport", transport.GRPC, "one of "+strings.Join(transport.Names(), ", "))
	f.IntVar(&cfg.iterations, "iterations", 1000, "number of samples to print")
	f.StringVar(&cfg.listen, "listen", "127.0.0.1:8001", "callback listener address for grpc and rest")
	f.StringVar(&cfg.callback, "callback", "", "callback URI advertised to the peer, derived from --listen when empty")

	f.StringVar(&cfg.smfGrpc, "smf-grpc", "127.0.0.1:50001", "SMF vrpc address")
	f.Uint32Var(&cfg.vsockCID, "vsock-cid", 0, "dial the SMF over vsock at this CID instead of TCP")
	f.Uint32Var(&cfg.vsockPort, "vsock-port", 50001, "SMF vsock port")
	f.StringVar(&cfg.smfOrigin, "smf-origin", "http://127.0.0.1:8000", "SMF REST origin")
	f.StringVar(&cfg.nrfOrigin, "nrf-origin", "http://127.0.0.1:8002", "NRF REST origin")
	f.BoolVar(&cfg.followDiscovery, "follow-discovery", false, "create the context on the discovered SMF")

	f.StringVar(&cfg.kafkaBrokers, "kafka-brokers", "127.0.0.1:9092", "comma separated broker list")
	f.StringVar(&cfg.mqttBroker, "mqtt-broker", "tcp://127.0.0.1:1883", "MQTT broker URL")
	f.StringVar(&cfg.natsURL, "nats-url", "nats://127.0.0.1:4222", "overlay server URL")
	f.StringVar(&cfg.registrationTopic, "registration-topic", "", "topic the PCF consumes registrations from")
	f.StringVar(&cfg.callbackTopic, "callback-topic", "", "topic or key the termination notification arrives on")

	f.DurationVar(&cfg.warmUp, "warmup", 2*time.Second, "delay between listener start and the first attempt")
	f.BoolVar(&cfg.spin, "spin", false, "busy-spin on the rendezvous instead of blocking")
	f.DurationVar(&cfg.waitTimeout, "wait-timeout", 0, "give up on a notification after this long, 0 waits forever")
	f.IntVar(&cfg.maxRetries, "max-retries", 10, "consecutive failed attempts tolerated, negative for no limit")
	f.DurationVar(&cfg.backoff, "backoff", 10*time.Millisecond, "initial retry backoff")
	f.DurationVar(&cfg.maxBackoff, "max-backoff", time.Second, "retry backoff ceiling")
	return cmd
}

func main() {
	cli.Setup()
	cli.Exit(newRootCmd().Execute())
}

func run(ctx context.Context, cfg *config) error {
	logHost(cfg.spin)

	flag := rendezvous.New(cfg.spin)
	adapter, lis, req, err := setup(ctx, cfg, flag)
	if err != nil {
		return err
	}
	cli.OnExit(lis.Close, "listener")
	cli.OnExit(adapter.Close, "transport")

	b, err := sessionbench.NewBenchmark(&sessionbench.Config{
		Iterations:  cfg.iterations,
		WarmUp:      cfg.warmUp,
		WaitTimeout: cfg.waitTimeout,
		MaxRetries:  cfg.maxRetries,
		Backoff:     cfg.backoff,
		MaxBackoff:  cfg.maxBackoff,
	}, adapter, lis, flag, req, os.Stdout)
	if err != nil {
		return err
	}
	return b.Run(ctx)
}

func setup(ctx context.Context, cfg *config, flag rendezvous.Flag) (transport.Adapter, listener.Listener, *fixture.Request, error) {
	switch cfg.transport {
	case transport.GRPC, transport.REST:
		return setupHTTP(ctx, cfg, flag)
	case transport.Kafka:
		brokers := strings.Split(cfg.kafkaBrokers, ",")
		lis := listener.NewKafka(brokers, cfg.callbackTopic, flag)
		adapter := transport.NewKafka(broker.NewKafkaWriter(brokers), cfg.registrationTopic, broker.DefaultRetry)
		return adapter, lis, fixture.New(cfg.callbackTopic), nil
	case transport.MQTT:
		client, err := broker.ConnectMQTT(cfg.mqttBroker, "sessionbench-"+xid.New().String(), connectTimeout)
		if err != nil {
			return nil, nil, nil, err
		}
		lis := listener.NewMQTT(client, cfg.callbackTopic, flag)
		return transport.NewMQTT(client, cfg.registrationTopic), lis, fixture.New(cfg.callbackTopic), nil
	case transport.NATS:
		nc, err := broker.ConnectNATS(cfg.natsURL, "sessionbench", connectTimeout)
		if err != nil {
			return nil, nil, nil, err
		}
		lis := listener.NewNATS(nc, cfg.callbackTopic, flag)
		return transport.NewNATS(nc, connectTimeout), lis, fixture.New(cfg.callbackTopic), nil
	}
	return nil, nil, nil, fmt.Errorf("%w: %q", transport.ErrUnknownTransport, cfg.transport)
}

// setupHTTP binds the callback listener first so a port 0 listen address
// still yields a usable callback URI.
func setupHTTP(ctx context.Context, cfg *config, flag rendezvous.Flag) (transport.Adapter, listener.Listener, *fixture.Request, error) {
	lis := listener.NewHTTP(cfg.listen, flag)
	if err := lis.Bind(); err != nil {
		return nil, nil, nil, err
	}
	callback := cfg.callback
	if callback == "" {
		callback = fmt.Sprintf("http://%s%s", lis.Addr(), models.CallbackPath)
	}
	req := fixture.New(callback)

	if cfg.transport == transport.GRPC {
		rpc, err := vrpc.NewClient(ctx, cfg.vsockCID, cfg.vsockPort, cfg.smfGrpc, cfg.vsockCID != 0, 4)
		if err != nil {
			_ = lis.Close()
			return nil, nil, nil, fmt.Errorf("connect smf [%s]: %w", cfg.smfGrpc, err)
		}
		return transport.NewGRPC(rpc), lis, req, nil
	}

	nrf, err := sbicli.New(&sbicli.Config{Origin: cfg.nrfOrigin})
	if err != nil {
		_ = lis.Close()
		return nil, nil, nil, err
	}
	smf, err := sbicli.New(&sbicli.Config{
		UseVsock: cfg.vsockCID != 0,
		CID:      cfg.vsockCID,
		Port:     cfg.vsockPort,
		Origin:   cfg.smfOrigin,
	})
	if err != nil {
		_ = lis.Close()
		return nil, nil, nil, err
	}
	adapter := transport.NewREST(nrf, smf, cfg.followDiscovery)
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := adapter.Ping(pingCtx); err != nil {
		_ = lis.Close()
		return nil, nil, nil, err
	}
	return adapter, lis, req, nil
}

func logHost(spin bool) {
	infos, err := cpu.Info()
	if err != nil || len(infos) == 0 {
		log.WithError(err).Debug("cpu info unavailable")
		return
	}
	logical, _ := cpu.Counts(true)
	entry := log.WithFields(log.Fields{
		"model":   infos[0].ModelName,
		"logical": logical,
		"spin":    spin,
	})
	if spin && logical < 2 {
		entry.Warn("spin wait on a single cpu competes with the listener")
		return
	}
	entry.Info("host")
}
