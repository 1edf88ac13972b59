package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/xid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"nothing.com/sessionbench/broker"
	"nothing.com/sessionbench/internal/cli"
	"nothing.com/sessionbench/peer"
)

type config struct {
	kafkaBrokers string
	kafkaTopic   string
	mqttBroker   string
	mqttTopic    string
	delay        time.Duration
	repeat       int
}

func newRootCmd() *cobra.Command {
	cfg := &config{}
	cmd := &cobra.Command{
		Use:          "pcf",
		Short:        "Simulated PCF answering registrations with termination notifications.",
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
	f.StringVar(&cfg.kafkaBrokers, "kafka-brokers", "", "comma separated broker list, empty to disable")
	f.StringVar(&cfg.kafkaTopic, "kafka-topic", "smf-registration", "registration topic on kafka")
	f.StringVar(&cfg.mqttBroker, "mqtt-broker", "", "MQTT broker URL, empty to disable")
	f.StringVar(&cfg.mqttTopic, "mqtt-topic", "smf/registration", "registration topic on MQTT")
	f.DurationVar(&cfg.delay, "notify-delay", 0, "delay before each notification")
	f.IntVar(&cfg.repeat, "repeat", 0, "notifications per registration, 0 for one, negative for unbounded")
	return cmd
}

func main() {
	cli.Setup()
	cli.Exit(newRootCmd().Execute())
}

func run(ctx context.Context, cfg *config) error {
	if cfg.kafkaBrokers == "" && cfg.mqttBroker == "" {
		return errors.New("nothing to serve: set --kafka-brokers or --mqtt-broker")
	}
	pcf := peer.NewPCF(cfg.delay, cfg.repeat)
	g, ctx := errgroup.WithContext(ctx)

	if cfg.kafkaBrokers != "" {
		brokers := strings.Split(cfg.kafkaBrokers, ",")
		if err := broker.PingKafka(ctx, brokers); err != nil {
			return err
		}
		w := broker.NewKafkaWriter(brokers)
		cli.OnExit(w.Close, "kafka writer")
		newReader := func() broker.KafkaReader {
			return broker.NewKafkaReader(brokers, cfg.kafkaTopic, "pcf")
		}
		g.Go(func() error {
			log.WithField("topic", cfg.kafkaTopic).Info("pcf consuming")
			return pcf.ServeKafka(ctx, newReader, w)
		})
	}

	if cfg.mqttBroker != "" {
		client, err := broker.ConnectMQTT(cfg.mqttBroker, "pcf-"+xid.New().String(), 5*time.Second)
		if err != nil {
			return err
		}
		cli.OnExit(func() error {
			client.Disconnect(250)
			return nil
		}, "mqtt client")
		g.Go(func() error {
			return pcf.ServeMQTT(ctx, client, cfg.mqttTopic)
		})
	}

	return g.Wait()
}
