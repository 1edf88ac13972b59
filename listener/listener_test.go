package listener

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nothing.com/sessionbench/broker"
	"nothing.com/sessionbench/broker/brokertest"
	"nothing.com/sessionbench/models"
	"nothing.com/sessionbench/rendezvous"
)

func waitSet(t *testing.T, flag rendezvous.Flag) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, flag.Wait(ctx))
}

func TestHTTP(t *testing.T) {
	flag := rendezvous.NewSignal()
	l := NewHTTP("127.0.0.1:0", flag)
	require.NoError(t, l.Start(context.Background()))
	defer l.Close()

	base := fmt.Sprintf("http://%s", l.Addr().String())

	t.Run("notification sets the flag", func(t *testing.T) {
		resp, err := http.Post(base+models.CallbackPath, "application/json",
			strings.NewReader(`{"resourceStatus":"SESSION_READY"}`))
		require.NoError(t, err)
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `{"status":"ok"}`, string(body))
		waitSet(t, flag)
	})

	t.Run("payload is not validated", func(t *testing.T) {
		resp, err := http.Post(base+models.CallbackPrefix+"anything", "text/plain", strings.NewReader("garbage"))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		waitSet(t, flag)
	})

	t.Run("other paths are ignored", func(t *testing.T) {
		resp, err := http.Post(base+"/elsewhere", "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.False(t, flag.IsSet())
	})
}

func TestHTTPBindError(t *testing.T) {
	first := NewHTTP("127.0.0.1:0", rendezvous.NewSignal())
	require.NoError(t, first.Start(context.Background()))
	defer first.Close()

	second := NewHTTP(first.Addr().String(), rendezvous.NewSignal())
	assert.Error(t, second.Start(context.Background()))
}

func TestHTTPBindBeforeStart(t *testing.T) {
	flag := rendezvous.NewSignal()
	l := NewHTTP("127.0.0.1:0", flag)
	require.NoError(t, l.Bind())
	addr := l.Addr().String()

	require.NoError(t, l.Start(context.Background()))
	defer l.Close()
	assert.Equal(t, addr, l.Addr().String())

	resp, err := http.Post("http://"+addr+models.CallbackPath, "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	waitSet(t, flag)
}

func newTestKafka(bus *brokertest.KafkaBus, flag rendezvous.Setter) *Kafka {
	return &Kafka{
		topic: "amf-termination",
		flag:  flag,
		tail: func(ctx context.Context) (map[int]int64, error) {
			return bus.Tail(ctx, "amf-termination")
		},
		newReader: func(_ int, offset int64) broker.KafkaReader {
			return bus.ReaderAt("amf-termination", offset)
		},
		backoff: time.Millisecond,
	}
}

func writeTermination(t *testing.T, bus *brokertest.KafkaBus) {
	t.Helper()
	require.NoError(t, bus.Writer().WriteMessages(context.Background(),
		kafka.Message{Topic: "amf-termination", Value: []byte("x")}))
}

func TestKafka(t *testing.T) {
	bus := brokertest.NewKafkaBus()
	flag := rendezvous.NewSignal()
	l := newTestKafka(bus, flag)
	require.NoError(t, l.Start(context.Background()))
	defer l.Close()

	writeTermination(t, bus)
	waitSet(t, flag)
}

func TestKafkaSkipsEarlierRecords(t *testing.T) {
	bus := brokertest.NewKafkaBus()
	writeTermination(t, bus)

	flag := rendezvous.NewSignal()
	l := newTestKafka(bus, flag)
	require.NoError(t, l.Start(context.Background()))
	defer l.Close()

	require.Eventually(t, func() bool { return bus.ReadersCreated() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.False(t, flag.IsSet())
}

func TestKafkaSeesRecordsBeforeFirstFetch(t *testing.T) {
	bus := brokertest.NewKafkaBus()
	flag := rendezvous.NewSignal()
	l := newTestKafka(bus, flag)

	// the reader shows up only after the notification, as it does while a
	// real broker is still assigning partitions
	joined := make(chan struct{})
	newReader := l.newReader
	l.newReader = func(partition int, offset int64) broker.KafkaReader {
		<-joined
		return newReader(partition, offset)
	}

	require.NoError(t, l.Start(context.Background()))
	defer l.Close()

	writeTermination(t, bus)
	close(joined)
	waitSet(t, flag)
}

func TestKafkaResubscribesOnUnknownTopic(t *testing.T) {
	bus := brokertest.NewKafkaBus()
	bus.FailReads(kafka.UnknownTopicOrPartition)

	flag := rendezvous.NewSignal()
	l := newTestKafka(bus, flag)
	require.NoError(t, l.Start(context.Background()))
	defer l.Close()

	require.Eventually(t, func() bool { return bus.ReadersCreated() == 2 }, time.Second, time.Millisecond)
	assert.False(t, flag.IsSet(), "a failed poll must not count as a notification")

	writeTermination(t, bus)
	waitSet(t, flag)
}

func TestKafkaResumesAfterLastRecord(t *testing.T) {
	bus := brokertest.NewKafkaBus()
	flag := rendezvous.NewSignal()
	l := newTestKafka(bus, flag)
	require.NoError(t, l.Start(context.Background()))
	defer l.Close()

	writeTermination(t, bus)
	waitSet(t, flag)

	bus.FailReads(errors.New("connection reset"))
	require.Eventually(t, func() bool { return bus.ReadersCreated() == 2 }, time.Second, time.Millisecond)
	assert.False(t, flag.IsSet(), "the consumed record must not be delivered twice")

	writeTermination(t, bus)
	waitSet(t, flag)
}

func TestKafkaNoBroker(t *testing.T) {
	l := NewKafka(nil, "amf-termination", rendezvous.NewSignal())
	assert.Error(t, l.Start(context.Background()))
	assert.NoError(t, l.Close())
}

func TestMQTT(t *testing.T) {
	bus := brokertest.NewMQTTBus()
	flag := rendezvous.NewSignal()
	l := NewMQTT(bus.Client(), "amf/termination", flag)
	require.NoError(t, l.Start(context.Background()))
	assert.Equal(t, 1, bus.Subscribers("amf/termination"))

	bus.Client().Publish("amf/termination", broker.QoS, false, []byte("whatever"))
	waitSet(t, flag)

	require.NoError(t, l.Close())
	assert.Equal(t, 0, bus.Subscribers("amf/termination"))
}

func TestNATS(t *testing.T) {
	srv := natsserver.RunRandClientPortServer()
	defer srv.Shutdown()

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	flag := rendezvous.NewSignal()
	l := NewNATS(nc, "amf.callback.termination", flag)
	require.NoError(t, l.Start(context.Background()))
	defer l.Close()

	reply, err := nc.Request("amf.callback.termination", []byte("anything"), time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(reply.Data))
	waitSet(t, flag)
}
