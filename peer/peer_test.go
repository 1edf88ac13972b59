package peer

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nats-io/nats.go"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nothing.com/sessionbench/broker"
	"nothing.com/sessionbench/broker/brokertest"
	"nothing.com/sessionbench/fixture"
	"nothing.com/sessionbench/models"
	"nothing.com/sessionbench/sbicli"
	"nothing.com/sessionbench/vrpc"
)

// callbackServer records the bodies posted to the AMF callback path.
func callbackServer(t *testing.T) (*httptest.Server, <-chan []byte) {
	ch := make(chan []byte, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.URL.Path == models.CallbackPath {
			ch <- body
		}
		_, _ = w.Write(models.MarshalAck())
	}))
	t.Cleanup(srv.Close)
	return srv, ch
}

func newSMF(t *testing.T) *SMF {
	notifier, err := sbicli.New(&sbicli.Config{Timeout: time.Second})
	require.NoError(t, err)
	return NewSMF(notifier, 0)
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("nothing received")
	}
	var zero T
	return zero
}

func TestSMFOverVrpc(t *testing.T) {
	cb, notified := callbackServer(t)
	d := vrpc.NewDispatcher(10005, time.Second)
	newSMF(t).Register(d)

	buf, err := fixture.New(cb.URL + models.CallbackPath).MarshalBinary()
	require.NoError(t, err)

	code, _, payload := d.Dispatch(context.Background(), models.CreateSmContextCmd, buf)
	require.Equal(t, uint32(0), code)
	assert.Contains(t, string(payload), `"smContextRef"`)

	body := receive(t, notified)
	assert.Contains(t, string(body), models.ResourceStatusReady)
}

func TestSMFRejectsMissingCallback(t *testing.T) {
	d := vrpc.NewDispatcher(10005, time.Second)
	newSMF(t).Register(d)

	buf, err := fixture.New("").MarshalBinary()
	require.NoError(t, err)

	code, message, _ := d.Dispatch(context.Background(), models.CreateSmContextCmd, buf)
	assert.Equal(t, uint32(10005), code)
	assert.Contains(t, message, ErrNoCallback.Error())
}

func TestSMFOverREST(t *testing.T) {
	cb, notified := callbackServer(t)
	srv := httptest.NewServer(newSMF(t).Router())
	defer srv.Close()

	t.Run("created", func(t *testing.T) {
		body, contentType, err := fixture.New(cb.URL + models.CallbackPath).Multipart()
		require.NoError(t, err)

		resp, err := http.Post(srv.URL+models.SmContextsPath, contentType, bytes.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Location"), models.SmContextsPath+"/")
		receive(t, notified)
	})

	t.Run("not multipart", func(t *testing.T) {
		resp, err := http.Post(srv.URL+models.SmContextsPath, "application/json", bytes.NewReader([]byte(`{}`)))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("no callback", func(t *testing.T) {
		body, contentType, err := fixture.New("").Multipart()
		require.NoError(t, err)
		resp, err := http.Post(srv.URL+models.SmContextsPath, contentType, bytes.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestNRFSearch(t *testing.T) {
	nrf := NewNRF(SMFProfile("10.0.0.1", 8000), models.NFProfile{NfInstanceID: "pcf", NfType: "PCF"})

	res := nrf.Search(models.NfTypeSMF, []string{models.ServiceNsmfPduSess})
	require.Len(t, res.NfInstances, 1)
	origin, ok := res.Origin(models.ServiceNsmfPduSess)
	assert.True(t, ok)
	assert.Equal(t, "http://10.0.0.1:8000", origin)

	assert.Empty(t, nrf.Search(models.NfTypeSMF, []string{"nsmf-event-exposure"}).NfInstances)
	assert.Len(t, nrf.Search("PCF", nil).NfInstances, 1)
	assert.NotNil(t, NewNRF().Search(models.NfTypeSMF, nil).NfInstances)
}

func TestNRFEcho(t *testing.T) {
	srv := httptest.NewServer(NewNRF(SMFProfile("10.0.0.1", 8000)).Echo())
	defer srv.Close()

	cli, err := sbicli.New(&sbicli.Config{Origin: srv.URL, Timeout: time.Second})
	require.NoError(t, err)

	query := models.DiscoveryQuery(models.NfTypeSMF, models.NfTypeAMF, models.ServiceNsmfPduSess)
	buf, err := cli.Get(context.Background(), models.DiscoveryPath+"?"+query)
	require.NoError(t, err)
	res, err := models.UnmarshalSearchResult(buf)
	require.NoError(t, err)
	assert.Len(t, res.NfInstances, 1)

	_, err = cli.Get(context.Background(), models.DiscoveryPath+"?target-nf-type=SMF")
	var status *sbicli.StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusBadRequest, status.Code)
}

func registration(t *testing.T, callback string) []byte {
	buf, err := models.NewRegistration(fixture.New(callback)).Marshal()
	require.NoError(t, err)
	return buf
}

func TestPCFKafka(t *testing.T) {
	bus := brokertest.NewKafkaBus()
	callback := bus.Reader("amf-termination")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- NewPCF(0, 2).ServeKafka(ctx, func() broker.KafkaReader { return bus.Reader("smf-registration") }, bus.Writer())
	}()
	require.Eventually(t, func() bool { return bus.ReadersCreated() == 2 }, time.Second, time.Millisecond)

	w := bus.Writer()
	require.NoError(t, w.WriteMessages(ctx, kafka.Message{Topic: "smf-registration", Value: []byte("junk")}))
	require.NoError(t, w.WriteMessages(ctx, kafka.Message{
		Topic: "smf-registration",
		Value: registration(t, "amf-termination"),
	}))

	for range 2 {
		m, err := callback.ReadMessage(ctx)
		require.NoError(t, err)
		assert.Contains(t, string(m.Value), models.CauseNormalRelease)
	}

	cancel()
	assert.NoError(t, receive(t, done))
}

func TestPCFMQTT(t *testing.T) {
	bus := brokertest.NewMQTTBus()
	c := bus.Client()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewPCF(0, 0).ServeMQTT(ctx, c, "smf/registration")
	}()
	require.Eventually(t, func() bool { return bus.Subscribers("smf/registration") == 1 }, time.Second, time.Millisecond)

	notified := make(chan []byte, 4)
	c.Subscribe("amf/termination", broker.QoS, func(_ mqtt.Client, m mqtt.Message) {
		notified <- m.Payload()
	}).Wait()

	c.Publish("smf/registration", broker.QoS, false, registration(t, "amf/termination")).Wait()
	assert.Contains(t, string(receive(t, notified)), fixture.New("").Supi)

	cancel()
	assert.NoError(t, receive(t, done))
	assert.Equal(t, 0, bus.Subscribers("smf/registration"))
	assert.Empty(t, notified, "one notification per registration")
}

func TestPCFUnboundedStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	count := 0
	publish := func(context.Context, string, []byte) error {
		count++
		if count == 5 {
			cancel()
		}
		return nil
	}

	reg, err := models.UnmarshalRegistration(registration(t, "amf-termination"))
	require.NoError(t, err)
	NewPCF(time.Millisecond, -1).terminate(ctx, reg, publish)
	assert.Equal(t, 5, count)
}

func TestOverlay(t *testing.T) {
	srv := natsserver.RunRandClientPortServer()
	defer srv.Shutdown()

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	o := NewOverlay(nc, NewNRF(SMFProfile("10.0.0.1", 8000)), 0, time.Second)
	require.NoError(t, o.Start())
	defer o.Close()

	notified := make(chan []byte, 1)
	_, err = nc.Subscribe("amf.callback.termination", func(m *nats.Msg) {
		notified <- m.Data
		_ = m.Respond(models.MarshalAck())
	})
	require.NoError(t, err)

	t.Run("discovery", func(t *testing.T) {
		query := models.DiscoveryQuery(models.NfTypeSMF, models.NfTypeAMF, models.ServiceNsmfPduSess)
		reply, err := nc.Request(models.DiscoverySubject, []byte(query), time.Second)
		require.NoError(t, err)
		res, err := models.UnmarshalSearchResult(reply.Data)
		require.NoError(t, err)
		assert.Len(t, res.NfInstances, 1)
	})

	t.Run("create then callback", func(t *testing.T) {
		buf, err := fixture.New("amf.callback.termination").MarshalBinary()
		require.NoError(t, err)
		reply, err := nc.Request(models.SmContextsSubject, buf, time.Second)
		require.NoError(t, err)

		ack, err := models.UnmarshalAck(reply.Data)
		require.NoError(t, err)
		assert.Equal(t, models.AckOK, *ack)
		assert.Contains(t, string(receive(t, notified)), models.CauseNormalRelease)
	})

	t.Run("malformed create", func(t *testing.T) {
		reply, err := nc.Request(models.SmContextsSubject, []byte{0xff}, time.Second)
		require.NoError(t, err)
		ack, err := models.UnmarshalAck(reply.Data)
		require.NoError(t, err)
		assert.NotEqual(t, models.AckOK, *ack)
	})
}
