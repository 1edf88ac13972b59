package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"nothing.com/sessionbench/models"
	"nothing.com/sessionbench/rendezvous"
	"nothing.com/sessionbench/sbicli"
)

// HTTP answers SM context status notifications for the gRPC and REST
// transports.
type HTTP struct {
	addr string
	flag rendezvous.Setter
	e    *echo.Echo
	lis  net.Listener
}

func NewHTTP(addr string, flag rendezvous.Setter) *HTTP {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = &sbicli.JsonIterSerializer{}

	h := &HTTP{addr: addr, flag: flag, e: e}
	e.POST(models.CallbackPrefix+"*", h.notify)
	return h
}

func (h *HTTP) notify(c echo.Context) error {
	h.flag.Set()
	return c.JSON(http.StatusOK, models.AckOK)
}

// Bind reserves the listening socket without serving, so the callback
// address is known before Start. Start binds on its own if needed.
func (h *HTTP) Bind() error {
	if h.lis != nil {
		return nil
	}
	lis, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("bind callback listener [%s]: %w", h.addr, err)
	}
	h.lis = lis
	h.e.Listener = lis
	return nil
}

func (h *HTTP) Start(ctx context.Context) error {
	if err := h.Bind(); err != nil {
		return err
	}

	go func() {
		if err := h.e.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("callback listener stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		_ = h.Close()
	}()

	log.WithField("addr", h.lis.Addr().String()).Info("callback listener started")
	return nil
}

// Addr is the bound address, useful when listening on port 0.
func (h *HTTP) Addr() net.Addr {
	if h.lis == nil {
		return nil
	}
	return h.lis.Addr()
}

func (h *HTTP) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return h.e.Shutdown(ctx)
}
