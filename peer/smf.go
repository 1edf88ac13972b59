// Package peer simulates the network functions on the far side of each
// transport. A peer accepts a request and later notifies the callback
// address carried by it; nothing else about the session is modeled.
package peer

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/xid"
	log "github.com/sirupsen/logrus"

	"nothing.com/sessionbench/fixture"
	"nothing.com/sessionbench/models"
	"nothing.com/sessionbench/sbicli"
	"nothing.com/sessionbench/vrpc"
)

var ErrNoCallback = errors.New("request carries no callback address")

// notifyTimeout bounds a single callback post.
const notifyTimeout = 5 * time.Second

type ProblemDetails struct {
	Status int    `json:"status"`
	Cause  string `json:"cause"`
	Detail string `json:"detail,omitempty"`
}

// SMF creates SM contexts over vrpc and REST and posts a status
// notification to the requester after delay.
type SMF struct {
	notifier sbicli.Client
	delay    time.Duration
}

func NewSMF(notifier sbicli.Client, delay time.Duration) *SMF {
	return &SMF{notifier: notifier, delay: delay}
}

// CreateSmContext accepts req and schedules the notification.
func (s *SMF) CreateSmContext(ctx context.Context, req *fixture.Request) (*models.SmContextCreatedData, error) {
	if req == nil || req.SmContextStatusURI == "" {
		return nil, ErrNoCallback
	}
	ref := xid.New().String()
	go s.notify(ref, req.SmContextStatusURI)

	log.WithFields(log.Fields{"supi": req.Supi, "ref": ref}).Debug("sm context created")
	return &models.SmContextCreatedData{SmContextRef: ref, PduSessionID: req.PduSessionID}, nil
}

func (s *SMF) notify(ref, uri string) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	_, err := s.notifier.Post(ctx, uri, &models.StatusNotification{
		SmContextRef:   ref,
		ResourceStatus: models.ResourceStatusReady,
	})
	if err != nil {
		log.WithError(err).WithField("uri", uri).Warn("sm context status notification failed")
	}
}

// Register exposes CreateSmContext as a vrpc command. The request arrives
// in binary form.
func (s *SMF) Register(d vrpc.Dispatcher) {
	d.Register(models.CreateSmContextCmd, s.CreateSmContext)
}

// Router serves the REST flavour of CreateSmContext.
func (s *SMF) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.POST(models.SmContextsPath, s.postSmContexts)
	return r
}

func (s *SMF) postSmContexts(c *gin.Context) {
	req, err := fixture.ParseMultipart(c.GetHeader("Content-Type"), c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, &ProblemDetails{
			Status: http.StatusBadRequest,
			Cause:  "INVALID_MSG_FORMAT",
			Detail: err.Error(),
		})
		return
	}

	created, err := s.CreateSmContext(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, &ProblemDetails{
			Status: http.StatusBadRequest,
			Cause:  "MANDATORY_IE_MISSING",
			Detail: err.Error(),
		})
		return
	}

	c.Header("Location", models.SmContextsPath+"/"+created.SmContextRef)
	c.JSON(http.StatusCreated, created)
}
