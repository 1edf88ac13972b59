package vrpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/mdlayher/vsock"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
)

type Server interface {
	// Listen binds the port without serving, so bind errors surface before
	// the caller moves on.
	Listen() error
	// Serve blocks until Close is called or the listener fails.
	Serve() error
	Addr() net.Addr
	Close()
}

func NewServer(port uint32, dispatcher Dispatcher, isVsock bool) Server {
	return &server{
		Port:       port,
		IsVsock:    isVsock,
		Dispatcher: dispatcher,
	}
}

type server struct {
	Port       uint32
	IsVsock    bool
	Dispatcher Dispatcher
	grpcServer *grpc.Server
	lis        net.Listener
}

func (s *server) Listen() error {
	s.grpcServer = grpc.NewServer(
		// NOTE: it is well tuned for current use case
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    1 * time.Minute,
			Timeout: 5 * time.Second,
		}),
		// NOTE: it is well tuned for current use case
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             1 * time.Minute,
			PermitWithoutStream: true,
		}),
	)
	s.grpcServer.RegisterService(&serviceDesc, s)

	var err error
	if s.IsVsock {
		s.lis, err = vsock.Listen(s.Port, nil)
	} else {
		s.lis, err = net.Listen("tcp", fmt.Sprintf(":%d", s.Port))
	}
	if err != nil {
		return fmt.Errorf("listen to network err: %w", err)
	}
	return nil
}

func (s *server) Serve() error {
	if s.lis == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	log.WithField("addr", s.lis.Addr().String()).Info("vrpc server serving")
	if err := s.grpcServer.Serve(s.lis); err != nil {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

func (s *server) Addr() net.Addr {
	if s.lis == nil {
		return nil
	}
	return s.lis.Addr()
}

func (s *server) Close() {
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
}

func (s *server) Invoke(ctx context.Context, req *Request) (*Response, error) {
	code, message, payload := s.Dispatcher.Dispatch(ctx, req.Command, req.Payload)
	log.WithField("cmd", req.Command).WithField("code", code).Debug("do_req")
	return &Response{
		Code:    code,
		Message: message,
		Payload: payload,
	}, nil
}
