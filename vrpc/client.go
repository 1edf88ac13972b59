package vrpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mdlayher/vsock"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

type Client interface {
	Invoke(ctx context.Context, cmd string, payload []byte) (resp *Response, err error)
	Close()
}

// dialTimeout bounds how long a new connection may take to become ready.
const dialTimeout = 5 * time.Second

// NewClient opens size connections to addr (or to the vsock cid:port when
// isVsock is set) and spreads calls over them round robin. It fails unless
// every connection is ready, so an unreachable peer is reported here and not
// on the first Invoke.
func NewClient(ctx context.Context, cid uint32, port uint32, addr string, isVsock bool, size int) (Client, error) {
	if size < 1 {
		size = 1
	}
	pool := &clientPool{
		CID:     cid,
		Port:    port,
		Addr:    addr,
		IsVsock: isVsock,
		closed:  make(chan bool),
	}
	for range size {
		cli, err := newCli(ctx, cid, port, addr, isVsock)
		if err != nil {
			pool.Close()
			return nil, err
		}
		pool.clients = append(pool.clients, cli)
	}
	return pool, nil
}

type client struct {
	conn *grpc.ClientConn
}

func newCli(ctx context.Context, cid uint32, port uint32, addr string, isVsock bool) (*client, error) {
	dialer := netDialer(addr)
	if isVsock {
		dialer = vsockDialer(cid, port)
	}
	conn, err := grpc.NewClient(
		"passthrough:///"+addr,
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                2 * time.Minute, // NOTE: well tuned for current use case
			Timeout:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("new vrpc client to [%s]: %w", addr, err)
	}
	// connect eagerly so the first Invoke does not pay for the handshake
	conn.Connect()
	if err := waitReady(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("connect vrpc peer [%s]: %w", addr, err)
	}
	return &client{conn: conn}, nil
}

// waitReady blocks until conn is ready. A transient failure is final here:
// grpc would keep redialing in the background, hiding a wrong address.
func waitReady(ctx context.Context, conn *grpc.ClientConn) error {
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.TransientFailure, connectivity.Shutdown:
			return fmt.Errorf("connection is %s", state)
		}
		if !conn.WaitForStateChange(ctx, state) {
			return fmt.Errorf("connection still %s: %w", state, ctx.Err())
		}
	}
}

func (c *client) invoke(ctx context.Context, cmd string, payload []byte) (*Response, error) {
	resp := &Response{}
	if err := c.conn.Invoke(ctx, invokeMethod, &Request{Command: cmd, Payload: payload}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

type clientPool struct {
	CID     uint32
	Port    uint32
	Addr    string
	IsVsock bool

	mu      sync.RWMutex
	closed  chan bool
	clients []*client
	currIdx atomic.Uint64
}

func (cp *clientPool) Invoke(ctx context.Context, cmd string, payload []byte) (resp *Response, err error) {
	cliIdx, cli := cp.get()

	defer func() {
		if err == nil {
			return
		}

		log.WithError(err).WithField("cmd", cmd).Error("invoke cmd failed")
		select {
		case <-cp.closed:
			log.Printf("client pool is closed")
		default:
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return
			}

			log.Printf("recreating client due to error: %v", err)
			newCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			newCli, cerr := newCli(newCtx, cp.CID, cp.Port, cp.Addr, cp.IsVsock)
			if cerr != nil {
				log.Printf("recreate client failed: %v", cerr)
				return
			}
			cp.mu.Lock()
			cp.clients[cliIdx] = newCli
			cp.mu.Unlock()
			_ = cli.conn.Close()
		}
	}()

	return cli.invoke(ctx, cmd, payload)
}

func (cp *clientPool) Close() {
	close(cp.closed)
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	for _, cli := range cp.clients {
		if cli != nil {
			if err := cli.conn.Close(); err != nil {
				log.Printf("close conn failed: %v", err)
			}
		}
	}
}

func (cp *clientPool) get() (int, *client) {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	idx := int(cp.currIdx.Add(1)-1) % len(cp.clients)
	return idx, cp.clients[idx]
}

func vsockDialer(cid uint32, port uint32) func(context.Context, string) (net.Conn, error) {
	return func(ctx context.Context, addr string) (net.Conn, error) {
		return vsock.Dial(cid, port, nil)
	}
}

func netDialer(addr string) func(context.Context, string) (net.Conn, error) {
	return func(ctx context.Context, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
}
