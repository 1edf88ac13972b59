package sbicli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/mdlayher/vsock"
	log "github.com/sirupsen/logrus"
)

type client struct {
	Config       *Config
	mu           sync.RWMutex
	clients      []*http.Client
	clientsIdxCh chan int
}

// New builds a client pool. Requests with a relative path are sent to
// cfg.Origin; absolute URLs are used as given.
func New(cfg *Config) (Client, error) {
	cfg = cfg.setupDefaults()
	if !strings.HasPrefix(cfg.Origin, "http://") && !strings.HasPrefix(cfg.Origin, "https://") {
		return nil, fmt.Errorf("sbi origin [%s] is not an http url", cfg.Origin)
	}

	clients := make([]*http.Client, 0, cfg.CliCount)
	for range cfg.CliCount {
		clients = append(clients, newHttpClient(cfg))
	}

	clientsIdxCh := make(chan int, cfg.CliCount*cfg.MaxConnsPerCli)
	for i := range cfg.CliCount * cfg.MaxConnsPerCli {
		clientsIdxCh <- i % cfg.CliCount
	}

	return &client{
		Config:       cfg,
		clients:      clients,
		clientsIdxCh: clientsIdxCh,
	}, nil
}

func newHttpClient(cfg *Config) *http.Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
				if cfg.UseVsock {
					return vsock.Dial(cfg.CID, cfg.Port, &vsock.Config{})
				}
				d := net.Dialer{Timeout: cfg.Timeout}
				return d.DialContext(ctx, network, addr)
			}
		},
		MaxConnsPerHost:     cfg.MaxConnsPerCli,
		MaxIdleConns:        cfg.MaxConnsPerCli,
		MaxIdleConnsPerHost: cfg.MaxConnsPerCli,
		IdleConnTimeout:     cfg.Timeout,
		ForceAttemptHTTP2:   true,
	}

	log.WithField("origin", cfg.Origin).Debug("new http_client initialized")
	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
}

func (c *client) Origin() string {
	return c.Config.Origin
}

func (c *client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodHead, "/", "", nil)
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return nil
	}
	return err
}

func (c *client) Get(ctx context.Context, fullPath string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, fullPath, "", nil)
}

func (c *client) Post(ctx context.Context, fullPath string, payload any) ([]byte, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal req [%+v] failed [%w]", payload, err)
	}
	return c.do(ctx, http.MethodPost, fullPath, "application/json", buf)
}

func (c *client) PostRaw(ctx context.Context, fullPath string, contentType string, body []byte) ([]byte, error) {
	return c.do(ctx, http.MethodPost, fullPath, contentType, body)
}

func (c *client) do(ctx context.Context, method, fullPath, contentType string, body []byte) (buf []byte, err error) {
	i := <-c.clientsIdxCh
	defer func() {
		var statusErr *StatusError
		if err != nil && ctx.Err() == nil && !errors.As(err, &statusErr) {
			c.mu.Lock()
			c.clients[i] = newHttpClient(c.Config)
			c.mu.Unlock()
		}
		c.clientsIdxCh <- i
	}()
	c.mu.RLock()
	httpClient := c.clients[i]
	c.mu.RUnlock()

	uri := c.resolve(fullPath)
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, uri, reader)
	if err != nil {
		return nil, fmt.Errorf("sbi_client do %s to [%s] create request failed [%w]", method, uri, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sbi_client do %s to [%s] failed [%w]", method, uri, err)
	}
	defer func() { _ = resp.Body.Close() }()

	buf, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("sbi_client do %s to [%s] read response body failed [%w]", method, uri, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return buf, &StatusError{URI: uri, Code: resp.StatusCode, Body: buf}
	}
	return buf, nil
}

func (c *client) resolve(fullPath string) string {
	if strings.HasPrefix(fullPath, "http://") || strings.HasPrefix(fullPath, "https://") {
		return fullPath
	}
	return strings.TrimSuffix(c.Config.Origin, "/") + "/" + strings.TrimPrefix(fullPath, "/")
}
