// Package sbicli is a pooled HTTP client for service-based interface calls
// between network functions. Connections go over TCP, or over vsock when the
// peer runs inside an enclave.
package sbicli

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultCliCount       = 4
	defaultMaxConnsPerCli = 16
	defaultTimeoutSec     = 3 // default timeout for http client
	defaultOrigin         = "http://localhost:8000"
)

type Client interface {
	Get(ctx context.Context, fullPath string) ([]byte, error)
	Post(ctx context.Context, fullPath string, req any) ([]byte, error)
	// PostRaw sends body as is, for non-JSON content such as
	// multipart/related.
	PostRaw(ctx context.Context, fullPath string, contentType string, body []byte) ([]byte, error)
	// Ping reports whether the origin answers HTTP at all. Any status code
	// counts as reachable.
	Ping(ctx context.Context) error
	Origin() string
}

type Config struct {
	UseVsock       bool // dial CID:Port over vsock instead of TCP
	CID            uint32
	Port           uint32
	Origin         string
	CliCount       int // number of clients
	MaxConnsPerCli int // max connections per client
	Timeout        time.Duration
}

func (cfg *Config) setupDefaults() *Config {
	clone := &Config{}
	if cfg != nil {
		*clone = *cfg
	}
	if clone.Origin == "" {
		clone.Origin = defaultOrigin
	}
	if clone.CliCount == 0 {
		clone.CliCount = defaultCliCount
	}
	if clone.MaxConnsPerCli == 0 {
		clone.MaxConnsPerCli = defaultMaxConnsPerCli
	}
	if clone.Timeout == 0 {
		clone.Timeout = defaultTimeoutSec * time.Second
	}
	return clone
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URI  string
	Code int
	Body []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sbi request to [%s] got status %d: %s", e.URI, e.Code, e.Body)
}
