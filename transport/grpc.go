package transport

import (
	"context"
	"fmt"

	"nothing.com/sessionbench/fixture"
	"nothing.com/sessionbench/models"
	"nothing.com/sessionbench/vrpc"
)

// GRPCAdapter sends the request as one unary vrpc call to a session
// management peer connected at startup.
type GRPCAdapter struct {
	cli vrpc.Client
}

func NewGRPC(cli vrpc.Client) *GRPCAdapter {
	return &GRPCAdapter{cli: cli}
}

func (g *GRPCAdapter) Name() string {
	return GRPC
}

func (g *GRPCAdapter) Attempt(ctx context.Context, req *fixture.Request) error {
	buf, err := req.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	resp, err := g.cli.Invoke(ctx, models.CreateSmContextCmd, buf)
	if err != nil {
		return fmt.Errorf("invoke %s: %w", models.CreateSmContextCmd, err)
	}
	if resp.Code != 0 {
		return &RejectedError{Transport: GRPC, Code: resp.Code, Message: resp.Message}
	}
	return nil
}

func (g *GRPCAdapter) Close() error {
	g.cli.Close()
	return nil
}
