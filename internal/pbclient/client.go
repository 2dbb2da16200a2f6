// Package pbclient is a thin dialer for the AsyncInference service.
// No other package in this module imports it, and no test in this
// module exercises it.
package pbclient

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/lerobot-rtc/policyserver/internal/pb"
)

// Client wraps a gRPC connection to an AsyncInference server. Uses
// insecure (plaintext) transport — the server is expected to run
// on localhost or behind a trusted sidecar mesh, same as the robot's
// on-policy client in the original system.
type Client struct {
	conn *grpc.ClientConn
	rpc  pb.AsyncInferenceClient
}

// Dial connects to addr and wraps it as an AsyncInference client.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("pbclient: dial %s: %w", addr, err)
	}
	return &Client{conn: conn, rpc: pb.NewAsyncInferenceClient(conn)}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Ready calls the Ready RPC, used as a liveness probe.
func (c *Client) Ready(ctx context.Context) error {
	_, err := c.rpc.Ready(ctx, &pb.Frame{})
	return err
}

// SendPolicyInstructions sends an already-framed RemotePolicyConfig
// payload.
func (c *Client) SendPolicyInstructions(ctx context.Context, payload []byte) error {
	frame := pb.Frame(payload)
	_, err := c.rpc.SendPolicyInstructions(ctx, &frame)
	return err
}

// SendObservation streams an already-framed TimedObservation payload
// in fixed-size chunks, mirroring the robot client's chunked upload.
func (c *Client) SendObservation(ctx context.Context, payload []byte, chunkSize int) error {
	if chunkSize <= 0 {
		chunkSize = 4096
	}
	stream, err := c.rpc.SendObservations(ctx)
	if err != nil {
		return fmt.Errorf("pbclient: open observation stream: %w", err)
	}
	for offset := 0; offset < len(payload); offset += chunkSize {
		end := offset + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		chunk := pb.Frame(payload[offset:end])
		if err := stream.Send(&chunk); err != nil {
			return fmt.Errorf("pbclient: send observation chunk: %w", err)
		}
	}
	_, err = stream.CloseAndRecv()
	return err
}

// GetActions calls the GetActions RPC and returns the raw framed
// payload (empty when the server had nothing to offer).
func (c *Client) GetActions(ctx context.Context) ([]byte, error) {
	out, err := c.rpc.GetActions(ctx, &pb.Frame{})
	if err != nil {
		return nil, err
	}
	return []byte(*out), nil
}
