// Package transport reassembles byte-chunked RPC payloads and frames
// the server's opaque wire blobs (spec.md §4.9, C9).
package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
)

// ErrShutdown is returned by ReceiveChunks when the shutdown signal
// fires before the stream completes (spec.md §5 cancellation).
var ErrShutdown = errors.New("transport: shutdown signalled mid-stream")

// ChunkReceiver is the minimal surface ReceiveChunks needs from a
// gRPC client-streaming server call.
type ChunkReceiver interface {
	Recv() ([]byte, error)
}

// ReceiveChunks reassembles a sequence of byte chunks into a single
// payload, returning early if ctx is cancelled (mirrors
// receive_bytes_in_chunks in the original policy server).
func ReceiveChunks(ctx context.Context, stream ChunkReceiver) ([]byte, error) {
	var buf bytes.Buffer
	for {
		select {
		case <-ctx.Done():
			return nil, ErrShutdown
		default:
		}

		chunk, err := stream.Recv()
		if err != nil {
			if errors.Is(err, errStreamEOF) {
				return buf.Bytes(), nil
			}
			return nil, err
		}
		if chunk == nil {
			return buf.Bytes(), nil
		}
		buf.Write(chunk)
	}
}

// errStreamEOF is the sentinel a ChunkReceiver implementation returns
// to signal a clean end of stream; defined here (rather than imported
// from io) so callers can compare with errors.Is regardless of which
// concrete stream type they used.
var errStreamEOF = errors.New("transport: end of stream")

// ErrEOF is the exported form of the end-of-stream sentinel,
// for ChunkReceiver implementations.
var ErrEOF = errStreamEOF

// Encode frames v (any gob-encodable value) as a 4-byte big-endian
// length prefix followed by the gob payload. Framing length-prefixes
// is the concern called out in spec.md §4.9; gob itself is the
// standard-library serializer used here because the payload
// (observation tensor maps, RemotePolicyConfig) has no fixed schema
// suitable for codegen'd protobuf structs — see DESIGN.md.
func Encode(v any) ([]byte, error) {
	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(v); err != nil {
		return nil, fmt.Errorf("transport: encode: %w", err)
	}

	out := make([]byte, 4+body.Len())
	binary.BigEndian.PutUint32(out[:4], uint32(body.Len()))
	copy(out[4:], body.Bytes())
	return out, nil
}

// Decode reads a length-prefixed gob payload produced by Encode into v.
func Decode(data []byte, v any) error {
	if len(data) < 4 {
		return fmt.Errorf("transport: payload too short for length prefix")
	}
	n := binary.BigEndian.Uint32(data[:4])
	if int(n) > len(data)-4 {
		return fmt.Errorf("transport: declared length %d exceeds payload", n)
	}
	body := data[4 : 4+n]
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(v); err != nil {
		return fmt.Errorf("transport: decode: %w", err)
	}
	return nil
}
