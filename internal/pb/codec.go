// Package pb hand-registers the AsyncInference gRPC service. No
// .proto stubs were retrieved with this pack, so the service is wired
// the same shape protoc-gen-go-grpc emits (ServiceDesc, typed
// client/server interfaces) but messages travel as opaque
// length-prefixed blobs (spec.md §6) via a custom grpc/encoding codec
// rather than generated protobuf structs — the same passthrough-codec
// extension point gRPC reverse proxies use.
package pb

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is the content-subtype negotiated for every call on this
// service.
const CodecName = "rtcbytes"

// Frame is the wire type: an opaque, already-framed payload produced
// by internal/transport or internal/wire.
type Frame []byte

type byteCodec struct{}

func (byteCodec) Marshal(v any) ([]byte, error) {
	switch f := v.(type) {
	case *Frame:
		return []byte(*f), nil
	case Frame:
		return []byte(f), nil
	default:
		return nil, fmt.Errorf("pb: byteCodec cannot marshal %T, want *pb.Frame", v)
	}
}

func (byteCodec) Unmarshal(data []byte, v any) error {
	f, ok := v.(*Frame)
	if !ok {
		return fmt.Errorf("pb: byteCodec cannot unmarshal into %T, want *pb.Frame", v)
	}
	*f = append(Frame(nil), data...)
	return nil
}

func (byteCodec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(byteCodec{})
}
