package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	chunks [][]byte
	i      int
}

func (f *fakeStream) Recv() ([]byte, error) {
	if f.i >= len(f.chunks) {
		return nil, ErrEOF
	}
	c := f.chunks[f.i]
	f.i++
	return c, nil
}

func TestReceiveChunksReassembles(t *testing.T) {
	stream := &fakeStream{chunks: [][]byte{[]byte("hel"), []byte("lo "), []byte("world")}}
	out, err := ReceiveChunks(context.Background(), stream)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(out))
}

func TestReceiveChunksShutdownMidStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stream := &fakeStream{chunks: [][]byte{[]byte("a")}}
	_, err := ReceiveChunks(ctx, stream)
	assert.ErrorIs(t, err, ErrShutdown)
}

type wireType struct {
	Timestep int64
	Name     string
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := wireType{Timestep: 42, Name: "obs"}
	encoded, err := Encode(in)
	require.NoError(t, err)

	var out wireType
	require.NoError(t, Decode(encoded, &out))
	assert.Equal(t, in, out)
}

func TestDecodeRejectsShortPayload(t *testing.T) {
	var out wireType
	err := Decode([]byte{0, 0}, &out)
	assert.Error(t, err)
}
