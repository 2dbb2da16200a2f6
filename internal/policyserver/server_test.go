package policyserver

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/lerobot-rtc/policyserver/internal/action"
	"github.com/lerobot-rtc/policyserver/internal/config"
	"github.com/lerobot-rtc/policyserver/internal/inbox"
	"github.com/lerobot-rtc/policyserver/internal/pb"
	"github.com/lerobot-rtc/policyserver/internal/policy"
	"github.com/lerobot-rtc/policyserver/internal/rtcconfig"
	"github.com/lerobot-rtc/policyserver/internal/wire"
)

type stubModel struct {
	chunkSize int
	actionDim int
}

func (m *stubModel) EmbedPrefix(obs policy.Observation) (policy.PrefixCache, error) {
	return struct{}{}, nil
}
func (m *stubModel) DenoiseStep(cache policy.PrefixCache, xT action.Chunk, t float64) action.Chunk {
	out := make(action.Chunk, len(xT))
	for i := range out {
		out[i] = make(action.Action, len(xT[i]))
	}
	return out
}
func (m *stubModel) PredictActionChunk(obs policy.Observation) (action.Chunk, error) {
	out := make(action.Chunk, m.chunkSize)
	for i := range out {
		out[i] = make(action.Action, m.actionDim)
	}
	return out, nil
}
func (m *stubModel) ActionDim() int { return m.actionDim }
func (m *stubModel) NoiseDim() int  { return m.actionDim }
func (m *stubModel) ChunkSize() int { return m.chunkSize }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	registry := policy.NewRegistry(map[policy.Kind]policy.Factory{
		policy.KindACT: func(path, device string) (policy.Model, error) {
			return &stubModel{chunkSize: 5, actionDim: 2}, nil
		},
	})
	cfg := config.Default()
	cfg.ObsQueueTimeout = 200 * time.Millisecond
	return New(cfg, registry, nil, nil)
}

func policyConfigFrame(t *testing.T, kind policy.Kind, rtcEnabled bool) *pb.Frame {
	t.Helper()
	rtcCfg, err := rtcconfig.New(rtcEnabled, 2, 1.0, rtcconfig.ScheduleConst, false, 0, 5)
	require.NoError(t, err)

	pc := policy.RemotePolicyConfig{
		PolicyType:      kind,
		ActionsPerChunk: 5,
		LerobotFeatures: map[string]policy.FeatureSpec{
			"observation.state": {Shape: []int{2}, Kind: "state"},
		},
		RTCConfig: rtcCfg,
	}
	payload, err := wire.MarshalPolicyConfig(pc)
	require.NoError(t, err)
	frame := pb.Frame(payload)
	return &frame
}

func testObservation(timestep int64) inbox.TimedObservation {
	return inbox.TimedObservation{
		Timestep:  timestep,
		Timestamp: float64(timestep) / 30.0,
		Observation: policy.Observation{
			"observation.state": {Shape: []int{2}, Data: []float32{1, 2}},
		},
	}
}

type fakeObsStream struct {
	grpc.ServerStream
	chunks      [][]byte
	i           int
	closedFrame *pb.Frame
}

func (f *fakeObsStream) Context() context.Context { return context.Background() }

func (f *fakeObsStream) Recv() (*pb.Frame, error) {
	if f.i >= len(f.chunks) {
		return nil, io.EOF
	}
	c := f.chunks[f.i]
	f.i++
	fr := pb.Frame(c)
	return &fr, nil
}

func (f *fakeObsStream) SendAndClose(fr *pb.Frame) error {
	f.closedFrame = fr
	return nil
}

func TestGetActionsBeforeReadyReturnsEmpty(t *testing.T) {
	s := newTestServer(t)
	out, err := s.GetActions(context.Background(), &pb.Frame{})
	require.NoError(t, err)
	assert.Empty(t, *out)
}

func TestSendPolicyInstructionsRejectsUnsupportedKind(t *testing.T) {
	s := newTestServer(t)
	frame := policyConfigFrame(t, policy.KindPi0, false)
	_, err := s.SendPolicyInstructions(context.Background(), frame)
	require.Error(t, err)
	var unsupported *policy.UnsupportedPolicyError
	assert.ErrorAs(t, err, &unsupported)
}

func TestReadyIsIdempotentBeforeConfiguration(t *testing.T) {
	s := newTestServer(t)
	_, err := s.Ready(context.Background(), &pb.Frame{})
	require.NoError(t, err)
	_, err = s.Ready(context.Background(), &pb.Frame{})
	require.NoError(t, err)
	assert.Equal(t, StateUnconfigured, s.State())
}

func TestFullCycleWithoutRTCReturnsActions(t *testing.T) {
	s := newTestServer(t)

	_, err := s.SendPolicyInstructions(context.Background(), policyConfigFrame(t, policy.KindACT, false))
	require.NoError(t, err)
	assert.Equal(t, StateReady, s.State())

	obsPayload, err := wire.MarshalObservation(testObservation(0))
	require.NoError(t, err)

	stream := &fakeObsStream{chunks: [][]byte{obsPayload}}
	require.NoError(t, s.SendObservations(stream))
	require.NotNil(t, stream.closedFrame)

	out, err := s.GetActions(context.Background(), &pb.Frame{})
	require.NoError(t, err)
	require.NotEmpty(t, *out)

	actions, err := wire.UnmarshalActions(*out)
	require.NoError(t, err)
	assert.Len(t, actions, 5)
}

func TestGetActionsTimesOutWithNoObservation(t *testing.T) {
	s := newTestServer(t)
	_, err := s.SendPolicyInstructions(context.Background(), policyConfigFrame(t, policy.KindACT, false))
	require.NoError(t, err)

	out, err := s.GetActions(context.Background(), &pb.Frame{})
	require.NoError(t, err)
	assert.Empty(t, *out)
}
