// Package policyserver implements the four-RPC Server (spec.md §4.7,
// C7): Ready, SendPolicyInstructions, SendObservations, GetActions. It
// owns the inbox and the single in-flight inference slot and enforces
// bounded tail latency on GetActions.
package policyserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/lerobot-rtc/policyserver/internal/actionqueue"
	"github.com/lerobot-rtc/policyserver/internal/config"
	"github.com/lerobot-rtc/policyserver/internal/engine"
	"github.com/lerobot-rtc/policyserver/internal/fpstracker"
	"github.com/lerobot-rtc/policyserver/internal/inbox"
	"github.com/lerobot-rtc/policyserver/internal/pb"
	"github.com/lerobot-rtc/policyserver/internal/policy"
	"github.com/lerobot-rtc/policyserver/internal/rtc"
	"github.com/lerobot-rtc/policyserver/internal/transport"
	"github.com/lerobot-rtc/policyserver/internal/wire"
)

// State is the server's coarse lifecycle state (spec.md §4.7).
type State string

// Server states.
const (
	StateUnconfigured State = "unconfigured"
	StateReady        State = "ready"
	StateTerminated   State = "terminated"
)

// TelemetrySink receives one record per completed inference cycle; it
// must never block the RPC path (spec.md §7 "telemetry write failures
// ... never propagate").
type TelemetrySink interface {
	Record(ctx context.Context, rec TelemetryRecord)
}

// MetricsSink receives FPS/latency snapshots as observations arrive.
type MetricsSink interface {
	ObserveFPS(m fpstracker.Metrics)
}

// DebugSink receives live RTC guidance samples as they are produced,
// bridging the denoise loop to the debug websocket feed (spec.md §6
// "GET /debug/rtc").
type DebugSink interface {
	Publish(s rtc.DebugSample)
}

// TelemetryRecord is one inference cycle's observability data.
type TelemetryRecord struct {
	Timestep     int64
	RealDelay    int
	InferenceMS  float64
	LeftoverLen  int
	ChunkSize    int
	GuidanceNorm float64
}

// Server implements pb.AsyncInferenceServer.
type Server struct {
	cfg       config.Config
	registry  *policy.Registry
	sink      TelemetrySink
	metrics   MetricsSink
	debugSink DebugSink
	logger    *slog.Logger

	mu    sync.RWMutex
	state State

	inbox *inbox.Inbox
	fps   *fpstracker.Tracker

	queue     *actionqueue.Queue
	rtcProc   *rtc.Processor
	eng       *engine.Engine
	policyCfg policy.RemotePolicyConfig

	shutdownMu sync.Mutex
	shutdownCh chan struct{}

	inferenceSem *semaphore.Weighted
}

// New creates a Server in the Unconfigured state.
func New(cfg config.Config, registry *policy.Registry, sink TelemetrySink, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:          cfg,
		registry:     registry,
		sink:         sink,
		logger:       logger,
		state:        StateUnconfigured,
		fps:          fpstracker.New(cfg.FPS, 60),
		inferenceSem: semaphore.NewWeighted(1),
	}
	s.shutdownCh = make(chan struct{})
	return s
}

// SetMetricsSink wires a MetricsSink after construction, since the
// Prometheus registry and the server are built independently in
// cmd/policyserver.
func (s *Server) SetMetricsSink(sink MetricsSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = sink
}

// SetDebugSink wires a DebugSink after construction, mirroring
// SetMetricsSink; every RTC processor built afterwards by
// SendPolicyInstructions publishes its debug samples to it.
func (s *Server) SetDebugSink(sink DebugSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.debugSink = sink
}

// State returns the server's current lifecycle state.
func (s *Server) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Ready resets all state: clears the inbox, predicted_timesteps, and
// RTC queue; rebinds the shutdown signal (spec.md §4.7). Idempotent.
func (s *Server) Ready(ctx context.Context, in *pb.Frame) (*pb.Frame, error) {
	s.shutdownMu.Lock()
	close(s.shutdownCh)
	s.shutdownCh = make(chan struct{})
	s.shutdownMu.Unlock()

	s.mu.Lock()
	if s.inbox != nil {
		s.inbox.Reset()
	}
	if s.queue != nil {
		s.queue = actionqueue.New(s.policyCfg.RTCConfig.ExecutionHorizon)
		if s.eng != nil {
			// engine holds no queue reference itself; callers pass it
			// explicitly (spec.md §9), so nothing else to rebind here.
			_ = s.eng
		}
	}
	s.mu.Unlock()

	s.logger.Info("server reset to ready state")
	return emptyFrame()
}

// SendPolicyInstructions loads a model and constructs the processing
// pipeline from a serialized RemotePolicyConfig (spec.md §4.7).
func (s *Server) SendPolicyInstructions(ctx context.Context, in *pb.Frame) (*pb.Frame, error) {
	policyCfg, err := wire.UnmarshalPolicyConfig(*in)
	if err != nil {
		s.logger.Error("failed to deserialize policy instructions", "error", err)
		return nil, err
	}

	model, err := s.registry.Load(policyCfg.PolicyType, policyCfg.PretrainedNameOrPath, policyCfg.Device)
	if err != nil {
		s.logger.Error("failed to load policy", "policy_type", policyCfg.PolicyType, "error", err)
		return nil, err
	}

	langEps, proprioEps, pixelThresh := policy.DefaultSimilarity()
	if policyCfg.LanguageEpsilon > 0 {
		langEps = policyCfg.LanguageEpsilon
	}
	if policyCfg.ProprioEpsilon > 0 {
		proprioEps = policyCfg.ProprioEpsilon
	}
	if policyCfg.PixelMeanThreshold > 0 {
		pixelThresh = policyCfg.PixelMeanThreshold
	}

	newInbox := inbox.New(inbox.SimilarityParams{
		LanguageEps:        langEps,
		ProprioEps:         proprioEps,
		PixelMeanThreshold: pixelThresh,
	})

	pre := policy.NewPreprocessor(policyCfg.RenameMap, policyCfg.LerobotFeatures)
	post := policy.NewPostprocessor(nil, nil)

	var queue *actionqueue.Queue
	var rtcProc *rtc.Processor
	if policyCfg.RTCConfig.Enabled {
		queue = actionqueue.New(policyCfg.RTCConfig.ExecutionHorizon)
		rtcProc = rtc.New(policyCfg.RTCConfig)

		s.mu.RLock()
		debugSink := s.debugSink
		s.mu.RUnlock()
		if debugSink != nil {
			rtcProc.SetPublisher(debugSink.Publish)
		}
	}

	eng := &engine.Engine{
		Model:         model,
		Preprocessor:  pre,
		Postprocessor: post,
		RTC:           rtcProc,
		RTCConfig:     policyCfg.RTCConfig,
		EnvironmentDT: s.cfg.EnvironmentDT(),
		NumSteps:      defaultNumSteps,
		Clock:         engine.RealClock{},
		RNG:           rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}

	s.mu.Lock()
	s.policyCfg = policyCfg
	s.inbox = newInbox
	s.queue = queue
	s.rtcProc = rtcProc
	s.eng = eng
	s.state = StateReady
	s.mu.Unlock()

	s.logger.Info("policy instructions applied",
		"policy_type", policyCfg.PolicyType,
		"actions_per_chunk", policyCfg.ActionsPerChunk,
		"rtc_enabled", policyCfg.RTCConfig.Enabled)

	return emptyFrame()
}

const defaultNumSteps = 10

// SendObservations reassembles a chunked TimedObservation and attempts
// to enqueue it (spec.md §4.7).
func (s *Server) SendObservations(stream pb.AsyncInference_SendObservationsServer) error {
	shutdown := s.currentShutdownCh()

	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()
	go func() {
		select {
		case <-shutdown:
			cancel()
		case <-ctx.Done():
		}
	}()

	receiver := &frameChunkReceiver{stream: stream}
	payload, err := transport.ReceiveChunks(ctx, receiver)
	if err != nil {
		s.logger.Info("observation stream ended early", "error", err)
		return stream.SendAndClose(emptyFrameValue())
	}

	obs, err := wire.UnmarshalObservation(payload)
	if err != nil {
		s.logger.Error("failed to deserialize observation", "error", err)
		return stream.SendAndClose(emptyFrameValue())
	}

	now := float64(time.Now().UnixNano()) / 1e9
	metrics := s.fps.CalculateFPSMetrics(obs.Timestamp, now)
	s.logger.Debug("received observation",
		"timestep", obs.Timestep,
		"avg_fps", metrics.AvgFPS,
		"target_fps", metrics.TargetFPS,
		"one_way_latency_ms", metrics.OneWayLatency*1000)

	s.mu.RLock()
	ib := s.inbox
	metricsSink := s.metrics
	s.mu.RUnlock()

	if metricsSink != nil {
		metricsSink.ObserveFPS(metrics)
	}

	if ib == nil {
		s.logger.Info("observation received before SendPolicyInstructions; dropping")
		return stream.SendAndClose(emptyFrameValue())
	}

	if !ib.Put(inbox.TimedObservation{
		Timestep:    obs.Timestep,
		Timestamp:   obs.Timestamp,
		MustGo:      obs.MustGo,
		Observation: obs.Observation,
	}) {
		s.logger.Debug("observation filtered out", "timestep", obs.Timestep)
	}

	return stream.SendAndClose(emptyFrameValue())
}

// GetActions blocks up to obs_queue_timeout for an observation, runs
// the engine, and enforces the target tail latency (spec.md §4.7).
func (s *Server) GetActions(ctx context.Context, in *pb.Frame) (*pb.Frame, error) {
	callStart := time.Now()

	s.mu.RLock()
	state := s.state
	ib := s.inbox
	eng := s.eng
	queue := s.queue
	actionsPerChunk := s.policyCfg.ActionsPerChunk
	s.mu.RUnlock()

	if state != StateReady || ib == nil || eng == nil {
		s.logger.Info("GetActions called while server is not Ready")
		return emptyFrame()
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.ObsQueueTimeout)
	defer cancel()

	obs, err := ib.Get(waitCtx)
	if err != nil {
		if errors.Is(err, inbox.ErrEmpty) {
			return emptyFrame()
		}
		s.logger.Error("error waiting for observation", "error", err)
		return emptyFrame()
	}

	if !s.inferenceSem.TryAcquire(1) {
		s.logger.Info("inference already in flight; dropping observation", "timestep", obs.Timestep)
		return emptyFrame()
	}
	defer s.inferenceSem.Release(1)

	s.logger.Info("running inference", "timestep", obs.Timestep, "must_go", obs.MustGo)

	inferStart := time.Now()
	result, err := eng.PredictActionChunk(obs, queue, actionsPerChunk)
	inferenceTime := time.Since(inferStart)
	if err != nil {
		var stale *actionqueue.StaleInferenceError
		if errors.As(err, &stale) {
			s.logger.Warn("stale inference discarded", "timestep", obs.Timestep, "real_delay", stale.RealDelay)
		} else {
			s.logger.Error("inference error", "timestep", obs.Timestep, "error", err)
		}
		return emptyFrame()
	}

	payload, err := wire.MarshalActions(result.Actions)
	if err != nil {
		s.logger.Error("failed to serialize actions", "error", err)
		return emptyFrame()
	}

	s.recordTelemetry(ctx, obs, result, inferenceTime)

	elapsed := time.Since(callStart)
	if sleep := s.cfg.InferenceLatency - elapsed; sleep > 0 {
		time.Sleep(sleep)
	}

	frame := pb.Frame(payload)
	return &frame, nil
}

func (s *Server) recordTelemetry(ctx context.Context, obs inbox.TimedObservation, result engine.Result, inferenceTime time.Duration) {
	if s.sink == nil {
		return
	}
	leftoverLen := 0
	if s.queue != nil {
		leftoverLen = len(s.queue.GetLeftOver())
	}
	s.sink.Record(ctx, TelemetryRecord{
		Timestep:     obs.Timestep,
		RealDelay:    result.RealDelay,
		InferenceMS:  float64(inferenceTime.Microseconds()) / 1000.0,
		LeftoverLen:  leftoverLen,
		ChunkSize:    len(result.Actions),
		GuidanceNorm: result.GuidanceNorm,
	})
}

// Shutdown trips the shared shutdown flag, unblocking any inbox.Get
// and in-flight stream reassembly (spec.md §5).
func (s *Server) Shutdown() {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()
	select {
	case <-s.shutdownCh:
	default:
		close(s.shutdownCh)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.inbox != nil {
		s.inbox.Close()
	}
}

func (s *Server) currentShutdownCh() <-chan struct{} {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()
	return s.shutdownCh
}

func emptyFrame() (*pb.Frame, error) {
	f := emptyFrameValue()
	return f, nil
}

func emptyFrameValue() *pb.Frame {
	f := pb.Frame{}
	return &f
}

type frameChunkReceiver struct {
	stream pb.AsyncInference_SendObservationsServer
}

func (r *frameChunkReceiver) Recv() ([]byte, error) {
	f, err := r.stream.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, transport.ErrEOF
		}
		return nil, err
	}
	return []byte(*f), nil
}
