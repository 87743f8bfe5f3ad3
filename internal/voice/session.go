// Package voice implements voice mode: a per-session event loop that samples
// the microphone, detects speech, records utterances and runs each one through
// transcription, chat and speech synthesis without ever overlapping the
// user's turn with the agent's playback.
package voice

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chadiek/voice-mode/internal/metrics"
	"github.com/chadiek/voice-mode/internal/vad"
)

// Config tunes a session.
type Config struct {
	VAD            vad.Config
	FrameInterval  time.Duration
	AnalysisWindow int
	PreRoll        time.Duration
	MinUtterance   time.Duration
	Language       string
	MicEnabled     bool

	TranscribeTimeout time.Duration
	ChatTimeout       time.Duration
	SynthesizeTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		VAD:               vad.DefaultConfig(),
		FrameInterval:     16 * time.Millisecond,
		AnalysisWindow:    DefaultAnalysisWindow,
		PreRoll:           300 * time.Millisecond,
		Language:          "en",
		MicEnabled:        true,
		TranscribeTimeout: 30 * time.Second,
		ChatTimeout:       30 * time.Second,
		SynthesizeTimeout: 30 * time.Second,
	}
}

type Option func(*Session)

func WithLogger(l *zap.Logger) Option { return func(s *Session) { s.logger = l } }

func WithMetrics(m *metrics.Voice) Option { return func(s *Session) { s.metrics = m } }

// WithTransport sets the media relay left on Exit.
func WithTransport(t Transport) Option { return func(s *Session) { s.transport = t } }

func WithID(id string) Option { return func(s *Session) { s.id = id } }

// WithClock replaces the clock used for result timestamps.
func WithClock(now func() time.Time) Option { return func(s *Session) { s.now = now } }

// Session is one voice mode session. All turn-taking state is owned by the
// goroutine running Run; other goroutines talk to it through events.
type Session struct {
	id        string
	cfg       Config
	mic       *Exclusive
	deps      Collaborators
	transport Transport
	logger    *zap.Logger
	metrics   *metrics.Voice
	now       func() time.Time

	events   chan event
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
	running  atomic.Bool
	// ctx scopes device opens and capture readers; calls is never cancelled
	// so collaborator requests finish on their own timeouts.
	ctx    context.Context
	cancel context.CancelFunc
	calls  context.Context

	// Loop-owned state.
	phase          Phase
	micEnabled     bool
	detector       *vad.Detector
	sampler        *sampler
	recorder       *recorder
	capture        *capture
	captureGen     uint64
	captureCancel  context.CancelFunc
	opening        int  // opens in flight, stale ones included
	retryOpen      bool // reopen once the opens in flight settle
	openRetried    bool
	turn           uint64
	playback       Playback
	playbackID     uint64
	conversation   *Conversation
	volume         float64
	lastErr        error
	lastTranscript string

	statusMu sync.Mutex
	status   Status
	subs     map[int]chan Status
	nextSub  int
	ended    bool
}

// NewSession claims mic for a new session. It fails with ErrDeviceBusy while
// another session owns the microphone.
func NewSession(mic *Exclusive, deps Collaborators, cfg Config, opts ...Option) (*Session, error) {
	if mic == nil {
		return nil, errors.New("voice: microphone required")
	}
	if deps.Transcriber == nil || deps.Chat == nil || deps.Synthesizer == nil || deps.Player == nil {
		return nil, errors.New("voice: transcriber, chat, synthesizer and player are required")
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultConfig().FrameInterval
	}
	if !mic.claim() {
		return nil, ErrDeviceBusy
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:           uuid.NewString(),
		cfg:          cfg,
		mic:          mic,
		deps:         deps,
		logger:       zap.NewNop(),
		now:          time.Now,
		events:       make(chan event, 256),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
		calls:        context.Background(),
		micEnabled:   cfg.MicEnabled,
		detector:     vad.New(cfg.VAD),
		sampler:      newSampler(cfg.AnalysisWindow),
		recorder:     newRecorder(cfg.PreRoll),
		conversation: &Conversation{},
		subs:         make(map[int]chan Status),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With(zap.String("session_id", s.id))
	s.publish()
	return s, nil
}

func (s *Session) ID() string { return s.id }

// Conversation is the session's message history.
func (s *Session) Conversation() *Conversation { return s.conversation }

// Done is closed once Run has returned and the session released its resources.
func (s *Session) Done() <-chan struct{} { return s.done }

// Run drives the session until ctx is cancelled or Exit is called.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("voice: session already running")
	}
	defer close(s.done)
	defer s.shutdown()

	s.metrics.SessionStarted()
	s.logger.Info("voice session started", zap.Bool("mic_enabled", s.micEnabled))
	if s.micEnabled {
		s.openCapture()
	}

	ticker := time.NewTicker(s.cfg.FrameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.quit:
			return nil
		case t := <-ticker.C:
			s.handle(tickEvent{at: t})
		case ev := <-s.events:
			s.handle(ev)
		}
	}
}

// SetMicEnabled turns the microphone on or off. Turning it off abandons the current turn.
func (s *Session) SetMicEnabled(on bool) error {
	if !s.post(context.Background(), micEvent{on: on}) {
		return ErrClosed
	}
	return nil
}

// Exit leaves voice mode: the mic is released, playback stopped, the loop ends and the transport is left.
func (s *Session) Exit() {
	s.quitOnce.Do(func() { close(s.quit) })
}

// post delivers ev to the loop. It fails once the session has ended or ctx is done.
func (s *Session) post(ctx context.Context, ev event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	case <-s.quit:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *Session) shutdown() {
	s.micEnabled = false
	s.release()
	s.setPhase(Idle)
	s.cancel()
	s.mic.release()
	s.metrics.SessionEnded()

	if s.transport != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.transport.Leave(ctx); err != nil {
			s.logger.Warn("leave transport failed", zap.Error(err))
		}
		cancel()
	}
	s.publish()
	s.closeSubscribers()
	s.logger.Info("voice session ended", zap.Int("messages", s.conversation.Len()))
}
