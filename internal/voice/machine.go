package voice

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chadiek/voice-mode/internal/audio"
	"github.com/chadiek/voice-mode/internal/chat"
	"github.com/chadiek/voice-mode/internal/vad"
)

func (s *Session) handle(ev event) {
	switch e := ev.(type) {
	case tickEvent:
		s.onTick(e.at)
	case frameEvent:
		s.onFrame(e)
	case captureOpenedEvent:
		s.onCaptureOpened(e)
	case captureFailedEvent:
		s.onCaptureFailed(e)
	case captureLostEvent:
		s.onCaptureLost(e)
	case micEvent:
		s.setMic(e.on)
	case transcribedEvent:
		s.onTranscribed(e)
	case repliedEvent:
		s.onReplied(e)
	case synthesizedEvent:
		s.onSynthesized(e)
	case playbackEndedEvent:
		s.onPlaybackEnded(e)
	}
}

func (s *Session) stale(ev event, reason string) {
	s.metrics.Stale(ev.name())
	s.logger.Debug("discarding stale result", zap.String("event", ev.name()), zap.String("reason", reason))
}

func (s *Session) setPhase(p Phase) {
	if p != s.phase {
		s.logger.Info("phase", zap.Stringer("from", s.phase), zap.Stringer("to", p))
		s.metrics.Transition(s.phase.String(), p.String())
		s.phase = p
	}
	s.publish()
}

// fail aborts the current turn and surfaces err.
func (s *Session) fail(err error) {
	s.lastErr = err
	s.logger.Warn("turn aborted", zap.Stringer("phase", s.phase), zap.Error(err))
	s.setPhase(Idle)
}

// Capture lifecycle.

func (s *Session) openCapture() {
	s.captureGen++
	gen := s.captureGen
	ctx, cancel := context.WithCancel(s.ctx)
	s.captureCancel = cancel
	s.opening++
	go func() {
		stream, err := s.mic.Open(ctx)
		if err != nil {
			s.post(context.Background(), captureFailedEvent{gen: gen, err: err})
			return
		}
		if !s.post(context.Background(), captureOpenedEvent{gen: gen, stream: stream}) {
			_ = stream.Close()
		}
	}()
}

func (s *Session) onCaptureOpened(e captureOpenedEvent) {
	s.openSettled()
	if e.gen != s.captureGen || !s.micEnabled || s.capture != nil {
		_ = e.stream.Close()
		s.stale(e, "capture no longer wanted")
		s.reopen()
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	c := &capture{gen: e.gen, stream: e.stream, cancel: cancel}
	s.capture = c
	s.logger.Info("microphone live")
	go c.read(ctx, s.post)
	s.publish()
}

func (s *Session) onCaptureFailed(e captureFailedEvent) {
	s.openSettled()
	if e.gen != s.captureGen || !s.micEnabled {
		s.stale(e, "capture no longer wanted")
		s.reopen()
		return
	}
	if s.captureCancel != nil {
		s.captureCancel()
		s.captureCancel = nil
	}
	if errors.Is(e.err, ErrDeviceBusy) && !s.openRetried {
		// An earlier open still holds the device; try again once it lets go.
		s.openRetried = true
		s.retryOpen = true
		s.logger.Debug("microphone busy, retrying open")
		s.reopen()
		return
	}
	s.volume = 0
	s.lastErr = &DeviceError{Op: "open", Err: e.err}
	s.logger.Warn("microphone unavailable", zap.Error(e.err))
	s.publish()
}

func (s *Session) openSettled() {
	if s.opening > 0 {
		s.opening--
	}
}

// reopen runs a pending retry once no open is in flight.
func (s *Session) reopen() {
	if !s.retryOpen || s.opening > 0 {
		return
	}
	s.retryOpen = false
	if s.micEnabled && s.capture == nil {
		s.openCapture()
	}
}

func (s *Session) onCaptureLost(e captureLostEvent) {
	if s.capture == nil || e.gen != s.capture.gen {
		s.stale(e, "capture already closed")
		return
	}
	s.closeCapture()
	s.detector.Reset()
	err := &DeviceError{Op: "read", Err: e.err}
	if s.phase == Recording {
		s.recorder.cancel()
		s.fail(err)
		return
	}
	s.lastErr = err
	s.logger.Warn("microphone lost", zap.Error(e.err))
	s.publish()
}

func (s *Session) closeCapture() {
	if s.captureCancel != nil {
		s.captureCancel()
		s.captureCancel = nil
	}
	if s.capture != nil {
		if err := s.capture.close(); err != nil {
			s.logger.Debug("close capture", zap.Error(err))
		}
		s.capture = nil
	}
	// Any open still in flight is now stale.
	s.captureGen++
	s.retryOpen = false
	s.sampler.reset()
	s.volume = 0
}

func (s *Session) onFrame(e frameEvent) {
	if s.capture == nil || e.gen != s.capture.gen {
		return
	}
	s.sampler.push(e.frame.Samples, e.frame.SampleRate)
	if err := s.recorder.observe(e.frame); err != nil && s.phase == Recording {
		s.detector.Reset()
		s.fail(&DeviceError{Op: "read", Err: err})
	}
}

// staleFrames is how many ticks past the newest audio a stalled capture is still trusted.
const staleFrames = 3

// onTick samples loudness and feeds the detector at the frame cadence.
func (s *Session) onTick(at time.Time) {
	if s.capture == nil || !s.micEnabled {
		return
	}
	s.sampler.tick(at, staleFrames*s.cfg.FrameInterval)
	s.volume = s.sampler.level()
	for _, tr := range s.detector.Observe(vad.Sample{Level: s.volume, At: at}) {
		s.onSpeaking(tr)
	}
	s.publish()
}

// Mic toggle.

func (s *Session) setMic(on bool) {
	if on == s.micEnabled {
		return
	}
	s.micEnabled = on
	if !on {
		s.logger.Info("microphone disabled")
		s.release()
		s.setPhase(Idle)
		return
	}
	s.logger.Info("microphone enabled")
	s.lastErr = nil
	s.openRetried = false
	s.openCapture()
	s.publish()
}

// release tears down everything tied to the current turn and the capture.
func (s *Session) release() {
	s.detector.Reset()
	s.recorder.cancel()
	s.stopPlayback()
	s.closeCapture()
	// Results of the abandoned turn no longer match.
	s.turn++
}

// Turn-taking.

func (s *Session) onSpeaking(tr vad.Transition) {
	if tr.Speaking {
		switch s.phase {
		case Idle:
			s.startRecording(tr.At)
		case AgentSpeaking:
			s.logger.Info("barge-in")
			s.stopPlayback()
			s.startRecording(tr.At)
		default:
			// One utterance at a time; speech while processing is not recorded.
			s.logger.Debug("speech ignored", zap.Stringer("phase", s.phase))
		}
		return
	}
	if s.phase == Recording {
		s.finishRecording(tr.At)
	}
}

func (s *Session) startRecording(at time.Time) {
	if err := s.recorder.start(s.capture != nil, at); err != nil {
		if errors.Is(err, ErrRecorderActive) {
			return
		}
		s.fail(err)
		return
	}
	s.lastErr = nil
	s.setPhase(Recording)
}

func (s *Session) finishRecording(at time.Time) {
	u, ok := s.recorder.stop(at)
	if !ok {
		s.setPhase(Idle)
		return
	}
	s.turn++
	turn := s.turn
	d := u.Clip.Duration()
	s.metrics.Utterance(d)
	s.setPhase(Processing)
	if u.Clip.Empty() || d < s.cfg.MinUtterance {
		s.fail(ErrUtteranceTooShort)
		return
	}
	s.logger.Info("utterance finished", zap.String("utterance_id", u.ID), zap.Duration("duration", d))
	go s.transcribe(turn, u)
}

// current reports whether a result issued for turn still applies.
func (s *Session) current(turn uint64) bool {
	return s.micEnabled && s.phase == Processing && turn == s.turn
}

func (s *Session) transcribe(turn uint64, u Utterance) {
	ctx, cancel := withTimeout(s.calls, s.cfg.TranscribeTimeout)
	defer cancel()
	start := time.Now()
	text, err := s.deps.Transcriber.Transcribe(ctx, u.Clip, s.cfg.Language)
	s.metrics.ObserveCall(string(StepTranscribe), time.Since(start), err)
	s.post(s.calls, transcribedEvent{turn: turn, text: text, err: err})
}

func (s *Session) onTranscribed(e transcribedEvent) {
	if !s.current(e.turn) {
		s.stale(e, "turn abandoned")
		return
	}
	if e.err != nil {
		s.fail(classify(StepTranscribe, e.err))
		return
	}
	text := strings.TrimSpace(e.text)
	if text == "" {
		s.fail(ErrEmptyTranscript)
		return
	}
	s.lastTranscript = text
	s.conversation.append(RoleUser, text, s.now())
	s.logger.Info("user said", zap.String("text", text))
	go s.complete(e.turn, s.conversation.chatMessages())
	s.publish()
}

func (s *Session) complete(turn uint64, msgs []chat.Message) {
	ctx, cancel := withTimeout(s.calls, s.cfg.ChatTimeout)
	defer cancel()
	start := time.Now()
	reply, err := s.deps.Chat.Complete(ctx, msgs)
	s.metrics.ObserveCall(string(StepChat), time.Since(start), err)
	s.post(s.calls, repliedEvent{turn: turn, reply: reply, err: err})
}

func (s *Session) onReplied(e repliedEvent) {
	if !s.current(e.turn) {
		s.stale(e, "turn abandoned")
		return
	}
	if e.err != nil {
		s.fail(classify(StepChat, e.err))
		return
	}
	reply := strings.TrimSpace(e.reply)
	if reply == "" {
		s.fail(ErrEmptyReply)
		return
	}
	s.conversation.append(RoleAssistant, reply, s.now())
	s.logger.Info("assistant replied", zap.String("text", reply))
	go s.synthesize(e.turn, reply)
}

func (s *Session) synthesize(turn uint64, text string) {
	ctx, cancel := withTimeout(s.calls, s.cfg.SynthesizeTimeout)
	defer cancel()
	start := time.Now()
	sp, err := s.deps.Synthesizer.Synthesize(ctx, text, s.cfg.Language)
	s.metrics.ObserveCall(string(StepSynthesize), time.Since(start), err)
	s.post(s.calls, synthesizedEvent{turn: turn, speech: sp, err: err})
}

func (s *Session) onSynthesized(e synthesizedEvent) {
	if !s.current(e.turn) {
		s.stale(e, "turn abandoned")
		return
	}
	if e.err != nil {
		s.fail(classify(StepSynthesize, e.err))
		return
	}
	s.startPlayback(e.speech)
}

// Playback.

func (s *Session) startPlayback(sp audio.Speech) {
	s.stopPlayback()
	pb, err := s.deps.Player.Play(s.calls, sp)
	if err != nil {
		s.fail(&DeviceError{Op: "play", Err: err})
		return
	}
	s.playbackID++
	id := s.playbackID
	s.playback = pb
	s.setPhase(AgentSpeaking)
	go func() {
		<-pb.Done()
		s.post(s.calls, playbackEndedEvent{id: id})
	}()
}

func (s *Session) stopPlayback() {
	if s.playback == nil {
		return
	}
	s.playback.Stop()
	s.playback = nil
}

func (s *Session) onPlaybackEnded(e playbackEndedEvent) {
	if e.id != s.playbackID || s.playback == nil || s.phase != AgentSpeaking {
		s.stale(e, "playback already stopped")
		return
	}
	s.playback = nil
	s.setPhase(Idle)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
