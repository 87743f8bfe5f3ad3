package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chadiek/voice-mode/internal/audio"
	"github.com/chadiek/voice-mode/internal/voice"
)

const (
	mulawRate = 8000
	// chunkSamples is 20ms of 8kHz audio.
	chunkSamples = 160
)

// inboundMessage is one Twilio media stream event.
type inboundMessage struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	Start     *struct {
		StreamSid  string `json:"streamSid"`
		CallSid    string `json:"callSid"`
		AccountSid string `json:"accountSid"`
	} `json:"start,omitempty"`
	Media *struct {
		Track   string `json:"track"`
		Payload string `json:"payload"`
	} `json:"media,omitempty"`
	Mark *markPayload `json:"mark,omitempty"`
	DTMF *struct {
		Digit string `json:"digit"`
	} `json:"dtmf,omitempty"`
}

type markPayload struct {
	Name string `json:"name"`
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

// outboundMessage is a media, mark or clear message sent back to Twilio.
type outboundMessage struct {
	Event     string        `json:"event"`
	StreamSid string        `json:"streamSid"`
	Media     *mediaPayload `json:"media,omitempty"`
	Mark      *markPayload  `json:"mark,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// mediaConn serializes writes from the player and the read loop.
type mediaConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (c *mediaConn) send(m outboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.WriteJSON(m)
}

func readInbound(conn *mediaConn) (inboundMessage, error) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return inboundMessage{}, err
		}
		if mt != websocket.TextMessage {
			continue
		}
		var m inboundMessage
		if json.Unmarshal(data, &m) != nil {
			continue
		}
		return m, nil
	}
}

// ServeMedia serves one Twilio media stream as a voice session. The caller's
// audio is the microphone; DTMF '*' toggles it and '#' ends the call.
func (h *Handler) ServeMedia(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("media stream upgrade", zap.Error(err))
		return
	}
	conn := &mediaConn{Conn: raw}
	defer func() { _ = conn.Close() }()

	var streamSid, callSid string
	for streamSid == "" {
		m, err := readInbound(conn)
		if err != nil {
			h.logger.Debug("media stream closed before start", zap.Error(err))
			return
		}
		switch m.Event {
		case "start":
			if m.Start == nil {
				continue
			}
			streamSid, callSid = m.Start.StreamSid, m.Start.CallSid
			if streamSid == "" {
				streamSid = m.StreamSid
			}
		case "stop":
			return
		}
	}

	logger := h.logger.With(zap.String("call_id", callSid), zap.String("stream_sid", streamSid))
	mic := voice.NewPushDevice(64)
	player := newMediaPlayer(conn.send, streamSid)
	stopped := &atomic.Bool{}
	deps := h.services
	deps.Player = player
	opts := []voice.Option{
		voice.WithLogger(logger),
		voice.WithMetrics(h.metrics),
		voice.WithTransport(callHangup{calls: h.calls, callSid: callSid, stopped: stopped}),
	}
	if callSid != "" {
		opts = append(opts, voice.WithID(callSid))
	}
	session, err := voice.NewSession(voice.NewExclusive(mic), deps, h.voiceCfg, opts...)
	if err != nil {
		logger.Error("voice session", zap.Error(err))
		return
	}
	logger.Info("media stream started")
	go func() {
		err := session.Run(context.Background())
		logger.Info("call ended", zap.Error(err))
		_ = conn.Close()
	}()

	defer func() {
		mic.End()
		player.close()
		session.Exit()
		<-session.Done()
	}()
	for {
		m, err := readInbound(conn)
		if err != nil {
			logger.Debug("media stream read ended", zap.Error(err))
			return
		}
		switch m.Event {
		case "media":
			if m.Media == nil || (m.Media.Track != "" && m.Media.Track != "inbound") {
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(m.Media.Payload)
			if err != nil || len(payload) == 0 {
				continue
			}
			mic.Deliver(audio.Frame{
				Samples:    audio.MulawToSamples(payload),
				SampleRate: mulawRate,
				At:         time.Now(),
			})
		case "mark":
			if m.Mark != nil {
				player.marked(m.Mark.Name)
			}
		case "dtmf":
			if m.DTMF != nil {
				h.onDigit(session, m.DTMF.Digit, logger)
			}
		case "stop":
			stopped.Store(true)
			return
		}
	}
}

func (h *Handler) onDigit(s *voice.Session, digit string, logger *zap.Logger) {
	switch digit {
	case "*":
		on := !s.Status().MicEnabled
		if err := s.SetMicEnabled(on); err != nil {
			logger.Debug("toggle mic", zap.Error(err))
		}
	case "#":
		s.Exit()
	}
}

// mediaPlayer streams speech back into the call as mu-law media followed by
// a mark; the playback is done when Twilio echoes the mark.
type mediaPlayer struct {
	send      func(outboundMessage) error
	streamSid string

	mu      sync.Mutex
	seq     int
	current *mediaPlayback
}

func newMediaPlayer(send func(outboundMessage) error, streamSid string) *mediaPlayer {
	return &mediaPlayer{send: send, streamSid: streamSid}
}

var errPlayerClosed = errors.New("telephony: media stream closed")

func (p *mediaPlayer) Play(_ context.Context, sp audio.Speech) (voice.Playback, error) {
	samples, err := sp.Decode(mulawRate)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	prev := p.current
	p.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}

	p.mu.Lock()
	if p.send == nil {
		p.mu.Unlock()
		return nil, errPlayerClosed
	}
	send := p.send
	p.seq++
	pb := &mediaPlayback{player: p, mark: fmt.Sprintf("reply-%d", p.seq), done: make(chan struct{})}
	p.current = pb
	p.mu.Unlock()

	payload := audio.SamplesToMulaw(samples)
	for i := 0; i < len(payload); i += chunkSamples {
		chunk := payload[i:min(i+chunkSamples, len(payload))]
		err := send(outboundMessage{
			Event:     "media",
			StreamSid: p.streamSid,
			Media:     &mediaPayload{Payload: base64.StdEncoding.EncodeToString(chunk)},
		})
		if err != nil {
			p.finish(pb)
			return nil, fmt.Errorf("send media: %w", err)
		}
	}
	if err := send(outboundMessage{Event: "mark", StreamSid: p.streamSid, Mark: &markPayload{Name: pb.mark}}); err != nil {
		p.finish(pb)
		return nil, fmt.Errorf("send mark: %w", err)
	}
	return pb, nil
}

// marked completes the playback waiting for name.
func (p *mediaPlayer) marked(name string) {
	p.mu.Lock()
	pb := p.current
	p.mu.Unlock()
	if pb != nil && pb.mark == name {
		p.finish(pb)
	}
}

func (p *mediaPlayer) finish(pb *mediaPlayback) {
	p.mu.Lock()
	if p.current == pb {
		p.current = nil
	}
	p.mu.Unlock()
	pb.once.Do(func() { close(pb.done) })
}

// close ends the current playback and refuses new ones.
func (p *mediaPlayer) close() {
	p.mu.Lock()
	pb := p.current
	p.send = nil
	p.mu.Unlock()
	if pb != nil {
		p.finish(pb)
	}
}

func (p *mediaPlayer) clear() {
	p.mu.Lock()
	send := p.send
	p.mu.Unlock()
	if send != nil {
		_ = send(outboundMessage{Event: "clear", StreamSid: p.streamSid})
	}
}

type mediaPlayback struct {
	player *mediaPlayer
	mark   string
	once   sync.Once
	done   chan struct{}
}

func (pb *mediaPlayback) Done() <-chan struct{} { return pb.done }

// Stop drops the audio Twilio still has buffered.
func (pb *mediaPlayback) Stop() {
	select {
	case <-pb.done:
		return
	default:
	}
	pb.player.clear()
	pb.player.finish(pb)
}
