// Package rtc runs voice sessions over WebRTC: the browser's audio track is the
// microphone, a local Opus track carries the agent's speech and the "control"
// data channel drives the session and receives its status.
package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hraban/opus"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/chadiek/voice-mode/internal/audio"
	"github.com/chadiek/voice-mode/internal/metrics"
	"github.com/chadiek/voice-mode/internal/voice"
)

const (
	micRate     = 16000
	controlName = "control"
)

// SessionDescription is a small DTO to avoid exposing webrtc types in transport.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Services are the speech and chat collaborators shared by all peers.
type Services struct {
	Transcriber voice.Transcriber
	Chat        voice.ChatCompleter
	Synthesizer voice.Synthesizer
}

// Handler manages WebRTC peer connections, one voice session per peer.
type Handler struct {
	services   Services
	iceServers []webrtc.ICEServer
	voiceCfg   voice.Config
	logger     *zap.Logger
	metrics    *metrics.Voice
}

type Option func(*Handler)

func WithICEServers(servers []webrtc.ICEServer) Option {
	return func(h *Handler) { h.iceServers = servers }
}

func WithVoiceConfig(cfg voice.Config) Option { return func(h *Handler) { h.voiceCfg = cfg } }

func WithLogger(l *zap.Logger) Option { return func(h *Handler) { h.logger = l } }

func WithMetrics(m *metrics.Voice) Option { return func(h *Handler) { h.metrics = m } }

func NewHandler(services Services, opts ...Option) *Handler {
	h := &Handler{
		services:   services,
		iceServers: ParseICEServers(""),
		voiceCfg:   voice.DefaultConfig(),
		logger:     zap.NewNop(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// HandleOffer accepts an SDP offer and returns an SDP answer once ICE gathering completes.
func (h *Handler) HandleOffer(ctx context.Context, offer SessionDescription) (SessionDescription, error) {
	if offer.Type != "offer" || offer.SDP == "" {
		return SessionDescription{}, errors.New("invalid offer")
	}
	p, err := h.newPeer()
	if err != nil {
		return SessionDescription{}, err
	}
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		p.close()
		return SessionDescription{}, err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		p.close()
		return SessionDescription{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(answer); err != nil {
		p.close()
		return SessionDescription{}, err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		p.close()
		return SessionDescription{}, ctx.Err()
	}
	local := p.pc.LocalDescription()
	if local == nil {
		p.close()
		return SessionDescription{}, errors.New("no local description")
	}
	p.start()
	return SessionDescription{Type: "answer", SDP: local.SDP}, nil
}

// peer is one browser connection and the voice session bound to it.
type peer struct {
	id      string
	pc      *webrtc.PeerConnection
	mic     *voice.PushDevice
	writer  *OpusPacedWriter
	session *voice.Session
	logger  *zap.Logger
}

// peerTransport leaves the call by closing the peer connection.
type peerTransport struct{ pc *webrtc.PeerConnection }

func (t peerTransport) Leave(context.Context) error { return t.pc.Close() }

func (h *Handler) newAPI() (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return nil, err
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir)), nil
}

// newPeer prepares a peer connection with its outgoing track, the voice
// session and all callbacks. The session loop starts with start.
func (h *Handler) newPeer() (*peer, error) {
	api, err := h.newAPI()
	if err != nil {
		return nil, err
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: h.iceServers})
	if err != nil {
		return nil, err
	}
	outTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: outputRate, Channels: 1},
		"agent-audio", "agent",
	)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	if _, err := pc.AddTrack(outTrack); err != nil {
		_ = pc.Close()
		return nil, err
	}
	writer, err := NewOpusPacedWriter(outTrack)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("opus encoder: %w", err)
	}

	id := uuid.NewString()
	logger := h.logger.With(zap.String("call_id", id))
	mic := voice.NewPushDevice(64)
	session, err := voice.NewSession(voice.NewExclusive(mic), voice.Collaborators{
		Transcriber: h.services.Transcriber,
		Chat:        h.services.Chat,
		Synthesizer: h.services.Synthesizer,
		Player:      NewTrackPlayer(writer),
	}, h.voiceCfg,
		voice.WithID(id),
		voice.WithLogger(logger),
		voice.WithMetrics(h.metrics),
		voice.WithTransport(peerTransport{pc: pc}),
	)
	if err != nil {
		writer.Close()
		_ = pc.Close()
		return nil, err
	}

	p := &peer{id: id, pc: pc, mic: mic, writer: writer, session: session, logger: logger}
	pc.OnConnectionStateChange(p.onConnectionState)
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		logger.Debug("ice state", zap.Stringer("state", state))
	})
	pc.OnTrack(p.onTrack)
	pc.OnDataChannel(p.onDataChannel)
	return p, nil
}

func (p *peer) start() {
	go func() {
		err := p.session.Run(context.Background())
		p.writer.Close()
		p.logger.Info("call ended", zap.Error(err))
	}()
}

// close tears down a peer whose session never started.
func (p *peer) close() {
	p.session.Exit()
	p.writer.Close()
	_ = p.pc.Close()
}

func (p *peer) onConnectionState(state webrtc.PeerConnectionState) {
	p.logger.Info("peer connection state", zap.Stringer("state", state))
	switch state {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
		p.mic.End()
		p.session.Exit()
	}
}

// onTrack turns the remote Opus track into 16kHz microphone frames.
func (p *peer) onTrack(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	if remote.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	p.logger.Info("remote audio track", zap.String("codec", remote.Codec().MimeType))
	dec, err := opus.NewDecoder(micRate, 1)
	if err != nil {
		p.logger.Error("opus decoder", zap.Error(err))
		return
	}
	go func() {
		defer p.mic.End()
		pcm := make([]int16, 1920)
		for {
			pkt, _, err := remote.ReadRTP()
			if err != nil {
				p.logger.Debug("rtp read ended", zap.Error(err))
				return
			}
			if len(pkt.Payload) == 0 {
				continue
			}
			n, err := dec.Decode(pkt.Payload, pcm)
			if err != nil {
				p.logger.Debug("opus decode", zap.Error(err))
				continue
			}
			p.mic.Deliver(audio.Frame{
				Samples:    append([]int16(nil), pcm[:n]...),
				SampleRate: micRate,
				At:         time.Now(),
			})
		}
	}()
}

func (p *peer) onDataChannel(dc *webrtc.DataChannel) {
	if dc.Label() != controlName {
		return
	}
	dc.OnOpen(func() {
		p.logger.Info("control channel opened")
		sub, cancel := p.session.Subscribe()
		dc.OnClose(cancel)
		go func() {
			limiter := rate.NewLimiter(rate.Every(statusInterval), 1)
			if err := pushStatus(sub, dc.Send, limiter); err != nil {
				p.logger.Debug("status push stopped", zap.Error(err))
				cancel()
			}
		}()
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if err := handleCommand(p.session, string(msg.Data)); err != nil {
			p.logger.Warn("control command", zap.Error(err))
		}
	})
}

// ParseICEServers decodes a JSON list of ICE servers, falling back to Google's public STUN server.
func ParseICEServers(iceJSON string) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if err := json.Unmarshal([]byte(iceJSON), &servers); err == nil && len(servers) > 0 {
		return servers
	}
	return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
}
