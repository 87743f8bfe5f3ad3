package rtc

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// realtimeWSMessage is a minimal signaling message format compatible with common Realtime APIs.
// Types: "auth", "offer", "answer", "candidate", "ice-complete", "bye", "error".
type realtimeWSMessage struct {
	Type string `json:"type"`
	// auth
	Password string `json:"password,omitempty"`
	// offer/answer
	SDP string `json:"sdp,omitempty"`
	// candidate
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	// error
	Error string `json:"error,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsConn serializes writes; pion calls OnICECandidate from its own goroutines.
type wsConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) send(m realtimeWSMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.WriteJSON(m)
}

func (c *wsConn) fail(err error) { _ = c.send(realtimeWSMessage{Type: "error", Error: err.Error()}) }

// ServeWebSocket upgrades to WebSocket and performs offer/answer + trickle ICE
// signaling, then serves the call until its voice session ends. When
// authPassword is set the first message must be an auth message carrying it.
func (h *Handler) ServeWebSocket(w http.ResponseWriter, r *http.Request, authPassword string) {
	raw, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade", zap.Error(err))
		return
	}
	conn := &wsConn{Conn: raw}
	defer func() { _ = conn.Close() }()

	if authPassword != "" {
		m, err := readWS(conn)
		if err != nil || m.Type != "auth" || m.Password != authPassword {
			conn.fail(errors.New("unauthorized"))
			return
		}
	}

	var offerSDP string
	for offerSDP == "" {
		m, err := readWS(conn)
		if err != nil {
			h.logger.Debug("ws read before offer", zap.Error(err))
			return
		}
		switch m.Type {
		case "offer":
			offerSDP = m.SDP
		case "bye":
			return
		}
	}

	p, err := h.newPeer()
	if err != nil {
		conn.fail(err)
		return
	}
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			_ = conn.send(realtimeWSMessage{Type: "ice-complete"})
			return
		}
		init := c.ToJSON()
		_ = conn.send(realtimeWSMessage{Type: "candidate", Candidate: init.Candidate, SDPMid: init.SDPMid, SDPMLineIndex: init.SDPMLineIndex})
	})

	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}); err != nil {
		p.close()
		conn.fail(err)
		return
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		p.close()
		conn.fail(err)
		return
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		p.close()
		conn.fail(err)
		return
	}
	if err := conn.send(realtimeWSMessage{Type: "answer", SDP: answer.SDP}); err != nil {
		p.logger.Warn("ws write answer", zap.Error(err))
		p.close()
		return
	}
	p.start()

	// Remote trickle candidates until the client hangs up or the socket closes.
	go func() {
		for {
			m, err := readWS(conn)
			if err != nil {
				return
			}
			switch m.Type {
			case "candidate":
				if m.Candidate == "" {
					continue
				}
				if err := p.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: m.Candidate, SDPMid: m.SDPMid, SDPMLineIndex: m.SDPMLineIndex}); err != nil {
					p.logger.Debug("add ice candidate", zap.Error(err))
				}
			case "bye":
				p.session.Exit()
				return
			}
		}
	}()

	<-p.session.Done()
	_ = conn.send(realtimeWSMessage{Type: "bye"})
}

// readWS returns the next text message, skipping binary frames and undecodable text.
func readWS(conn *wsConn) (realtimeWSMessage, error) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return realtimeWSMessage{}, err
		}
		if mt != websocket.TextMessage {
			continue
		}
		var m realtimeWSMessage
		if json.Unmarshal(data, &m) != nil {
			continue
		}
		m.Type = strings.ToLower(m.Type)
		return m, nil
	}
}
