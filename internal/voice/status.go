package voice

import "time"

// Status is the observable state of a session, published after every change.
type Status struct {
	Phase          Phase
	Volume         float64
	MicEnabled     bool
	Listening      bool
	Err            error
	LastTranscript string
	At             time.Time
}

// Status returns the latest published status.
func (s *Session) Status() Status {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.status
}

// Subscribe returns a channel carrying status updates. Slow readers only see
// the newest status. The channel is closed when the session ends or cancel is called.
func (s *Session) Subscribe() (<-chan Status, func()) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	ch := make(chan Status, 1)
	if s.ended {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.status
	return ch, func() {
		s.statusMu.Lock()
		defer s.statusMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *Session) publish() {
	st := Status{
		Phase:          s.phase,
		Volume:         s.volume,
		MicEnabled:     s.micEnabled,
		Listening:      s.capture != nil,
		Err:            s.lastErr,
		LastTranscript: s.lastTranscript,
		At:             s.now(),
	}
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status = st
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- st
	}
}

func (s *Session) closeSubscribers() {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.ended = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
