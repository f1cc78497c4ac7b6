package broker

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"switchboard/internal/logger"
)

// closeReason is the human-readable reason attached to a websocket close
// frame, per spec §4.1/§5.
type closeReason string

const (
	reasonReplaced = closeReason("replaced")
	reasonShutdown = closeReason("server shutting down")
)

// sendTimeout bounds how long Send will wait for the writer goroutine to
// accept a frame before dropping it, per spec §4.4: "the session must
// never block the dispatch engine".
const sendTimeout = 200 * time.Millisecond

// Session is a control-channel session: one reader goroutine owns the
// websocket connection and funnels decoded frames to the Engine as method
// calls, and one writer goroutine serialises outbound frames, per the
// "event callbacks -> message passing" design note (spec §9). Grounded on
// skx-tunneller's server.go/client.go websocket read/write loops and
// destiny-lucas's internal/hermes/worker.go messageLoop shape.
type Session struct {
	conn   *websocket.Conn
	engine *Engine
	send   chan []byte
	closed chan struct{}
	once   sync.Once

	mu        sync.Mutex
	slug      string
	bound     bool
	dashboard bool
}

// NewSession wraps an already-upgraded websocket connection and starts its
// reader/writer goroutines. The caller (the HTTP adapter) does not need to
// do anything further; the session is self-driving until it terminates.
func NewSession(conn *websocket.Conn, eng *Engine) *Session {
	s := &Session{
		conn:   conn,
		engine: eng,
		send:   make(chan []byte, 16),
		closed: make(chan struct{}),
	}
	go s.writeLoop()
	go s.readLoop()
	return s
}

// Send enqueues a frame for the writer goroutine, dropping it (and
// reporting false) if the writer cannot accept it within sendTimeout.
func (s *Session) Send(data []byte) bool {
	select {
	case s.send <- data:
		return true
	case <-time.After(sendTimeout):
		return false
	case <-s.closed:
		return false
	}
}

// BoundSlug returns the slug this session is currently registered for, if
// any.
func (s *Session) BoundSlug() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slug, s.bound
}

func (s *Session) setBoundSlug(slug string) {
	s.mu.Lock()
	s.slug = slug
	s.bound = true
	s.mu.Unlock()
}

func (s *Session) markDashboard() {
	s.mu.Lock()
	s.dashboard = true
	s.mu.Unlock()
}

// Close requests a close of the underlying connection with the given
// reason, per spec §4.1 replacement protocol and §5 shutdown. It is safe
// to call multiple times or concurrently with the session's own read-error
// path; only the first caller's reason is sent on the wire.
func (s *Session) Close(reason closeReason) {
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(reason)),
		time.Now().Add(time.Second),
	)
	s.terminate()
}

// terminate runs on_session_loss exactly once, whether triggered by a
// local Close() call or by the peer closing/erroring on the reader side.
func (s *Session) terminate() {
	s.once.Do(func() {
		close(s.closed)
		s.conn.Close()
		s.engine.onSessionLoss(s)
	})
}

func (s *Session) writeLoop() {
	for {
		select {
		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.terminate()
				return
			}
		case <-s.closed:
			return
		}
	}
}

func (s *Session) readLoop() {
	defer s.terminate()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		frame := decodeIngress(data)
		switch frame.kind {
		case ingressRegistration:
			if err := s.engine.onRegistration(s, frame.slug); err != nil {
				s.sendErrorHint(err.Error())
			} else {
				s.setBoundSlug(frame.slug)
			}
		case ingressResponse:
			s.engine.onResponse(s, frame.requestID, frame.slug, frame.response)
		case ingressDashboardAttach:
			s.markDashboard()
			s.engine.obs.attach(s)
		default:
			logger.Control("malformed or unrecognised control-channel frame")
			s.sendErrorHint(errMalformedFrame.Error())
		}
	}
}

func (s *Session) sendErrorHint(msg string) {
	data, err := buildErrorHint(msg)
	if err != nil {
		return
	}
	s.Send(data)
}
