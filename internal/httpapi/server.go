package httpapi

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"switchboard/internal/broker"
	"switchboard/internal/logger"
)

// Server is the HTTP surface of spec §6: the slug catch-all, the control
// channel upgrade, the admin auth shim, and the status dashboard.
// Grounded on destiny-lucas's internal/gateway/api.go APIServer, narrowed
// from a multi-resource REST API to the broker's five routes.
type Server struct {
	cfg       *Config
	engine    *broker.Engine
	auth      *AdminAuth
	limiter   *broker.Limiter
	startedAt time.Time

	httpServer *http.Server
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewServer wires the router and middleware chain.
func NewServer(cfg *Config, engine *broker.Engine, auth *AdminAuth) *Server {
	s := &Server{
		cfg:       cfg,
		engine:    engine,
		auth:      auth,
		limiter:   broker.NewLimiter(cfg.Security.MaxRequestsPerMinute, cfg.Security.MaxConnectionsPerIP, cfg.Security.EnableRateLimit),
		startedAt: time.Now(),
	}

	router := mux.NewRouter()
	router.Use(s.securityHeadersMiddleware)
	router.Use(s.rateLimitMiddleware)
	router.Use(s.loggingMiddleware)
	if cfg.Server.EnableCORS {
		router.Use(s.corsMiddleware)
	}

	router.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	router.HandleFunc("/status", s.handleStatusPage).Methods(http.MethodGet)
	router.Handle("/api/status", s.auth.RequireAuth(http.HandlerFunc(s.handleAPIStatus))).Methods(http.MethodGet)
	router.HandleFunc("/ws", s.handleWebSocket)
	router.PathPrefix("/").HandlerFunc(s.handleSlug)

	s.httpServer = &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 160 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// ListenAndServe starts the HTTP listener; it blocks until the server is
// closed or fails to bind.
func (s *Server) ListenAndServe() error {
	logger.Server("starting HTTP listener on " + s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Close shuts down the HTTP listener.
func (s *Server) Close() error {
	return s.httpServer.Close()
}

func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware applies admission step (b) of spec §4.1 ahead of path
// routing (c), so every HTTP admission is throttled uniformly rather than
// only the slug catch-all. The control-channel upgrade at /ws is exempted
// here since it is gated by its own independent AllowConnection counter
// (spec §4.5) inside handleWebSocket.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		if !s.limiter.AllowRequest(clientAddr(r), time.Now()) {
			writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			logger.Security("rate limit exceeded for " + clientAddr(r))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", s.cfg.CORSOriginHeader())
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.HTTP(r.Method + " " + r.URL.Path + " " + time.Since(start).String())
	})
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, expiresIn, ok := s.auth.Login(body.Password)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expiresIn"`
	}{Token: token, ExpiresIn: int(expiresIn.Seconds())})
}

func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.Stats()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		ServerStartTime time.Time             `json:"serverStartTime"`
		ActiveClients   []broker.ActiveClient `json:"activeClients"`
		Stats           broker.Stats          `json:"stats"`
		PendingRequests int                   `json:"pendingRequests"`
	}{
		ServerStartTime: s.startedAt,
		ActiveClients:   s.engine.ActiveClients(),
		Stats:           stats,
		PendingRequests: stats.PendingRequests,
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.AllowConnection(clientAddr(r), time.Now()) {
		writeJSONError(w, http.StatusTooManyRequests, "too many connections from this address")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf(err, "websocket upgrade failed")
		return
	}
	broker.NewSession(conn, s.engine)
}

func (s *Server) handleSlug(w http.ResponseWriter, r *http.Request) {
	slug := r.URL.Path
	if len(slug) > 0 && slug[0] == '/' {
		slug = slug[1:]
	}
	if slug == "" {
		writeJSONError(w, http.StatusBadRequest, "missing slug")
		return
	}

	// Bounded to max+1 so an oversized body cannot exhaust memory, but the
	// 413 decision itself is left to engine.Submit: admission order (spec
	// §4.1) validates the slug (d), the reserved name (e), and the
	// whitelist (f) before the body size is enforced (g).
	limited := io.LimitReader(r.Body, int64(s.cfg.Server.MaxRequestBytes)+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}

	captured := broker.CapturedRequest{
		Method:  r.Method,
		URL:     r.URL.String(),
		Headers: broker.SanitiseHeaders(r.Header),
		Body:    string(body),
	}

	resp, err := s.engine.Submit(captured, slug)
	if err != nil {
		status, msg := statusAndMessage(err)
		writeJSONError(w, status, msg)
		return
	}

	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write([]byte(resp.Body))
}

func statusAndMessage(err error) (int, string) {
	if reqErr, ok := err.(*broker.RequestError); ok {
		return reqErr.Status, reqErr.Message
	}
	return http.StatusInternalServerError, err.Error()
}

func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
