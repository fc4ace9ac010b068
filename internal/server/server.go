// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jeranaias/coca/internal/api"
	"github.com/jeranaias/coca/internal/config"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// MaxRequestBodySize bounds JSON request bodies.
	MaxRequestBodySize = 1 * 1024 * 1024

	// MinPasswordLength is enforced at signup.
	MinPasswordLength = 8

	// HistoryWindow is how many earlier messages a Replier sees.
	HistoryWindow = 20

	// Version is the backend version reported by /health.
	Version = "0.1.0"

	shutdownTimeout = 5 * time.Second
)

// ============================================================================
// SERVER
// ============================================================================

// Server is an in-memory implementation of the chat backend.
type Server struct {
	cfg     config.DevServerConfig
	store   *Store
	tokens  *TokenIssuer
	replier Replier
	limiter *RateLimiter
	log     *slog.Logger
	started time.Time

	handler http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithReplier replaces the default EchoReplier.
func WithReplier(r Replier) Option {
	return func(s *Server) {
		if r != nil {
			s.replier = r
		}
	}
}

// WithStore replaces the server's store.
func WithStore(st *Store) Option {
	return func(s *Server) {
		if st != nil {
			s.store = st
		}
	}
}

// New builds a server from cfg.
func New(cfg config.DevServerConfig, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		store:   NewStore(),
		tokens:  NewTokenIssuer([]byte(cfg.SigningKey), cfg.AccessTTL.D(), cfg.RefreshTTL.D()),
		replier: EchoReplier{Delay: cfg.ReplyDelay.D()},
		log:     slog.Default(),
		started: time.Now(),
	}
	if cfg.RateLimit > 0 {
		s.limiter = NewRateLimiter(cfg.RateLimit, cfg.Burst)
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handler = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Store returns the server's state.
func (s *Server) Store() *Store {
	return s.store
}

// Tokens returns the token issuer.
func (s *Server) Tokens() *TokenIssuer {
	return s.tokens
}

// ExpireAccessTokens makes every outstanding access token fail with 401.
func (s *Server) ExpireAccessTokens() {
	s.tokens.ExpireAccessTokens()
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(
		RecoveryMiddleware(s.log),
		LoggingMiddleware(s.log),
		SecurityHeadersMiddleware(),
		RateLimitMiddleware(s.limiter, s.log),
	)
	auth := AuthMiddleware(s.tokens, s.log)

	r.Get("/health", s.handleHealth)

	r.Route("/users", func(r chi.Router) {
		r.Post("/signup", s.handleSignup)
		r.Post("/login", s.handleLogin)
		r.Post("/refresh_token", s.handleRefresh)
		r.With(auth).Post("/logout", s.handleLogout)
	})

	r.Route("/chat", func(r chi.Router) {
		r.Use(auth)
		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions", s.handleListSessions)
		r.Delete("/sessions/{id}", s.handleDeleteSession)
		r.Get("/sessions/{id}/messages", s.handleListMessages)
		r.Post("/sessions/{id}/messages", s.handleSendMessage)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusNotFound, http.StatusNotFound, "Not Found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusMethodNotAllowed, http.StatusMethodNotAllowed, "Method Not Allowed", nil)
	})
	return r
}

// ============================================================================
// USER HANDLERS
// ============================================================================

type signupRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !decodeBody(w, r, &req) {
		return
	}
	switch {
	case !validEmail(req.Email):
		writeEnvelope(w, http.StatusBadRequest, http.StatusBadRequest, "validation failed: invalid email", nil)
		return
	case len(req.Password) < MinPasswordLength:
		writeEnvelope(w, http.StatusBadRequest, http.StatusBadRequest,
			fmt.Sprintf("validation failed: password must be at least %d characters", MinPasswordLength), nil)
		return
	case req.Password != req.ConfirmPassword:
		writeEnvelope(w, http.StatusBadRequest, http.StatusBadRequest, "validation failed: passwords do not match", nil)
		return
	}

	if _, err := s.store.CreateUser(req.Email, req.Password); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			writeEnvelope(w, http.StatusBadRequest, http.StatusBadRequest, "email already registered", nil)
			return
		}
		s.log.Error("signup failed", "error", err)
		writeEnvelope(w, http.StatusInternalServerError, http.StatusInternalServerError, "system error", nil)
		return
	}
	writeEnvelope(w, http.StatusOK, api.CodeOK, "signup successful", nil)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeEnvelope(w, http.StatusBadRequest, http.StatusBadRequest, "validation failed: email and password are required", nil)
		return
	}

	uid, err := s.store.Authenticate(req.Email, req.Password)
	if err != nil {
		writeEnvelope(w, http.StatusUnauthorized, http.StatusUnauthorized, "invalid email or password", nil)
		return
	}
	s.issue(w, uid, normalizeEmail(req.Email), uuid.NewString(), "login successful")
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		writeEnvelope(w, http.StatusBadRequest, http.StatusBadRequest, "validation failed: refresh_token is required", nil)
		return
	}

	claims, err := s.tokens.ParseRefresh(req.RefreshToken)
	if err != nil {
		s.log.Debug("refresh rejected", "reason", err)
		writeEnvelope(w, http.StatusUnauthorized, http.StatusUnauthorized, "refresh token invalid or expired", nil)
		return
	}
	// Rotation keeps the login session (ssid).
	s.issue(w, claims.UID, claims.Email, claims.SSID, "refresh successful")
}

func (s *Server) issue(w http.ResponseWriter, uid int64, email, ssid, msg string) {
	access, refresh, err := s.tokens.Issue(uid, email, ssid)
	if err != nil {
		s.log.Error("token issue failed", "error", err)
		writeEnvelope(w, http.StatusInternalServerError, http.StatusInternalServerError, "token generation failed", nil)
		return
	}
	writeEnvelope(w, http.StatusOK, api.CodeOK, msg, api.TokenPair{AccessToken: access, RefreshToken: refresh})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	s.tokens.Revoke(claims.SSID)
	writeEnvelope(w, http.StatusOK, api.CodeOK, "logout successful", nil)
}

// ============================================================================
// CHAT HANDLERS
// ============================================================================

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	writeEnvelope(w, http.StatusOK, api.CodeOK, "", s.store.CreateSession(claims.UID))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	writeEnvelope(w, http.StatusOK, api.CodeOK, "", s.store.ListSessions(claims.UID))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteSession(claims.UID, id); err != nil {
		writeEnvelope(w, http.StatusNotFound, http.StatusNotFound, err.Error(), nil)
		return
	}
	writeEnvelope(w, http.StatusOK, api.CodeOK, "Session deleted", nil)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	msgs, err := s.store.Messages(claims.UID, id)
	if err != nil {
		writeEnvelope(w, http.StatusNotFound, http.StatusNotFound, err.Error(), nil)
		return
	}
	writeEnvelope(w, http.StatusOK, api.CodeOK, "", msgs)
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

// handleSendMessage stores the user message and streams the reply as
// event:/data: lines.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var req sendMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeEnvelope(w, http.StatusBadRequest, http.StatusBadRequest, "Invalid request: content is required", nil)
		return
	}

	history, err := s.store.Messages(claims.UID, id)
	if err != nil {
		writeEnvelope(w, http.StatusNotFound, http.StatusNotFound, err.Error(), nil)
		return
	}
	if len(history) > HistoryWindow {
		history = history[len(history)-HistoryWindow:]
	}
	if _, err := s.store.AppendMessage(claims.UID, id, api.RoleUser, req.Content); err != nil {
		writeEnvelope(w, http.StatusNotFound, http.StatusNotFound, err.Error(), nil)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)

	reply, err := s.replier.Reply(r.Context(), history, req.Content, func(delta string) error {
		return writeEvent(w, rc, "message", map[string]string{"delta": delta})
	})
	if err != nil {
		if r.Context().Err() != nil {
			s.log.Debug("client went away mid-reply", "session", id)
			return
		}
		s.log.Warn("reply failed", "session", id, "error", err)
		writeEvent(w, rc, "error", map[string]string{"msg": err.Error()})
		return
	}

	msg, err := s.store.AppendMessage(claims.UID, id, api.RoleAssistant, reply)
	if err != nil {
		writeEvent(w, rc, "error", map[string]string{"msg": err.Error()})
		return
	}
	writeEvent(w, rc, "done", map[string]any{"message_id": msg.ID, "content": msg.Content})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeEnvelope(w, http.StatusOK, api.CodeOK, "ok", map[string]any{
		"status":  "ok",
		"version": Version,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// ListenAndServe serves on the configured address until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("dev backend listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		s.log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

// ============================================================================
// HELPERS
// ============================================================================

func writeEnvelope(w http.ResponseWriter, status, code int, msg string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(api.Envelope[any]{Code: code, Msg: msg, Data: data})
}

func writeEvent(w http.ResponseWriter, rc *http.ResponseController, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event:%s\ndata:%s\n\n", name, data); err != nil {
		return err
	}
	return rc.Flush()
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeEnvelope(w, http.StatusRequestEntityTooLarge, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", MaxRequestBodySize), nil)
			return false
		}
		writeEnvelope(w, http.StatusBadRequest, http.StatusBadRequest, "invalid request body", nil)
		return false
	}
	return true
}

func sessionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeEnvelope(w, http.StatusBadRequest, http.StatusBadRequest, "Invalid session ID", nil)
		return 0, false
	}
	return id, true
}

func validEmail(email string) bool {
	email = strings.TrimSpace(email)
	at := strings.LastIndexByte(email, '@')
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t")
}
