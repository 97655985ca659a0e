package app

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"phonesync/api/internal/auth"
	"phonesync/api/internal/docsync"
	"phonesync/api/internal/export"
	"phonesync/api/internal/queue"
	"phonesync/api/internal/rbac"
	"phonesync/api/internal/search"
	"phonesync/api/internal/session"
)

const maxBodyBytes = 1 << 20

type HTTPOptions struct {
	CORSOrigin string
	// TokenSecret enables bearer auth. Without it every caller is admin.
	TokenSecret string
	// InsertRate limits insert requests per second; 0 disables the limit.
	InsertRate  float64
	InsertBurst int
	// Revocations is consulted for every bearer token when set.
	Revocations   session.Revocations
	Notifications http.Handler
	Metrics       http.Handler
	Logger        *zap.Logger
}

type HTTPServer struct {
	service       *Service
	corsOrigin    string
	secret        []byte
	limiter       *rate.Limiter
	revocations   session.Revocations
	notifications http.Handler
	metrics       http.Handler
	logger        *zap.Logger
}

func NewHTTPServer(service *Service, opts HTTPOptions) *HTTPServer {
	if opts.CORSOrigin == "" {
		opts.CORSOrigin = "*"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &HTTPServer{
		service:       service,
		corsOrigin:    opts.CORSOrigin,
		revocations:   opts.Revocations,
		notifications: opts.Notifications,
		metrics:       opts.Metrics,
		logger:        opts.Logger,
	}
	if opts.TokenSecret != "" {
		s.secret = []byte(opts.TokenSecret)
	}
	if opts.InsertRate > 0 {
		burst := opts.InsertBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.InsertRate), burst)
	}
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(s.withMiddleware)
	router.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	router.Get("/api/ready", s.handleReady)
	if s.metrics != nil {
		router.Handle("/metrics", s.metrics)
	}

	router.Route("/api", func(r chi.Router) {
		r.Use(s.authenticate)

		r.With(s.require(rbac.ActionRead)).Get("/document", s.handleDocument)
		r.With(s.require(rbac.ActionRead)).Get("/document/raw", s.handleRaw)
		r.With(s.require(rbac.ActionWrite), s.rateLimit).Post("/document/insert", s.handleInsert)

		r.With(s.require(rbac.ActionRead)).Get("/queue", s.handleQueue)
		r.With(s.require(rbac.ActionAdmin)).Delete("/queue", s.handleClearQueue)

		r.With(s.require(rbac.ActionRead)).Get("/generation", s.handleGeneration)
		r.With(s.require(rbac.ActionAdmin)).Put("/generation", s.handleSetGeneration)

		r.With(s.require(rbac.ActionRead)).Get("/search", s.handleSearch)
		r.With(s.require(rbac.ActionRead)).Get("/history", s.handleHistory)
		r.With(s.require(rbac.ActionRead)).Get("/export.html", s.handleExport(export.FormatHTML))
		r.With(s.require(rbac.ActionRead)).Get("/export.pdf", s.handleExport(export.FormatPDF))

		r.With(s.require(rbac.ActionAdmin)).Post("/tokens/revoke", s.handleRevokeToken)

		if s.notifications != nil {
			r.With(s.require(rbac.ActionRead)).Get("/notifications/ws", s.notifications.ServeHTTP)
		}
	})
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	return router
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"chatStore": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["chatStore"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleDocument(w http.ResponseWriter, r *http.Request) {
	forum, err := s.service.Forum(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, forum)
}

func (s *HTTPServer) handleRaw(w http.ResponseWriter, r *http.Request) {
	text, err := s.service.Raw(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"text": text})
}

func (s *HTTPServer) handleInsert(w http.ResponseWriter, r *http.Request) {
	var body InsertRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.Insert(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if result.Kind == docsync.ResultQueued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

func (s *HTTPServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.QueueStatus())
}

func (s *HTTPServer) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"discarded": s.service.ClearQueue()})
}

func (s *HTTPServer) handleGeneration(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Generation())
}

func (s *HTTPServer) handleSetGeneration(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Active *bool `json:"active"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.Active == nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "active is required", nil)
		return
	}
	status, err := s.service.SetGenerating(r.Context(), *body.Active)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	q := search.Query{
		Text:         query.Get("q"),
		FilterType:   search.ResultType(query.Get("type")),
		FilterAuthor: query.Get("author"),
		Limit:        queryInt(query.Get("limit"), 0),
		Offset:       queryInt(query.Get("offset"), 0),
	}
	resp, err := s.service.Search(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.service.History(r.Context(), queryInt(r.URL.Query().Get("limit"), 0))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *HTTPServer) handleExport(format export.Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		result, err := s.service.Export(r.Context(), export.Request{
			Version: query.Get("version"),
			Format:  format,
			Title:   query.Get("title"),
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
		w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
	}
}

func (s *HTTPServer) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	if s.secret == nil || s.revocations == nil {
		writeError(w, http.StatusServiceUnavailable, "REVOCATION_UNAVAILABLE", "Token revocation is not configured", nil)
		return
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	claims, err := auth.ParseToken(s.secret, strings.TrimSpace(body.Token))
	if errors.Is(err, auth.ErrExpiredToken) {
		writeJSON(w, http.StatusOK, map[string]any{"revoked": false, "reason": "expired"})
		return
	}
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "token is not valid", nil)
		return
	}
	if err := s.revocations.Revoke(r.Context(), claims.JTI, time.Unix(claims.Exp, 0)); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("token revoked", zap.String("jti", claims.JTI), zap.String("sub", claims.Sub))
	writeJSON(w, http.StatusOK, map[string]any{"revoked": true, "jti": claims.JTI})
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

type roleKey struct{}

// authenticate resolves the caller's role. Websocket clients cannot set headers, so
// the token may also come from the access_token query parameter.
func (s *HTTPServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.secret == nil {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), roleKey{}, rbac.RoleAdmin)))
			return
		}
		token := bearerToken(r)
		if token == "" {
			token = r.URL.Query().Get("access_token")
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		claims, err := auth.ParseToken(s.secret, token)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if s.revocations != nil {
			revoked, err := s.revocations.IsRevoked(r.Context(), claims.JTI)
			if err != nil {
				s.logger.Error("revocation lookup failed", zap.Error(err))
				writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Token check unavailable", nil)
				return
			}
			if revoked {
				writeError(w, http.StatusUnauthorized, "TOKEN_REVOKED", "Token revoked", nil)
				return
			}
		}
		role := rbac.Normalize(claims.Role)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), roleKey{}, role)))
	})
}

func (s *HTTPServer) require(action rbac.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, _ := r.Context().Value(roleKey{}).(rbac.Role)
			if !rbac.Can(role, action) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *HTTPServer) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many insert requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", id)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(writer, r)

		s.logger.Info("request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is needed for the notifications websocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func queryInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, docsync.ErrReadFailed):
		return http.StatusBadGateway, "READ_FAILED", "Chat document could not be read", nil
	case errors.Is(err, docsync.ErrWriteFailed):
		return http.StatusBadGateway, "WRITE_FAILED", "Chat document could not be written", nil
	case errors.Is(err, queue.ErrClosed):
		return http.StatusServiceUnavailable, "SHUTTING_DOWN", "Service is shutting down", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF export requires Chrome", nil
	case errors.Is(err, export.ErrContentUnavailable):
		return http.StatusNotFound, "NOT_FOUND", "Version not found", nil
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT", "Timed out", nil
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "CANCELED", "Request canceled", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
