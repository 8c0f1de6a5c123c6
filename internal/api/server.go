package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classpulse/internal/auth"
	"classpulse/internal/logging"
	"classpulse/internal/presence"
	"classpulse/internal/websocket"
	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

// maxPushBody bounds POST /api/.../messages request bodies
const maxPushBody = 1 << 20

// StatsProvider reports registry sizes for /health
type StatsProvider interface {
	Stats() websocket.Stats
}

// ServerConfig holds HTTP surface settings
type ServerConfig struct {
	CORSOrigins []string
	// RateLimit is requests per minute per client IP on /api; 0 disables it
	RateLimit int
}

// Dependencies groups the collaborators the HTTP surface reads from.
// AuditLog may be nil, in which case /api/connections answers 503 and the
// health report shows the database as disabled.
type Dependencies struct {
	Stats       StatsProvider
	Presence    *presence.Store
	Broadcaster interfaces.Broadcaster
	Verifier    auth.Verifier
	AuditLog    interfaces.ConnectionLog
	Socket      http.Handler
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	cfg  ServerConfig
	deps Dependencies
	mux  chi.Router
}

var (
	ErrNilStats       = errors.New("api: stats provider is required")
	ErrNilPresence    = errors.New("api: presence store is required")
	ErrNilBroadcaster = errors.New("api: broadcaster is required")
	ErrNilVerifier    = errors.New("api: token verifier is required")
	ErrNilSocket      = errors.New("api: websocket handler is required")
)

// NewServer builds the router. Every dependency except AuditLog is required.
func NewServer(cfg ServerConfig, deps Dependencies) (*Server, error) {
	switch {
	case deps.Stats == nil:
		return nil, ErrNilStats
	case deps.Presence == nil:
		return nil, ErrNilPresence
	case deps.Broadcaster == nil:
		return nil, ErrNilBroadcaster
	case deps.Verifier == nil:
		return nil, ErrNilVerifier
	case deps.Socket == nil:
		return nil, ErrNilSocket
	}

	s := &Server{cfg: cfg, deps: deps}
	s.setupRoutes()
	return s, nil
}

// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions with proper middleware
// CORS is global so preflight requests never reach a handler.
func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.corsHandler())

	r.Get("/health", s.healthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if s.cfg.RateLimit > 0 {
			r.Use(httprate.Limit(s.cfg.RateLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		}
		r.Use(jsonMiddleware)
		r.Post("/{scopeType}/{scopeID}/messages", s.pushMessage)
		r.Get("/connections", s.listConnections)
	})

	// TECHNICAL DISCOVERY: The socket handler classifies the full path itself,
	// so the mount hands it the request untouched.
	r.Handle("/ws/*", s.deps.Socket)

	s.mux = r
}

func (s *Server) corsHandler() func(http.Handler) http.Handler {
	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	})
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

type PresenceCounts struct {
	Online int `json:"online"`
	Typing int `json:"typing"`
}

type HealthResponse struct {
	Status      string          `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
	Database    string          `json:"database"`
	Connections websocket.Stats `json:"connections"`
	Presence    PresenceCounts  `json:"presence"`
}

// PushRequest is the body of POST /api/{scopeType}/{scopeID}/messages
type PushRequest struct {
	Message *types.ChatRecord `json:"message"`
}

type PushResponse struct {
	Delivered int `json:"delivered"`
}

type ConnectionsResponse struct {
	Connections []*interfaces.ConnectionRecord `json:"connections"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// FUNCTIONAL DISCOVERY: GET /health reports registry sizes and presence counts.
// Only a failing database turns the endpoint unhealthy.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	online, typing := s.deps.Presence.Counts()
	resp := HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now().UTC(),
		Database:    "disabled",
		Connections: s.deps.Stats.Stats(),
		Presence:    PresenceCounts{Online: online, Typing: typing},
	}
	status := http.StatusOK

	if s.deps.AuditLog != nil {
		if err := s.deps.AuditLog.HealthCheck(ctx); err != nil {
			logging.Warn().Err(err).Msg("Health check: database unreachable")
			resp.Status = "unhealthy"
			resp.Database = "error"
			status = http.StatusServiceUnavailable
		} else {
			resp.Database = "healthy"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	s.sendJSON(w, status, resp)
}

// FUNCTIONAL DISCOVERY: POST /api/{scopeType}/{scopeID}/messages lets the
// persistence layer announce a stored message. The caller owns the id.
func (s *Server) pushMessage(w http.ResponseWriter, r *http.Request) {
	identity := s.authenticate(r)
	if identity == nil {
		s.sendError(w, "Invalid or missing token", http.StatusUnauthorized)
		return
	}

	scope := types.Scope{
		Type: types.ScopeType(chi.URLParam(r, "scopeType")),
		ID:   chi.URLParam(r, "scopeID"),
	}
	if !scope.Type.Valid() || scope.ID == "" {
		s.sendError(w, "Invalid scope", http.StatusBadRequest)
		return
	}

	var req PushRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPushBody)).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Message == nil {
		s.sendError(w, "message is required", http.StatusBadRequest)
		return
	}
	if err := types.Validate(req.Message); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	record := *req.Message
	if record.SenderID == "" {
		record.SenderID = identity.UserID
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = s.deps.Presence.Now().UTC()
	}
	record.ScopeType = scope.Type
	record.ScopeID = scope.ID

	delivered := s.deps.Broadcaster.Broadcast(scope, types.NewNewMessage(record))

	logging.Info().
		Str("user_id", identity.UserID).
		Str("scope_type", string(scope.Type)).
		Str("scope_id", scope.ID).
		Str("message_id", record.ID).
		Int("delivered", delivered).
		Msg("Pushed message to scope")

	s.sendJSON(w, http.StatusOK, PushResponse{Delivered: delivered})
}

// FUNCTIONAL DISCOVERY: GET /api/connections reads the audit log, newest first
func (s *Server) listConnections(w http.ResponseWriter, r *http.Request) {
	if s.authenticate(r) == nil {
		s.sendError(w, "Invalid or missing token", http.StatusUnauthorized)
		return
	}
	if s.deps.AuditLog == nil {
		s.sendError(w, "Connection log is disabled", http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	filter := interfaces.ConnectionFilter{
		UserID:    q.Get("user_id"),
		ScopeType: types.ScopeType(q.Get("scope_type")),
		ScopeID:   q.Get("scope_id"),
	}
	if filter.ScopeType != "" && !filter.ScopeType.Valid() {
		s.sendError(w, "Invalid scope_type", http.StatusBadRequest)
		return
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.sendError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}

	records, err := s.deps.AuditLog.ListConnections(r.Context(), filter)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to list connections")
		s.sendError(w, "Failed to list connections", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*interfaces.ConnectionRecord{}
	}

	s.sendJSON(w, http.StatusOK, ConnectionsResponse{Connections: records})
}

// authenticate resolves a Bearer token; nil means reject
func (s *Server) authenticate(r *http.Request) *auth.Identity {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return nil
	}
	return s.deps.Verifier.Verify(strings.TrimSpace(token))
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// FUNCTIONAL DISCOVERY: Consistent error response format across all endpoints
func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	s.sendJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Code:    statusCode,
		Message: message,
	})
}
