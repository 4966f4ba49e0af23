package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/teambuilder/internal/cache"
	"github.com/splax/teambuilder/internal/service/activity"
	"github.com/splax/teambuilder/internal/service/pokemon"
	"github.com/splax/teambuilder/internal/service/profile"
	"github.com/splax/teambuilder/internal/service/team"
	"github.com/splax/teambuilder/pkg/logger"
)

// Services groups the workflows the router exposes.
type Services struct {
	Teams    team.Service
	Profiles profile.Service
	Pokemon  pokemon.Service
	Activity activity.Service
}

// Options configures cross-cutting behavior.
type Options struct {
	// Prefix is prepended to every API route. Defaults to /api.
	Prefix  string
	Limiter RateLimiter
	// WritesPerMinute caps mutating requests per client. Zero selects the
	// default; a negative value disables the limit.
	WritesPerMinute int
	AllowedOrigins  []string
	Health          func(context.Context) error
	// Cache is exported as metrics when set.
	Cache             *cache.Layer
	Registerer        prometheus.Registerer
	Gatherer          prometheus.Gatherer
	HeartbeatInterval time.Duration
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	teams     team.Service
	profiles  profile.Service
	pokemon   pokemon.Service
	activity  activity.Service
	upgrader  websocket.Upgrader
	limiter   RateLimiter
	writes    int
	prefix    string
	origins   map[string]struct{}
	anyOrigin bool
	dbHealth  func(context.Context) error
	cache     *cache.Layer
	heartbeat time.Duration

	registerer         prometheus.Registerer
	gatherer           prometheus.Gatherer
	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault        = time.Minute
	rateLimitWritesDefault   = 60
	healthCheckTimeout       = 2 * time.Second
	heartbeatIntervalDefault = 15 * time.Second
	maxBodyBytes             = 1 << 20
)

// NewRouter assembles routes with dependencies.
func NewRouter(log *slog.Logger, svc Services, opts Options) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger.OrDiscard(log),
		teams:    svc.Teams,
		profiles: svc.Profiles,
		pokemon:  svc.Pokemon,
		activity: svc.Activity,
		limiter:    opts.Limiter,
		writes:     opts.WritesPerMinute,
		prefix:     "/" + strings.Trim(opts.Prefix, "/"),
		origins:    make(map[string]struct{}),
		dbHealth:   opts.Health,
		cache:      opts.Cache,
		heartbeat:  opts.HeartbeatInterval,
		registerer: opts.Registerer,
		gatherer:   opts.Gatherer,
	}
	if strings.Trim(opts.Prefix, "/") == "" {
		r.prefix = "/api"
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	if r.writes == 0 {
		r.writes = rateLimitWritesDefault
	}
	if r.heartbeat <= 0 {
		r.heartbeat = heartbeatIntervalDefault
	}
	if r.registerer == nil {
		r.registerer = prometheus.DefaultRegisterer
	}
	if r.gatherer == nil {
		r.gatherer = prometheus.DefaultGatherer
	}
	for _, origin := range opts.AllowedOrigins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		switch origin {
		case "":
		case "*":
			r.anyOrigin = true
		default:
			r.origins[origin] = struct{}{}
		}
	}
	r.upgrader.CheckOrigin = r.checkUpgradeOrigin
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP applies CORS and delegates to the underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if r.applyCORS(w, req) && req.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	p := r.prefix
	r.mux.HandleFunc("GET /healthz", r.audit(r.handleHealthz))
	r.mux.Handle("GET /metrics", r.metricsHandler())

	r.mux.HandleFunc("GET "+p+"/pokemon", r.audit(r.handleListPokemon))
	r.mux.HandleFunc("POST "+p+"/pokemon/{id}/select", r.audit(r.write(r.handleSelectPokemon)))

	r.mux.HandleFunc("GET "+p+"/profiles", r.audit(r.handleListProfiles))
	r.mux.HandleFunc("POST "+p+"/profiles", r.audit(r.write(r.handleCreateProfile)))
	r.mux.HandleFunc("GET "+p+"/profiles/{id}/teams", r.audit(r.handleProfileTeams))
	r.mux.HandleFunc("POST "+p+"/profiles/{id}/select", r.audit(r.write(r.handleSelectProfile)))
	r.mux.HandleFunc("DELETE "+p+"/profiles/{id}", r.audit(r.write(r.handleDeleteProfile)))

	r.mux.HandleFunc("GET "+p+"/teams", r.audit(r.handleTopTeams))
	r.mux.HandleFunc("POST "+p+"/teams", r.audit(r.withRateLimit(r.writes, rateWindowDefault, profileFromBody, r.handleCreateTeam)))
	r.mux.HandleFunc("GET "+p+"/teams/{id}", r.audit(r.handleGetTeam))
	r.mux.HandleFunc("PATCH "+p+"/teams/{id}", r.audit(r.write(r.handleRenameTeam)))
	r.mux.HandleFunc("DELETE "+p+"/teams/{id}", r.audit(r.write(r.handleDeleteTeam)))
	r.mux.HandleFunc("POST "+p+"/teams/{id}/select", r.audit(r.write(r.handleSelectTeam)))
	r.mux.HandleFunc("GET "+p+"/teams/{id}/pokemon-names", r.audit(r.handleTeamPokemonNames))
	r.mux.HandleFunc("GET "+p+"/teams/{id}/pokemons", r.audit(r.handleTeamMembers))
	r.mux.HandleFunc("POST "+p+"/teams/{id}/pokemons/{pokemonId}", r.audit(r.write(r.handleAddMember)))
	r.mux.HandleFunc("DELETE "+p+"/teams/{id}/pokemons/{pokemonId}", r.audit(r.write(r.handleRemoveMember)))

	r.mux.HandleFunc("GET "+p+"/ws/activity", r.audit(r.handleActivityWS))
	r.mux.HandleFunc("GET "+p+"/activity/stream", r.audit(r.handleActivitySSE))

	r.mux.HandleFunc("/", r.audit(func(w http.ResponseWriter, req *http.Request) { r.notFound(w) }))
}

// write rate limits mutating routes per client address.
func (r *Router) write(next http.HandlerFunc) http.HandlerFunc {
	return r.withRateLimit(r.writes, rateWindowDefault, clientKey, next)
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	if r.cache != nil {
		components["cache"] = map[string]any{"status": "up", "entries": r.cache.Len()}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) handleListPokemon(w http.ResponseWriter, req *http.Request) {
	all, err := r.pokemon.List(req.Context())
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

func (r *Router) handleSelectPokemon(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req, "id")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": r.pokemon.RecordSelection(req.Context(), id)})
}

func (r *Router) handleTopTeams(w http.ResponseWriter, req *http.Request) {
	n := 0
	if raw := strings.TrimSpace(req.URL.Query().Get("topN")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "topN must be a positive integer")
			return
		}
		n = parsed
	}
	top, err := r.teams.ListTop(req.Context(), n)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, top)
}

// decodeBody reads a JSON request body into dst.
func decodeBody(w http.ResponseWriter, req *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, req.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// pathID returns the named path value after checking it is a UUID.
func pathID(w http.ResponseWriter, req *http.Request, name string) (string, bool) {
	raw := req.PathValue(name)
	if _, err := uuid.Parse(raw); err != nil {
		writeError(w, http.StatusBadRequest, name+" must be a UUID")
		return "", false
	}
	return raw, true
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}

		route := req.Pattern
		if route == "" || route == "/" {
			route = "unmatched"
		}
		r.recordRequestMetrics(req.Method, route, status, duration)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		sr.status = http.StatusSwitchingProtocols
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
