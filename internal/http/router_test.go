package httpx

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/splax/teambuilder/internal/cache"
	"github.com/splax/teambuilder/internal/catalog"
	"github.com/splax/teambuilder/internal/domain"
	"github.com/splax/teambuilder/internal/repository/memory"
	"github.com/splax/teambuilder/internal/service/activity"
	"github.com/splax/teambuilder/internal/service/pokemon"
	"github.com/splax/teambuilder/internal/service/profile"
	"github.com/splax/teambuilder/internal/service/team"
	"github.com/splax/teambuilder/internal/ws"
)

type rateLimitCall struct {
	key    string
	limit  int
	window time.Duration
}

type rateLimiterStub struct {
	mu      sync.Mutex
	calls   []rateLimitCall
	allowFn func(key string, limit int, window time.Duration) rateDecision
}

func (rl *rateLimiterStub) Allow(key string, limit int, window time.Duration) rateDecision {
	rl.mu.Lock()
	rl.calls = append(rl.calls, rateLimitCall{key: key, limit: limit, window: window})
	fn := rl.allowFn
	rl.mu.Unlock()
	if fn != nil {
		return fn(key, limit, window)
	}
	return rateDecision{allowed: true, count: 1, windowEnd: time.Now().Add(window)}
}

func (rl *rateLimiterStub) Close() {}

type testEnv struct {
	router  *Router
	repo    *memory.Repository
	hub     *ws.Hub
	layer   *cache.Layer
	ash     domain.Profile
	pokemon map[string]string
}

func newTestEnv(t *testing.T, limiter RateLimiter, health func(context.Context) error) *testEnv {
	t.Helper()
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	repo := memory.New()
	layer := cache.NewLayer(cache.NewLRU[any](cache.Config{MaxEntries: cache.DefaultMaxEntries, DefaultTTL: cache.DefaultTTL}), nil, log)
	hub := ws.NewHub()
	events := activity.New(hub, log)

	pokemonSvc := pokemon.New(repo, layer, log, time.Hour)
	_, err := pokemonSvc.Seed(ctx, []catalog.Entry{
		{Number: 1, Name: "bulbasaur"},
		{Number: 4, Name: "charmander"},
		{Number: 7, Name: "squirtle"},
		{Number: 25, Name: "pikachu"},
		{Number: 133, Name: "eevee"},
		{Number: 143, Name: "snorlax"},
		{Number: 151, Name: "mew"},
	})
	require.NoError(t, err)
	all, err := repo.ListPokemon(ctx)
	require.NoError(t, err)
	ids := make(map[string]string, len(all))
	for _, p := range all {
		ids[p.Name] = p.ID
	}

	ash := domain.Profile{Name: "Ash"}
	require.NoError(t, repo.CreateProfile(ctx, &ash))

	svc := Services{
		Teams:    team.New(repo, layer, events, log, team.Options{AtomicCreate: true}),
		Profiles: profile.New(repo, layer, events, log, time.Hour),
		Pokemon:  pokemonSvc,
		Activity: events,
	}
	reg := prometheus.NewRegistry()
	router := NewRouter(log, svc, Options{
		Limiter:           limiter,
		AllowedOrigins:    []string{"http://localhost:4200"},
		Health:            health,
		Cache:             layer,
		Registerer:        reg,
		Gatherer:          reg,
		HeartbeatInterval: 20 * time.Millisecond,
	})
	t.Cleanup(func() {
		router.Close()
		hub.Close()
	})
	return &testEnv{router: router, repo: repo, hub: hub, layer: layer, ash: ash, pokemon: ids}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "203.0.113.7:5555"
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) ids(names ...string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = e.pokemon[n]
	}
	return out
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var payload map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	return payload
}

func TestCreateTeamFlow(t *testing.T) {
	env := newTestEnv(t, &rateLimiterStub{}, nil)
	body := map[string]any{"name": "Starter Squad", "profileId": env.ash.ID, "pokemonIds": env.ids("pikachu", "charmander")}

	rr := env.do(t, http.MethodPost, "/api/teams", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created domain.Team
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.Equal(t, "Starter Squad", created.Name)
	require.Len(t, created.Members, 2)
	require.NotNil(t, created.Members[0].Pokemon)

	rr = env.do(t, http.MethodPost, "/api/teams", body)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "duplicate_team_name", decodeError(t, rr)["code"])

	rr = env.do(t, http.MethodGet, "/api/profiles/"+env.ash.ID+"/teams", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var teams []domain.Team
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &teams))
	require.Len(t, teams, 1)

	rr = env.do(t, http.MethodGet, "/api/teams/"+created.ID+"/pokemon-names", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var names []string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &names))
	require.Equal(t, []string{"charmander", "pikachu"}, names)
}

func TestCreateTeamErrorCodes(t *testing.T) {
	env := newTestEnv(t, &rateLimiterStub{}, nil)
	unknown := "7b0f5f0e-8d5b-4d7e-9d55-2f6a3c1b9e01"

	cases := []struct {
		name   string
		body   map[string]any
		status int
		code   string
	}{
		{"seven pokemon", map[string]any{"name": "Big", "profileId": env.ash.ID, "pokemonIds": env.ids("bulbasaur", "charmander", "squirtle", "pikachu", "eevee", "snorlax", "mew")}, http.StatusBadRequest, "capacity_exceeded"},
		{"no pokemon", map[string]any{"name": "Empty", "profileId": env.ash.ID, "pokemonIds": []string{}}, http.StatusBadRequest, "composition_invalid"},
		{"missing pokemon field", map[string]any{"name": "Empty", "profileId": env.ash.ID}, http.StatusBadRequest, "composition_invalid"},
		{"blank name", map[string]any{"name": " ", "profileId": env.ash.ID, "pokemonIds": env.ids("mew")}, http.StatusBadRequest, "invalid_request"},
		{"unknown profile", map[string]any{"name": "Lost", "profileId": unknown, "pokemonIds": env.ids("mew")}, http.StatusNotFound, "profile_not_found"},
		{"unknown pokemon", map[string]any{"name": "Ghost", "profileId": env.ash.ID, "pokemonIds": []string{unknown}}, http.StatusNotFound, "pokemon_not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/api/teams", tc.body)
			require.Equal(t, tc.status, rr.Code, rr.Body.String())
			require.Equal(t, tc.code, decodeError(t, rr)["code"])
		})
	}

	teams, err := env.repo.ListTeamsByProfile(context.Background(), env.ash.ID)
	require.NoError(t, err)
	require.Empty(t, teams)

	req := httptest.NewRequest(http.MethodPost, "/api/teams", strings.NewReader("{"))
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPathIdentifiersMustBeUUIDs(t *testing.T) {
	env := newTestEnv(t, &rateLimiterStub{}, nil)
	for _, path := range []string{"/api/teams/abc", "/api/profiles/abc/teams", "/api/teams/abc/pokemons"} {
		rr := env.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusBadRequest, rr.Code, path)
	}
	rr := env.do(t, http.MethodGet, "/api/teams/7b0f5f0e-8d5b-4d7e-9d55-2f6a3c1b9e01", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "team_not_found", decodeError(t, rr)["code"])
}

func TestSelectionEndpointsReportOK(t *testing.T) {
	env := newTestEnv(t, &rateLimiterStub{}, nil)

	rr := env.do(t, http.MethodPost, "/api/pokemon/"+env.pokemon["mew"]+"/select", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"ok":true}`, rr.Body.String())

	rr = env.do(t, http.MethodPost, "/api/profiles/7b0f5f0e-8d5b-4d7e-9d55-2f6a3c1b9e01/select", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"ok":false}`, rr.Body.String())

	rr = env.do(t, http.MethodGet, "/api/pokemon", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var all []domain.Pokemon
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &all))
	require.Len(t, all, 7)
	require.Equal(t, 1, all[6].SelectedCount)
}

func TestTeamLifecycleEndpoints(t *testing.T) {
	env := newTestEnv(t, &rateLimiterStub{}, nil)
	rr := env.do(t, http.MethodPost, "/api/teams", map[string]any{"name": "Alpha", "profileId": env.ash.ID, "pokemonIds": env.ids("eevee")})
	require.Equal(t, http.StatusCreated, rr.Code)
	var created domain.Team
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	base := "/api/teams/" + created.ID

	rr = env.do(t, http.MethodPost, base+"/pokemons/"+env.pokemon["snorlax"], nil)
	require.Equal(t, http.StatusCreated, rr.Code)
	rr = env.do(t, http.MethodPost, base+"/pokemons/"+env.pokemon["snorlax"], nil)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "already_member", decodeError(t, rr)["code"])

	rr = env.do(t, http.MethodDelete, base+"/pokemons/"+env.pokemon["mew"], nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "member_not_found", decodeError(t, rr)["code"])
	rr = env.do(t, http.MethodDelete, base+"/pokemons/"+env.pokemon["snorlax"], nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
	rr = env.do(t, http.MethodDelete, base+"/pokemons/"+env.pokemon["eevee"], nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "composition_invalid", decodeError(t, rr)["code"])

	rr = env.do(t, http.MethodPatch, base, map[string]string{"name": "Omega"})
	require.Equal(t, http.StatusOK, rr.Code)
	rr = env.do(t, http.MethodPost, base+"/select", nil)
	require.JSONEq(t, `{"ok":true}`, rr.Body.String())

	rr = env.do(t, http.MethodGet, "/api/teams?topN=5", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var top []domain.TeamSummary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &top))
	require.Len(t, top, 1)
	require.Equal(t, "Omega", top[0].Name)
	require.Equal(t, "Ash", top[0].ProfileName)

	rr = env.do(t, http.MethodGet, "/api/teams?topN=zero", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodDelete, base, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
	rr = env.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestProfileEndpoints(t *testing.T) {
	env := newTestEnv(t, &rateLimiterStub{}, nil)

	rr := env.do(t, http.MethodPost, "/api/profiles", map[string]string{"name": "  Misty "})
	require.Equal(t, http.StatusCreated, rr.Code)
	var misty domain.Profile
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &misty))
	require.Equal(t, "Misty", misty.Name)

	rr = env.do(t, http.MethodPost, "/api/profiles", map[string]string{"name": ""})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/profiles", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var profiles []domain.Profile
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &profiles))
	require.Len(t, profiles, 2)

	rr = env.do(t, http.MethodDelete, "/api/profiles/"+misty.ID, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
	rr = env.do(t, http.MethodGet, "/api/profiles/"+misty.ID+"/teams", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "profile_not_found", decodeError(t, rr)["code"])
}

func TestWriteRoutesAreRateLimited(t *testing.T) {
	reset := time.Unix(1_950_000_000, 0)
	limiter := &rateLimiterStub{allowFn: func(key string, limit int, window time.Duration) rateDecision {
		return rateDecision{allowed: false, count: limit + 1, windowEnd: reset}
	}}
	env := newTestEnv(t, limiter, nil)

	rr := env.do(t, http.MethodPost, "/api/profiles", map[string]string{"name": "Brock"})
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.Equal(t, "60", rr.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))
	require.Equal(t, "1950000000", rr.Header().Get("X-RateLimit-Reset"))
	require.Equal(t, "rate_limited", decodeError(t, rr)["code"])

	rr = env.do(t, http.MethodGet, "/api/profiles", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	require.Len(t, limiter.calls, 1)
	require.Equal(t, "ip:203.0.113.7", limiter.calls[0].key)
	require.Equal(t, time.Minute, limiter.calls[0].window)
}

func TestMemoryRateLimiterWindow(t *testing.T) {
	rl := NewMemoryRateLimiter()
	defer rl.Close()

	for i := 1; i <= 2; i++ {
		d := rl.Allow("ip:1", 2, time.Minute)
		require.True(t, d.allowed)
		require.Equal(t, i, d.count)
	}
	require.False(t, rl.Allow("ip:1", 2, time.Minute).allowed)
	require.True(t, rl.Allow("ip:2", 2, time.Minute).allowed)
}

func TestTeamCreationIsLimitedPerProfile(t *testing.T) {
	limiter := &rateLimiterStub{}
	env := newTestEnv(t, limiter, nil)

	rr := env.do(t, http.MethodPost, "/api/teams", map[string]any{"name": "Keyed", "profileId": env.ash.ID, "pokemonIds": env.ids("mew")})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = env.do(t, http.MethodPost, "/api/teams", map[string]any{"name": "Nobody", "profileId": "not-a-uuid", "pokemonIds": env.ids("mew")})
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/profiles", map[string]string{"name": "Brock"})
	require.Equal(t, http.StatusCreated, rr.Code)

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	require.Len(t, limiter.calls, 3)
	require.Equal(t, "profile:"+env.ash.ID, limiter.calls[0].key)
	require.Equal(t, "ip:203.0.113.7", limiter.calls[1].key)
	require.Equal(t, "ip:203.0.113.7", limiter.calls[2].key)
}

func TestMemoryRateLimiterPrunesExpiredWindows(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := &memoryRateLimiter{
		windows:    make(map[string]*window),
		pruneEvery: time.Minute,
		now:        func() time.Time { return now },
	}

	rl.Allow("ip:1", 1, time.Second)
	require.False(t, rl.Allow("ip:1", 1, time.Second).allowed)

	now = now.Add(2 * time.Second)
	d := rl.Allow("ip:1", 1, time.Second)
	require.True(t, d.allowed)
	require.Equal(t, 1, d.count)

	rl.Allow("ip:2", 1, time.Second)
	now = now.Add(2 * time.Minute)
	rl.Allow("ip:3", 1, time.Second)
	require.Len(t, rl.windows, 1)
	require.Contains(t, rl.windows, "ip:3")
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, &rateLimiterStub{}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/teams", nil)
	req.Header.Set("Origin", "http://localhost:4200")
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, "http://localhost:4200", rr.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), "PATCH")

	req = httptest.NewRequest(http.MethodGet, "/api/pokemon", nil)
	req.Header.Set("Origin", "http://evil.example")
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealthzReportsDatabase(t *testing.T) {
	env := newTestEnv(t, &rateLimiterStub{}, func(context.Context) error { return nil })
	rr := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	down := newTestEnv(t, &rateLimiterStub{}, func(context.Context) error { return errors.New("connection refused") })
	rr = down.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Contains(t, rr.Body.String(), "connection refused")
}

func TestMetricsExposeRequestsAndCache(t *testing.T) {
	env := newTestEnv(t, &rateLimiterStub{}, nil)
	env.do(t, http.MethodGet, "/api/pokemon", nil)
	env.do(t, http.MethodGet, "/api/pokemon", nil)

	rr := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	require.Contains(t, body, `teambuilder_api_http_requests_total{method="GET",route="GET /api/pokemon",status="200"} 2`)
	require.Contains(t, body, "teambuilder_cache_entries 1")
	require.Contains(t, body, "teambuilder_cache_hits_total 1")
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t, &rateLimiterStub{}, nil)
	rr := env.do(t, http.MethodGet, "/api/nothing", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "not_found", decodeError(t, rr)["code"])
}

func TestClassify(t *testing.T) {
	cases := map[error]string{
		fmt.Errorf("%w: 7", team.ErrCapacityExceeded): "capacity_exceeded",
		team.ErrNotMember:                              "member_not_found",
		fmt.Errorf("wrap: %w", profile.ErrNotFound):    "profile_not_found",
		errors.New("boom"):                             "internal",
	}
	for err, want := range cases {
		_, code, _ := classify(err)
		require.Equal(t, want, code, err.Error())
	}

	rr := httptest.NewRecorder()
	r := &Router{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	r.writeServiceError(rr, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("pq: secret detail"))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotContains(t, rr.Body.String(), "secret detail")
}

func TestActivityStreams(t *testing.T) {
	env := newTestEnv(t, &rateLimiterStub{}, nil)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/activity/stream?profile_id="+env.ash.ID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/activity"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return env.hub.Subscribers() == 2 }, 2*time.Second, 10*time.Millisecond)

	rr := env.do(t, http.MethodPost, "/api/teams", map[string]any{"name": "Live", "profileId": env.ash.ID, "pokemonIds": env.ids("mew")})
	require.Equal(t, http.StatusCreated, rr.Code)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var event activity.Event
	require.NoError(t, json.Unmarshal(msg, &event))
	require.Equal(t, activity.TeamCreated, event.Type)
	require.Equal(t, env.ash.ID, event.ProfileID)

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			require.Contains(t, line, `"type":"team.created"`)
			break
		}
	}

	rr = env.do(t, http.MethodGet, "/api/activity/stream?profile_id=nope", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestActivityWebsocketChecksOrigin(t *testing.T) {
	env := newTestEnv(t, &rateLimiterStub{}, nil)
	srv := httptest.NewServer(env.router)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/activity"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"http://evil.example"}})
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"http://localhost:4200"}})
	require.NoError(t, err)
	conn.Close()

	conn, _, err = websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {srv.URL}})
	require.NoError(t, err)
	conn.Close()
}
