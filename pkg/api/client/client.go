package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client provides typed access to the team builder API.
type Client struct {
	baseURL    string
	prefix     string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithPrefix overrides the API route prefix (default /api).
func WithPrefix(prefix string) Option {
	return func(c *Client) {
		c.prefix = "/" + strings.Trim(prefix, "/")
		if c.prefix == "/" {
			c.prefix = ""
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:3000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		prefix:     "/api",
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	if e.Code == "" {
		return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api request failed (%d %s): %s", e.Status, e.Code, e.Message)
}

// ErrorCode returns the machine readable code of an APIError, or "" when
// err is not one.
func ErrorCode(err error) string {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

func (c *Client) do(ctx context.Context, method, path string, body any, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + c.prefix + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return extractError(resp.StatusCode, resp.Body)
	}

	if v == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(status int, body io.Reader) APIError {
	apiErr := APIError{Status: status}
	if body == nil {
		return apiErr
	}
	var payload struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return apiErr
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		apiErr.Message = strings.TrimSpace(string(data))
		return apiErr
	}
	apiErr.Code = payload.Code
	apiErr.Message = strings.TrimSpace(payload.Error)
	return apiErr
}

// Pokemon is a catalog entry.
type Pokemon struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	PokedexNumber int    `json:"pokedexNumber"`
	SelectedCount int    `json:"selectedCount"`
}

// TeamMember links a team to one Pokémon.
type TeamMember struct {
	ID        string   `json:"id"`
	TeamID    string   `json:"teamId"`
	PokemonID string   `json:"pokemonId"`
	Pokemon   *Pokemon `json:"pokemon,omitempty"`
}

// Team is a named group of up to six Pokémon.
type Team struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	ProfileID     string       `json:"profileId"`
	CreatedAt     time.Time    `json:"createdAt"`
	SelectedCount int          `json:"selectedCount"`
	Members       []TeamMember `json:"teamPokemons"`
}

// TeamSummary is one row of the popularity ranking.
type TeamSummary struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	SelectedCount int       `json:"selectedCount"`
	CreatedAt     time.Time `json:"createdAt"`
	ProfileID     string    `json:"profileId"`
	ProfileName   string    `json:"profileName"`
}

// Profile owns teams.
type Profile struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	CreatedAt     time.Time `json:"createdAt"`
	SelectedCount int       `json:"selectedCount"`
	Teams         []Team    `json:"createdTeams,omitempty"`
}

// CreateTeamInput captures the payload for team creation.
type CreateTeamInput struct {
	Name       string   `json:"name"`
	ProfileID  string   `json:"profileId"`
	PokemonIDs []string `json:"pokemonIds"`
}

type selection struct {
	OK bool `json:"ok"`
}

// ListPokemon returns the catalog ordered by pokédex number.
func (c *Client) ListPokemon(ctx context.Context) ([]Pokemon, error) {
	var all []Pokemon
	if err := c.do(ctx, http.MethodGet, "/pokemon", nil, &all); err != nil {
		return nil, err
	}
	return all, nil
}

// SelectPokemon records a selection and reports whether it was stored.
func (c *Client) SelectPokemon(ctx context.Context, pokemonID string) (bool, error) {
	return c.selectResource(ctx, "/pokemon/"+url.PathEscape(pokemonID)+"/select")
}

// ListProfiles returns every profile with its teams.
func (c *Client) ListProfiles(ctx context.Context) ([]Profile, error) {
	var profiles []Profile
	if err := c.do(ctx, http.MethodGet, "/profiles", nil, &profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

// CreateProfile registers a profile.
func (c *Client) CreateProfile(ctx context.Context, name string) (Profile, error) {
	var profile Profile
	if err := c.do(ctx, http.MethodPost, "/profiles", map[string]string{"name": name}, &profile); err != nil {
		return Profile{}, err
	}
	return profile, nil
}

// ProfileTeams lists a profile's teams.
func (c *Client) ProfileTeams(ctx context.Context, profileID string) ([]Team, error) {
	path := fmt.Sprintf("/profiles/%s/teams", url.PathEscape(profileID))
	var teams []Team
	if err := c.do(ctx, http.MethodGet, path, nil, &teams); err != nil {
		return nil, err
	}
	return teams, nil
}

// SelectProfile records a profile selection.
func (c *Client) SelectProfile(ctx context.Context, profileID string) (bool, error) {
	return c.selectResource(ctx, "/profiles/"+url.PathEscape(profileID)+"/select")
}

// DeleteProfile removes a profile and its teams.
func (c *Client) DeleteProfile(ctx context.Context, profileID string) error {
	return c.do(ctx, http.MethodDelete, "/profiles/"+url.PathEscape(profileID), nil, nil)
}

// TopTeams returns the n most selected teams. n <= 0 uses the server default.
func (c *Client) TopTeams(ctx context.Context, n int) ([]TeamSummary, error) {
	path := "/teams"
	if n > 0 {
		path = fmt.Sprintf("/teams?topN=%d", n)
	}
	var top []TeamSummary
	if err := c.do(ctx, http.MethodGet, path, nil, &top); err != nil {
		return nil, err
	}
	return top, nil
}

// CreateTeam creates a team with its members.
func (c *Client) CreateTeam(ctx context.Context, input CreateTeamInput) (Team, error) {
	var team Team
	if err := c.do(ctx, http.MethodPost, "/teams", input, &team); err != nil {
		return Team{}, err
	}
	return team, nil
}

// GetTeam fetches a team with its members.
func (c *Client) GetTeam(ctx context.Context, teamID string) (Team, error) {
	var team Team
	if err := c.do(ctx, http.MethodGet, "/teams/"+url.PathEscape(teamID), nil, &team); err != nil {
		return Team{}, err
	}
	return team, nil
}

// RenameTeam changes a team's name.
func (c *Client) RenameTeam(ctx context.Context, teamID, name string) (Team, error) {
	var team Team
	if err := c.do(ctx, http.MethodPatch, "/teams/"+url.PathEscape(teamID), map[string]string{"name": name}, &team); err != nil {
		return Team{}, err
	}
	return team, nil
}

// DeleteTeam removes a team.
func (c *Client) DeleteTeam(ctx context.Context, teamID string) error {
	return c.do(ctx, http.MethodDelete, "/teams/"+url.PathEscape(teamID), nil, nil)
}

// SelectTeam records a team selection.
func (c *Client) SelectTeam(ctx context.Context, teamID string) (bool, error) {
	return c.selectResource(ctx, "/teams/"+url.PathEscape(teamID)+"/select")
}

// TeamPokemonNames lists the names of a team's Pokémon in pokédex order.
func (c *Client) TeamPokemonNames(ctx context.Context, teamID string) ([]string, error) {
	var names []string
	if err := c.do(ctx, http.MethodGet, "/teams/"+url.PathEscape(teamID)+"/pokemon-names", nil, &names); err != nil {
		return nil, err
	}
	return names, nil
}

// TeamMembers lists a team's memberships.
func (c *Client) TeamMembers(ctx context.Context, teamID string) ([]TeamMember, error) {
	var members []TeamMember
	if err := c.do(ctx, http.MethodGet, "/teams/"+url.PathEscape(teamID)+"/pokemons", nil, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// AddTeamMember attaches a Pokémon to a team.
func (c *Client) AddTeamMember(ctx context.Context, teamID, pokemonID string) (TeamMember, error) {
	path := fmt.Sprintf("/teams/%s/pokemons/%s", url.PathEscape(teamID), url.PathEscape(pokemonID))
	var member TeamMember
	if err := c.do(ctx, http.MethodPost, path, nil, &member); err != nil {
		return TeamMember{}, err
	}
	return member, nil
}

// RemoveTeamMember detaches a Pokémon from a team.
func (c *Client) RemoveTeamMember(ctx context.Context, teamID, pokemonID string) error {
	path := fmt.Sprintf("/teams/%s/pokemons/%s", url.PathEscape(teamID), url.PathEscape(pokemonID))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) selectResource(ctx context.Context, path string) (bool, error) {
	var out selection
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return false, err
	}
	return out.OK, nil
}
