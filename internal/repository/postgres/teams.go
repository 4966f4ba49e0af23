package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/splax/teambuilder/internal/domain"
	"github.com/splax/teambuilder/internal/repository"
)

const (
	teamInsert = `INSERT INTO teams (id, name, profile_id) VALUES ($1, $2, $3)
		RETURNING created_at, selected_count`
	memberInsert = `INSERT INTO team_pokemon (id, team_id, pokemon_id) VALUES ($1, $2, $3)`
	memberSelect = `SELECT tp.id, tp.team_id, tp.pokemon_id, p.name, p.pokedex_number, p.selected_count
		FROM team_pokemon tp
		INNER JOIN pokemon p ON p.id = tp.pokemon_id
		WHERE tp.team_id = ANY($1::uuid[])
		ORDER BY p.pokedex_number`
)

// FindTeamsByNormalizedName matches on the same expression as the unique index.
func (r *Repository) FindTeamsByNormalizedName(ctx context.Context, profileID, normalized string) ([]domain.Team, error) {
	if !validID(profileID) {
		return nil, nil
	}
	return r.queryTeams(ctx, `SELECT id, name, profile_id, created_at, selected_count
		FROM teams WHERE profile_id = $1 AND lower(btrim(name)) = $2`, profileID, normalized)
}

// CreateTeam inserts a team row.
func (r *Repository) CreateTeam(ctx context.Context, team *domain.Team) error {
	if team == nil {
		return repository.ErrInvalidArgument
	}
	ensureID(&team.ID)
	if err := r.pool.QueryRow(ctx, teamInsert, team.ID, team.Name, team.ProfileID).Scan(&team.CreatedAt, &team.SelectedCount); err != nil {
		return wrapQuery("insert team", err)
	}
	return nil
}

// AddMember inserts one membership row.
func (r *Repository) AddMember(ctx context.Context, member *domain.TeamMember) error {
	if member == nil {
		return repository.ErrInvalidArgument
	}
	if !validID(member.PokemonID) || !validID(member.TeamID) {
		return repository.ErrNotFound
	}
	ensureID(&member.ID)
	_, err := r.pool.Exec(ctx, memberInsert, member.ID, member.TeamID, member.PokemonID)
	return wrapQuery("insert team member", err)
}

// CreateTeamWithMembers inserts the team and its memberships in one transaction.
func (r *Repository) CreateTeamWithMembers(ctx context.Context, team *domain.Team, members []domain.TeamMember) error {
	if team == nil {
		return repository.ErrInvalidArgument
	}
	for _, m := range members {
		if !validID(m.PokemonID) {
			return repository.ErrNotFound
		}
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	ensureID(&team.ID)
	if err := tx.QueryRow(ctx, teamInsert, team.ID, team.Name, team.ProfileID).Scan(&team.CreatedAt, &team.SelectedCount); err != nil {
		return wrapQuery("insert team", err)
	}

	if len(members) > 0 {
		batch := &pgx.Batch{}
		for i := range members {
			members[i].TeamID = team.ID
			ensureID(&members[i].ID)
			batch.Queue(memberInsert, members[i].ID, team.ID, members[i].PokemonID)
		}
		br := tx.SendBatch(ctx, batch)
		for range members {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return wrapQuery("insert team member", err)
			}
		}
		if err := br.Close(); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// GetTeamByID returns a team with members resolved to Pokémon.
func (r *Repository) GetTeamByID(ctx context.Context, id string) (*domain.Team, error) {
	if !validID(id) {
		return nil, repository.ErrNotFound
	}
	teams, err := r.queryTeams(ctx, `SELECT id, name, profile_id, created_at, selected_count FROM teams WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(teams) == 0 {
		return nil, repository.ErrNotFound
	}
	return &teams[0], nil
}

// ListTeamsByProfile returns a profile's teams oldest first.
func (r *Repository) ListTeamsByProfile(ctx context.Context, profileID string) ([]domain.Team, error) {
	if !validID(profileID) {
		return []domain.Team{}, nil
	}
	return r.queryTeams(ctx, `SELECT id, name, profile_id, created_at, selected_count
		FROM teams WHERE profile_id = $1 ORDER BY created_at, id`, profileID)
}

// ListTopTeams ranks teams by popularity, newest first on ties.
func (r *Repository) ListTopTeams(ctx context.Context, limit int) ([]domain.TeamSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	const query = `SELECT t.id, t.name, t.selected_count, t.created_at, p.id, p.name
		FROM teams t
		INNER JOIN profiles p ON p.id = t.profile_id
		ORDER BY t.selected_count DESC, t.created_at DESC, t.id
		LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, wrapQuery("list top teams", err)
	}
	defer rows.Close()
	out := []domain.TeamSummary{}
	for rows.Next() {
		var s domain.TeamSummary
		if err := rows.Scan(&s.ID, &s.Name, &s.SelectedCount, &s.CreatedAt, &s.ProfileID, &s.ProfileName); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// RenameTeam updates a team's name.
func (r *Repository) RenameTeam(ctx context.Context, id, name string) error {
	if !validID(id) {
		return repository.ErrNotFound
	}
	return r.execAffected(ctx, `UPDATE teams SET name = $2 WHERE id = $1`, id, name)
}

// DeleteTeam removes a team; memberships cascade.
func (r *Repository) DeleteTeam(ctx context.Context, id string) error {
	if !validID(id) {
		return repository.ErrNotFound
	}
	return r.execAffected(ctx, `DELETE FROM teams WHERE id = $1`, id)
}

// RemoveMember deletes one membership.
func (r *Repository) RemoveMember(ctx context.Context, teamID, pokemonID string) error {
	if !validID(teamID) || !validID(pokemonID) {
		return repository.ErrNotFound
	}
	return r.execAffected(ctx, `DELETE FROM team_pokemon WHERE team_id = $1 AND pokemon_id = $2`, teamID, pokemonID)
}

// CountMembers counts a team's memberships.
func (r *Repository) CountMembers(ctx context.Context, teamID string) (int, error) {
	if !validID(teamID) {
		return 0, repository.ErrNotFound
	}
	const query = `SELECT (SELECT COUNT(1) FROM team_pokemon WHERE team_id = t.id) FROM teams t WHERE t.id = $1`
	var count int
	if err := r.pool.QueryRow(ctx, query, teamID).Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, repository.ErrNotFound
		}
		return 0, err
	}
	return count, nil
}

// queryTeams loads team rows and attaches their members with one extra query.
func (r *Repository) queryTeams(ctx context.Context, query string, args ...any) ([]domain.Team, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapQuery("list teams", err)
	}
	teams := []domain.Team{}
	for rows.Next() {
		var t domain.Team
		if err := rows.Scan(&t.ID, &t.Name, &t.ProfileID, &t.CreatedAt, &t.SelectedCount); err != nil {
			rows.Close()
			return nil, err
		}
		t.Members = []domain.TeamMember{}
		teams = append(teams, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(teams) == 0 {
		return teams, nil
	}
	if err := r.attachMembers(ctx, teams); err != nil {
		return nil, err
	}
	return teams, nil
}

func (r *Repository) attachMembers(ctx context.Context, teams []domain.Team) error {
	ids := make([]string, len(teams))
	index := make(map[string]int, len(teams))
	for i, t := range teams {
		ids[i] = t.ID
		index[t.ID] = i
	}
	rows, err := r.pool.Query(ctx, memberSelect, ids)
	if err != nil {
		return wrapQuery("list team members", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m domain.TeamMember
		p := &domain.Pokemon{}
		if err := rows.Scan(&m.ID, &m.TeamID, &m.PokemonID, &p.Name, &p.PokedexNumber, &p.SelectedCount); err != nil {
			return err
		}
		p.ID = m.PokemonID
		m.Pokemon = p
		if i, ok := index[m.TeamID]; ok {
			teams[i].Members = append(teams[i].Members, m)
		}
	}
	return rows.Err()
}
