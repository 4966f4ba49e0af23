package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/splax/teambuilder/internal/domain"
	"github.com/splax/teambuilder/internal/repository"
)

// CreateProfile inserts a profile and fills in its creation time.
func (r *Repository) CreateProfile(ctx context.Context, profile *domain.Profile) error {
	if profile == nil {
		return repository.ErrInvalidArgument
	}
	ensureID(&profile.ID)
	const query = `INSERT INTO profiles (id, name) VALUES ($1, $2) RETURNING created_at, selected_count`
	if err := r.pool.QueryRow(ctx, query, profile.ID, profile.Name).Scan(&profile.CreatedAt, &profile.SelectedCount); err != nil {
		return wrapQuery("insert profile", err)
	}
	return nil
}

// GetProfileByID fetches a profile without its teams.
func (r *Repository) GetProfileByID(ctx context.Context, id string) (*domain.Profile, error) {
	if !validID(id) {
		return nil, repository.ErrNotFound
	}
	const query = `SELECT id, name, created_at, selected_count FROM profiles WHERE id = $1`
	var p domain.Profile
	if err := r.pool.QueryRow(ctx, query, id).Scan(&p.ID, &p.Name, &p.CreatedAt, &p.SelectedCount); err != nil {
		return nil, wrapQuery("get profile", err)
	}
	return &p, nil
}

// ListProfiles returns every profile, oldest first, with teams and members.
func (r *Repository) ListProfiles(ctx context.Context) ([]domain.Profile, error) {
	const query = `SELECT id, name, created_at, selected_count FROM profiles ORDER BY created_at, id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, wrapQuery("list profiles", err)
	}
	defer rows.Close()

	var profiles []domain.Profile
	index := make(map[string]int)
	for rows.Next() {
		var p domain.Profile
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt, &p.SelectedCount); err != nil {
			return nil, err
		}
		p.Teams = []domain.Team{}
		index[p.ID] = len(profiles)
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return []domain.Profile{}, nil
	}

	teams, err := r.queryTeams(ctx, `SELECT id, name, profile_id, created_at, selected_count FROM teams ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	for _, t := range teams {
		if i, ok := index[t.ProfileID]; ok {
			profiles[i].Teams = append(profiles[i].Teams, t)
		}
	}
	return profiles, nil
}

// DeleteProfile removes a profile with its teams and returns the ids of the
// teams removed. The profile row is locked first so no team can be added to
// it between the two deletes.
func (r *Repository) DeleteProfile(ctx context.Context, id string) ([]string, error) {
	if !validID(id) {
		return nil, repository.ErrNotFound
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var locked string
	if err := tx.QueryRow(ctx, `SELECT id FROM profiles WHERE id = $1 FOR UPDATE`, id).Scan(&locked); err != nil {
		return nil, wrapQuery("lock profile", err)
	}

	rows, err := tx.Query(ctx, `DELETE FROM teams WHERE profile_id = $1 RETURNING id`, id)
	if err != nil {
		return nil, wrapQuery("delete profile teams", err)
	}
	teamIDs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, wrapQuery("delete profile teams", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM profiles WHERE id = $1`, id); err != nil {
		return nil, wrapQuery("delete profile", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return teamIDs, nil
}
