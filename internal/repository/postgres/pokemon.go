package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/splax/teambuilder/internal/domain"
	"github.com/splax/teambuilder/internal/repository"
)

const pokemonColumns = `id, name, pokedex_number, selected_count`

// ListPokemon returns the catalog ordered by pokédex number.
func (r *Repository) ListPokemon(ctx context.Context) ([]domain.Pokemon, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+pokemonColumns+` FROM pokemon ORDER BY pokedex_number`)
	if err != nil {
		return nil, wrapQuery("list pokemon", err)
	}
	return collectPokemon(rows)
}

// GetPokemonByIDs returns the existing Pokémon among ids.
func (r *Repository) GetPokemonByIDs(ctx context.Context, ids []string) ([]domain.Pokemon, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if validID(id) {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return []domain.Pokemon{}, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+pokemonColumns+` FROM pokemon WHERE id = ANY($1::uuid[]) ORDER BY pokedex_number`, valid)
	if err != nil {
		return nil, wrapQuery("get pokemon", err)
	}
	return collectPokemon(rows)
}

// InsertMissingPokemon inserts entries keyed by pokédex number, skipping
// numbers already present.
func (r *Repository) InsertMissingPokemon(ctx context.Context, entries []domain.Pokemon) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	const query = `INSERT INTO pokemon (id, name, pokedex_number) VALUES ($1, $2, $3)
		ON CONFLICT (pokedex_number) DO NOTHING`
	batch := &pgx.Batch{}
	for i := range entries {
		if entries[i].Name == "" || entries[i].PokedexNumber <= 0 {
			return 0, repository.ErrInvalidArgument
		}
		ensureID(&entries[i].ID)
		batch.Queue(query, entries[i].ID, entries[i].Name, entries[i].PokedexNumber)
	}
	br := tx.SendBatch(ctx, batch)
	inserted := 0
	for range entries {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return 0, mapError(err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return inserted, nil
}

func collectPokemon(rows pgx.Rows) ([]domain.Pokemon, error) {
	defer rows.Close()
	out := []domain.Pokemon{}
	for rows.Next() {
		var p domain.Pokemon
		if err := rows.Scan(&p.ID, &p.Name, &p.PokedexNumber, &p.SelectedCount); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
