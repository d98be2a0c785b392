package repositories

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/yigit/chathub/internal/app/models"
	"github.com/yigit/chathub/internal/db"
)

// PostgresProfileRepository reads profiles owned by the identity service
type PostgresProfileRepository struct {
	db db.Querier
	sb squirrel.StatementBuilderType
}

// NewProfileRepository creates a new PostgresProfileRepository
func NewProfileRepository(q db.Querier) *PostgresProfileRepository {
	return &PostgresProfileRepository{
		db: q,
		sb: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// GetByIDs retrieves the profiles with the given ids, keyed by id
func (r *PostgresProfileRepository) GetByIDs(ctx context.Context, ids []int64) (map[int64]*models.Profile, error) {
	profiles := make(map[int64]*models.Profile, len(ids))
	if len(ids) == 0 {
		return profiles, nil
	}

	sql, args, err := r.sb.Select("id", "username", "display_name").
		From("profiles").
		Where("id = ANY(?)", ids).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building SQL: %w", err)
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p models.Profile
		if err := rows.Scan(&p.ID, &p.Username, &p.DisplayName); err != nil {
			return nil, fmt.Errorf("error scanning profile: %w", err)
		}
		profiles[p.ID] = &p
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating profiles: %w", err)
	}

	return profiles, nil
}

// FindMissing returns the subset of ids that do not name a profile, in input order
func (r *PostgresProfileRepository) FindMissing(ctx context.Context, ids []int64) ([]int64, error) {
	found, err := r.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	var missing []int64
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}

	return missing, nil
}

// UpsertProfile creates the profile or updates its display name. Only the
// seeder writes profiles; in production they are owned by the identity service.
func (r *PostgresProfileRepository) UpsertProfile(ctx context.Context, username, displayName string) (*models.Profile, error) {
	sql, args, err := r.sb.Insert("profiles").
		Columns("username", "display_name").
		Values(username, displayName).
		Suffix("ON CONFLICT (username) DO UPDATE SET display_name = EXCLUDED.display_name RETURNING id, username, display_name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building SQL: %w", err)
	}

	var p models.Profile
	if err := r.db.QueryRow(ctx, sql, args...).Scan(&p.ID, &p.Username, &p.DisplayName); err != nil {
		return nil, fmt.Errorf("error upserting profile: %w", err)
	}

	return &p, nil
}
