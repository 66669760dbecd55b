package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/playrank/playrank/internal/types"
)

// CreateUser inserts a user row.
func (s *Store) CreateUser(ctx context.Context, u *types.User) error {
	if u.Role == "" {
		u.Role = types.RoleRegular
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, username, role) VALUES(?, ?, ?)`,
		u.ID, u.Username, string(u.Role),
	)
	if err != nil {
		return fmt.Errorf("store: create user: %w", err)
	}
	return nil
}

// GetUser loads a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*types.User, error) {
	u := &types.User{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, role FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Username, &u.Role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.NotFoundf("user %s not found", id)
		}
		return nil, fmt.Errorf("store: get user: %w", err)
	}
	return u, nil
}

// CreateActivityType inserts an activity type with its ELO settings.
func (s *Store) CreateActivityType(ctx context.Context, at *types.ActivityType) error {
	settings, err := json.Marshal(at.ELOSettings)
	if err != nil {
		return fmt.Errorf("store: marshal elo settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO activity_types(id, name, category, is_solo_performable, elo_settings)
		 VALUES(?, ?, ?, ?, ?)`,
		at.ID, at.Name, at.Category, at.IsSoloPerformable, string(settings),
	)
	if err != nil {
		return fmt.Errorf("store: create activity type: %w", err)
	}
	return nil
}

// GetActivityType loads an activity type by id.
func (s *Store) GetActivityType(ctx context.Context, id string) (*types.ActivityType, error) {
	at := &types.ActivityType{}
	var settings string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, category, is_solo_performable, elo_settings
		 FROM activity_types WHERE id = ?`, id,
	).Scan(&at.ID, &at.Name, &at.Category, &at.IsSoloPerformable, &settings)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.NotFoundf("activity type %s not found", id)
		}
		return nil, fmt.Errorf("store: get activity type: %w", err)
	}
	if err := json.Unmarshal([]byte(settings), &at.ELOSettings); err != nil {
		return nil, fmt.Errorf("store: decode elo settings for %s: %w", id, err)
	}
	return at, nil
}

// ListActivityTypes returns all activity types ordered by name.
func (s *Store) ListActivityTypes(ctx context.Context) ([]*types.ActivityType, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, category, is_solo_performable, elo_settings
		 FROM activity_types ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("store: list activity types: %w", err)
	}
	defer rows.Close()

	var out []*types.ActivityType
	for rows.Next() {
		at := &types.ActivityType{}
		var settings string
		if err := rows.Scan(&at.ID, &at.Name, &at.Category, &at.IsSoloPerformable, &settings); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(settings), &at.ELOSettings); err != nil {
			return nil, fmt.Errorf("store: decode elo settings for %s: %w", at.ID, err)
		}
		out = append(out, at)
	}
	return out, rows.Err()
}
