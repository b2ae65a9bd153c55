package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/pokjoy/qfeng5/internal/models"
	"github.com/pokjoy/qfeng5/internal/utils"
)

const configColumns = `key, value, type, category, description, updated_by, updated_at`

// ConfigRepository handles data access for system_configs.
type ConfigRepository struct {
	db *sqlx.DB
}

// NewConfigRepository creates a new ConfigRepository.
func NewConfigRepository(db *sqlx.DB) *ConfigRepository {
	return &ConfigRepository{db: db}
}

// Get returns one configuration row, or utils.ErrConfigNotFound.
func (r *ConfigRepository) Get(ctx context.Context, key string) (*models.SystemConfig, error) {
	const q = `SELECT ` + configColumns + ` FROM system_configs WHERE key = $1`
	stmt, err := r.db.PreparexContext(ctx, q)
	if err != nil {
		return nil, storeErr("prepare get config", err)
	}
	defer stmt.Close()

	var c models.SystemConfig
	if err := stmt.GetContext(ctx, &c, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, utils.ErrConfigNotFound
		}
		return nil, storeErr("get config", err)
	}
	return &c, nil
}

// List returns every configuration row, optionally limited to one category.
func (r *ConfigRepository) List(ctx context.Context, category string) ([]models.SystemConfig, error) {
	q := `SELECT ` + configColumns + ` FROM system_configs`
	args := []interface{}{}
	if category != "" {
		q += ` WHERE category = $1`
		args = append(args, category)
	}
	q += ` ORDER BY key`

	list := []models.SystemConfig{}
	if err := r.db.SelectContext(ctx, &list, q, args...); err != nil {
		return nil, storeErr("list configs", err)
	}
	return list, nil
}

// Upsert writes a configuration row. Category and description are kept when
// the incoming values are empty.
func (r *ConfigRepository) Upsert(ctx context.Context, c *models.SystemConfig) error {
	const q = `
        INSERT INTO system_configs (key, value, type, category, description, updated_by, updated_at)
        VALUES ($1, $2, $3, COALESCE(NULLIF($4::varchar, ''), 'general'), $5, $6, NOW())
        ON CONFLICT (key) DO UPDATE SET
            value = EXCLUDED.value,
            type = EXCLUDED.type,
            category = COALESCE(NULLIF($4::varchar, ''), system_configs.category),
            description = COALESCE(NULLIF($5::text, ''), system_configs.description),
            updated_by = EXCLUDED.updated_by,
            updated_at = NOW()
        RETURNING updated_at`

	err := r.db.QueryRowxContext(ctx, q,
		c.Key, c.Value, c.Type, c.Category, c.Description, c.UpdatedBy,
	).Scan(&c.UpdatedAt)
	if err != nil {
		return storeErr("upsert config", err)
	}
	return nil
}
