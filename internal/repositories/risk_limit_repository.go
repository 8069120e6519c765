package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/victoralfred/portfolio-risk/internal/ports"
	"github.com/victoralfred/portfolio-risk/internal/risk"
)

const duplicateKeyErrorCode = "23505"

// RiskLimitRepository implements ports.RiskLimitStore with PostgreSQL
type RiskLimitRepository struct {
	db *pgxpool.Pool
}

// NewRiskLimitRepository creates a new PostgreSQL risk limit repository
func NewRiskLimitRepository(db *pgxpool.Pool) *RiskLimitRepository {
	return &RiskLimitRepository{db: db}
}

// Create inserts a limit. An empty ID is replaced with a new UUID; the
// version starts at 1.
func (r *RiskLimitRepository) Create(ctx context.Context, limit *risk.RiskLimit) error {
	if limit.ID == "" {
		limit.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	limit.Version = 1
	limit.CreatedAt = now
	limit.UpdatedAt = now

	query := `
		INSERT INTO risk_limits (
			id, owner_id, limit_type, value, enabled, version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)`

	_, err := r.db.Exec(ctx, query,
		limit.ID,
		limit.OwnerID,
		string(limit.Type),
		decimal.NewFromFloat(limit.Value),
		limit.Enabled,
		limit.Version,
		limit.CreatedAt,
		limit.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == duplicateKeyErrorCode {
			return ports.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create risk limit: %w", err)
	}
	return nil
}

// Get retrieves one limit of an owner
func (r *RiskLimitRepository) Get(ctx context.Context, ownerID, limitID string) (*risk.RiskLimit, error) {
	if _, err := uuid.Parse(limitID); err != nil {
		return nil, ports.ErrNotFound
	}

	query := `
		SELECT id::text, owner_id, limit_type, value, enabled, version, created_at, updated_at
		FROM risk_limits
		WHERE id = $1 AND owner_id = $2`

	limit, err := scanRiskLimit(r.db.QueryRow(ctx, query, limitID, ownerID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ports.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get risk limit: %w", err)
	}
	return limit, nil
}

// ListByOwner returns every limit of an owner, enabled or not
func (r *RiskLimitRepository) ListByOwner(ctx context.Context, ownerID string) ([]risk.RiskLimit, error) {
	query := `
		SELECT id::text, owner_id, limit_type, value, enabled, version, created_at, updated_at
		FROM risk_limits
		WHERE owner_id = $1
		ORDER BY limit_type`

	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list risk limits: %w", err)
	}
	defer rows.Close()

	limits := []risk.RiskLimit{}
	for rows.Next() {
		limit, err := scanRiskLimit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan risk limit: %w", err)
		}
		limits = append(limits, *limit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate risk limits: %w", err)
	}
	return limits, nil
}

// Update changes type, value and enabled flag when limit.Version matches the
// stored row. On success limit carries the new version. Changing the type to
// one the owner already has returns ports.ErrAlreadyExists.
func (r *RiskLimitRepository) Update(ctx context.Context, limit *risk.RiskLimit) error {
	if _, err := uuid.Parse(limit.ID); err != nil {
		return ports.ErrNotFound
	}

	query := `
		UPDATE risk_limits
		SET limit_type = $3, value = $4, enabled = $5, version = version + 1, updated_at = $6
		WHERE id = $1 AND owner_id = $2 AND version = $7
		RETURNING version, updated_at`

	err := r.db.QueryRow(ctx, query,
		limit.ID,
		limit.OwnerID,
		string(limit.Type),
		decimal.NewFromFloat(limit.Value),
		limit.Enabled,
		time.Now().UTC(),
		limit.Version,
	).Scan(&limit.Version, &limit.UpdatedAt)
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == duplicateKeyErrorCode {
		return ports.ErrAlreadyExists
	}
	if err != pgx.ErrNoRows {
		return fmt.Errorf("failed to update risk limit: %w", err)
	}

	if _, getErr := r.Get(ctx, limit.OwnerID, limit.ID); getErr != nil {
		return getErr
	}
	return ports.ErrVersionConflict
}

// Delete removes a limit
func (r *RiskLimitRepository) Delete(ctx context.Context, ownerID, limitID string) error {
	if _, err := uuid.Parse(limitID); err != nil {
		return ports.ErrNotFound
	}

	result, err := r.db.Exec(ctx, `DELETE FROM risk_limits WHERE id = $1 AND owner_id = $2`, limitID, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete risk limit: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func scanRiskLimit(row pgx.Row) (*risk.RiskLimit, error) {
	var limit risk.RiskLimit
	var limitType string
	var value decimal.Decimal

	err := row.Scan(
		&limit.ID,
		&limit.OwnerID,
		&limitType,
		&value,
		&limit.Enabled,
		&limit.Version,
		&limit.CreatedAt,
		&limit.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	limit.Type = risk.LimitType(limitType)
	limit.Value = value.InexactFloat64()
	return &limit, nil
}
