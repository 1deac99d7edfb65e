package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jwalitptl/notification-dispatcher/internal/model"
	"github.com/jwalitptl/notification-dispatcher/internal/repository"
	apperrors "github.com/jwalitptl/notification-dispatcher/pkg/errors"
)

type endpointRepository struct {
	BaseRepository
}

func NewEndpointRepository(base BaseRepository) repository.EndpointRepository {
	return &endpointRepository{base}
}

type endpointRow struct {
	UserID    string    `db:"user_id"`
	Endpoints []byte    `db:"endpoints"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r *endpointRepository) Get(ctx context.Context, userID string) (record *model.StoredEndpointRecord, err error) {
	defer func(start time.Time) { r.track("get", start, err) }(time.Now())

	query := `
		SELECT user_id, endpoints, created_at, updated_at
		FROM user_endpoints
		WHERE user_id = $1
	`

	var row endpointRow
	if err := r.db.GetContext(ctx, &row, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get endpoint record: %w", err)
	}

	record = &model.StoredEndpointRecord{
		UserID:    row.UserID,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if len(row.Endpoints) > 0 {
		if err := json.Unmarshal(row.Endpoints, &record.Endpoints); err != nil {
			return nil, fmt.Errorf("failed to decode endpoint record: %w", err)
		}
	}
	if record.Endpoints == nil {
		record.Endpoints = make(map[model.ChannelType]map[string]string)
	}
	return record, nil
}

func (r *endpointRepository) Upsert(ctx context.Context, record *model.StoredEndpointRecord) (err error) {
	defer func(start time.Time) { r.track("upsert", start, err) }(time.Now())

	if record == nil || record.UserID == "" {
		return fmt.Errorf("endpoint record must have a user id")
	}

	raw, err := json.Marshal(record.Endpoints)
	if err != nil {
		return fmt.Errorf("failed to encode endpoint record: %w", err)
	}

	query := `
		INSERT INTO user_endpoints (user_id, endpoints, created_at, updated_at)
		VALUES ($1, $2::jsonb, $3, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET endpoints = EXCLUDED.endpoints, updated_at = EXCLUDED.updated_at
	`
	now := time.Now().UTC()
	if _, err := r.db.ExecContext(ctx, query, record.UserID, string(raw), now); err != nil {
		return fmt.Errorf("failed to upsert endpoint record: %w", err)
	}
	record.UpdatedAt = now
	return nil
}

func (r *endpointRepository) Delete(ctx context.Context, userID string) (err error) {
	defer func(start time.Time) { r.track("delete", start, err) }(time.Now())

	result, err := r.db.ExecContext(ctx, `DELETE FROM user_endpoints WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete endpoint record: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return apperrors.NewNotFound("endpoint record", nil)
	}
	return nil
}
