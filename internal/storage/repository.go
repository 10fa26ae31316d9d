package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type Repository struct {
	Store *Store
}

func NewRepository(store *Store) *Repository {
	return &Repository{Store: store}
}

func (r *Repository) CreateConnection(ctx context.Context, conn ConnectionRecord) (string, error) {
	id := uuid.NewString()
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO connections (id, user_id, space_id, name, type, host, port, database, user_name, password_enc, ssl_mode, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now())`,
		id, conn.UserID, conn.SpaceID, conn.Name, conn.Type, conn.Host, conn.Port, conn.Database, conn.User, conn.PasswordEnc, conn.SSLMode,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) GetConnection(ctx context.Context, id string) (ConnectionRecord, error) {
	row := r.Store.Pool.QueryRow(ctx, `
		SELECT id, user_id, space_id, name, type, host, port, database, user_name, password_enc, ssl_mode, created_at
		FROM connections WHERE id=$1`, id)
	var rec ConnectionRecord
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.SpaceID, &rec.Name, &rec.Type, &rec.Host, &rec.Port, &rec.Database, &rec.User, &rec.PasswordEnc, &rec.SSLMode, &rec.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ConnectionRecord{}, ErrNotFound
		}
		return ConnectionRecord{}, err
	}
	return rec, nil
}

func (r *Repository) CreateQuery(ctx context.Context, rec QueryRecord) (string, error) {
	id := uuid.NewString()
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO quality_queries (id, user_id, connection_id, name, description, category, query_text, thresholds, expected_result, enabled, frequency, last_execution_at, next_execution_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now(),now())`,
		id, rec.UserID, rec.ConnectionID, rec.Name, rec.Description, rec.Category, rec.SQLText, rec.Thresholds, rec.ExpectedResult, rec.Enabled, rec.Frequency, rec.LastExecutionAt, rec.NextExecutionAt,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) GetQuery(ctx context.Context, id, userID string) (QueryRecord, error) {
	row := r.Store.Pool.QueryRow(ctx, `
		SELECT id, user_id, connection_id, name, description, category, query_text, thresholds, expected_result, enabled, frequency, last_execution_at, next_execution_at, created_at, updated_at
		FROM quality_queries WHERE id=$1 AND user_id=$2`, id, userID)
	var rec QueryRecord
	if err := scanQuery(row, &rec); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return QueryRecord{}, ErrNotFound
		}
		return QueryRecord{}, err
	}
	return rec, nil
}

func (r *Repository) ListQueries(ctx context.Context, userID string, connectionID string) ([]QueryRecord, error) {
	query := `
		SELECT id, user_id, connection_id, name, description, category, query_text, thresholds, expected_result, enabled, frequency, last_execution_at, next_execution_at, created_at, updated_at
		FROM quality_queries WHERE user_id=$1`
	args := []any{userID}
	if connectionID != "" {
		query += ` AND connection_id=$2`
		args = append(args, connectionID)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := r.Store.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []QueryRecord{}
	for rows.Next() {
		var rec QueryRecord
		if err := scanQuery(rows, &rec); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

// ListDueQueries returns enabled queries whose next scheduled run is at or
// before now. Manual queries never have next_execution_at set.
func (r *Repository) ListDueQueries(ctx context.Context, now time.Time) ([]QueryRecord, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT id, user_id, connection_id, name, description, category, query_text, thresholds, expected_result, enabled, frequency, last_execution_at, next_execution_at, created_at, updated_at
		FROM quality_queries
		WHERE enabled = true AND next_execution_at IS NOT NULL AND next_execution_at <= $1
		ORDER BY next_execution_at`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []QueryRecord{}
	for rows.Next() {
		var rec QueryRecord
		if err := scanQuery(rows, &rec); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

func (r *Repository) UpdateQuerySchedule(ctx context.Context, id string, last time.Time, next *time.Time) error {
	_, err := r.Store.Pool.Exec(ctx, `
		UPDATE quality_queries SET last_execution_at=$1, next_execution_at=$2, updated_at=now() WHERE id=$3`,
		last, next, id)
	return err
}

func (r *Repository) InsertExecutionResult(ctx context.Context, rec ExecutionRecord) (string, error) {
	id := uuid.NewString()
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO execution_results (id, query_id, status, result, metrics, duration_ms, error_message, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())`,
		id, rec.QueryID, rec.Status, rec.Result, rec.Metrics, rec.DurationMS, rec.ErrorMessage,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) ListExecutionResults(ctx context.Context, queryID string, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT id, query_id, status, result, metrics, duration_ms, error_message, created_at
		FROM execution_results WHERE query_id=$1 ORDER BY created_at DESC LIMIT $2`, queryID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []ExecutionRecord{}
	for rows.Next() {
		var rec ExecutionRecord
		if err := rows.Scan(&rec.ID, &rec.QueryID, &rec.Status, &rec.Result, &rec.Metrics, &rec.DurationMS, &rec.ErrorMessage, &rec.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

func (r *Repository) CreateAlertRule(ctx context.Context, rec AlertRuleRecord) (string, error) {
	id := uuid.NewString()
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO alert_rules (id, query_id, name, status, condition, channels, execution_result_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now(),now())`,
		id, rec.QueryID, rec.Name, rec.Status, rec.Condition, rec.Channels, rec.ExecutionResultID,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) ListAlertRules(ctx context.Context, queryID string) ([]AlertRuleRecord, error) {
	return r.listAlertRules(ctx, queryID, false)
}

func (r *Repository) ListActiveAlertRules(ctx context.Context, queryID string) ([]AlertRuleRecord, error) {
	return r.listAlertRules(ctx, queryID, true)
}

func (r *Repository) listAlertRules(ctx context.Context, queryID string, activeOnly bool) ([]AlertRuleRecord, error) {
	query := `
		SELECT id, query_id, name, status, condition, channels, execution_result_id, created_at, updated_at
		FROM alert_rules WHERE query_id=$1`
	if activeOnly {
		query += ` AND status='active'`
	}
	query += ` ORDER BY created_at`
	rows, err := r.Store.Pool.Query(ctx, query, queryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []AlertRuleRecord{}
	for rows.Next() {
		var rec AlertRuleRecord
		if err := rows.Scan(&rec.ID, &rec.QueryID, &rec.Name, &rec.Status, &rec.Condition, &rec.Channels, &rec.ExecutionResultID, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

func (r *Repository) UpdateAlertRuleTrigger(ctx context.Context, id, executionResultID string) error {
	_, err := r.Store.Pool.Exec(ctx, `
		UPDATE alert_rules SET execution_result_id=$1, updated_at=now() WHERE id=$2`,
		executionResultID, id)
	return err
}

func (r *Repository) InsertAlertNotification(ctx context.Context, rec NotificationRecord) (string, error) {
	id := uuid.NewString()
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO alert_notifications (id, alert_id, channel, status, content, created_at)
		VALUES ($1,$2,$3,$4,$5,now())`,
		id, rec.AlertID, rec.Channel, rec.Status, rec.Content,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) ListAlertNotifications(ctx context.Context, alertID string) ([]NotificationRecord, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT id, alert_id, channel, status, content, created_at
		FROM alert_notifications WHERE alert_id=$1 ORDER BY created_at DESC`, alertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []NotificationRecord{}
	for rows.Next() {
		var rec NotificationRecord
		if err := rows.Scan(&rec.ID, &rec.AlertID, &rec.Channel, &rec.Status, &rec.Content, &rec.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuery(row rowScanner, rec *QueryRecord) error {
	return row.Scan(&rec.ID, &rec.UserID, &rec.ConnectionID, &rec.Name, &rec.Description, &rec.Category, &rec.SQLText, &rec.Thresholds, &rec.ExpectedResult, &rec.Enabled, &rec.Frequency, &rec.LastExecutionAt, &rec.NextExecutionAt, &rec.CreatedAt, &rec.UpdatedAt)
}
