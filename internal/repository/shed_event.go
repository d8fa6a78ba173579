package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ShedEventRepository 减载事件仓库
type ShedEventRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewShedEventRepository 创建减载事件仓库
func NewShedEventRepository(db *sql.DB, logger *zap.Logger) *ShedEventRepository {
	return &ShedEventRepository{
		db:     db,
		logger: logger,
	}
}

// ShedEvent 一次减载（激活到恢复）
type ShedEvent struct {
	EventID     int64      `json:"eventId"`
	TriggerKey  string     `json:"triggerKey"`
	DeviceCount int        `json:"deviceCount"`
	FailedCount int        `json:"failedCount"`
	ActivatedAt time.Time  `json:"activatedAt"`
	ClearedAt   *time.Time `json:"clearedAt,omitempty"`
}

// RecordActivation 记录减载激活
func (r *ShedEventRepository) RecordActivation(ctx context.Context, triggerKey string, deviceCount, failedCount int) (int64, error) {
	query := `
		INSERT INTO load_shed_events (trigger_key, device_count, failed_count)
		VALUES ($1, $2, $3)
		RETURNING event_id
	`

	var id int64
	if err := r.db.QueryRowContext(ctx, query, triggerKey, deviceCount, failedCount).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert load shed event: %w", err)
	}
	return id, nil
}

// RecordRecovery 关闭所有未结束的减载事件，返回受影响行数
func (r *ShedEventRepository) RecordRecovery(ctx context.Context) (int64, error) {
	query := `
		UPDATE load_shed_events
		SET cleared_at = NOW()
		WHERE cleared_at IS NULL
	`

	res, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to close load shed events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

// ListRecent 最近的减载事件
func (r *ShedEventRepository) ListRecent(ctx context.Context, limit int) ([]ShedEvent, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT event_id, trigger_key, device_count, failed_count, activated_at, cleared_at
		FROM load_shed_events
		ORDER BY activated_at DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query load shed events: %w", err)
	}
	defer rows.Close()

	events := []ShedEvent{}
	for rows.Next() {
		var e ShedEvent
		var cleared sql.NullTime
		if err := rows.Scan(&e.EventID, &e.TriggerKey, &e.DeviceCount, &e.FailedCount, &e.ActivatedAt, &cleared); err != nil {
			return nil, fmt.Errorf("failed to scan load shed event: %w", err)
		}
		if cleared.Valid {
			t := cleared.Time
			e.ClearedAt = &t
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
