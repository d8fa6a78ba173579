package repository

import (
	"context"
	"database/sql"
	"fmt"

	"owl-loadshed/internal/models"

	"go.uber.org/zap"
)

// CommandRepository 设备指令审计仓库
type CommandRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewCommandRepository 创建设备指令审计仓库
func NewCommandRepository(db *sql.DB, logger *zap.Logger) *CommandRepository {
	return &CommandRepository{
		db:     db,
		logger: logger,
	}
}

// Insert 记录一条已下发的设备指令
func (r *CommandRepository) Insert(ctx context.Context, cmd models.DeviceCommand) error {
	query := `
		INSERT INTO device_commands (command_id, room_id, device_id, is_on, reason, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (command_id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query,
		cmd.ID,
		cmd.RoomID,
		cmd.DeviceID,
		cmd.IsOn,
		cmd.Reason,
		cmd.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert device command: %w", err)
	}
	return nil
}

// ListByDevice 查询设备最近的指令
func (r *CommandRepository) ListByDevice(ctx context.Context, roomID, deviceID string, limit int) ([]models.DeviceCommand, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT command_id, room_id, device_id, is_on, reason, issued_at
		FROM device_commands
		WHERE room_id = $1 AND device_id = $2
		ORDER BY issued_at DESC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, roomID, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query device commands: %w", err)
	}
	defer rows.Close()

	var cmds []models.DeviceCommand
	for rows.Next() {
		var cmd models.DeviceCommand
		if err := rows.Scan(&cmd.ID, &cmd.RoomID, &cmd.DeviceID, &cmd.IsOn, &cmd.Reason, &cmd.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan device command: %w", err)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}
