package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"owl-loadshed/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestCommandRepository_Insert(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewCommandRepository(db, zap.NewNop())

	ts := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)
	cmd := models.DeviceCommand{
		ID:        "6f1c8a52-7a51-4f3b-9a4e-2d8f0c1b5e77",
		RoomID:    "lab1",
		DeviceID:  "ac",
		IsOn:      false,
		Reason:    "auto:battery-40",
		Timestamp: ts,
	}

	mock.ExpectExec(`INSERT INTO device_commands`).
		WithArgs(cmd.ID, "lab1", "ac", false, "auto:battery-40", ts).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Insert(context.Background(), cmd))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommandRepository_InsertError(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewCommandRepository(db, zap.NewNop())

	mock.ExpectExec(`INSERT INTO device_commands`).
		WillReturnError(errors.New("connection reset"))

	err := repo.Insert(context.Background(), models.DeviceCommand{ID: "x"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert device command")
}

func TestCommandRepository_ListByDevice(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewCommandRepository(db, zap.NewNop())

	ts := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"command_id", "room_id", "device_id", "is_on", "reason", "issued_at"}).
		AddRow("c-2", "lab1", "ac", false, "manual:save-power", ts).
		AddRow("c-1", "lab1", "ac", false, "auto:solar-20", ts.Add(-time.Hour))

	mock.ExpectQuery(`SELECT command_id`).
		WithArgs("lab1", "ac", 20).
		WillReturnRows(rows)

	cmds, err := repo.ListByDevice(context.Background(), "lab1", "ac", 0)
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, "c-2", cmds[0].ID)
	assert.Equal(t, "auto:solar-20", cmds[1].Reason)
	require.NoError(t, mock.ExpectationsWereMet())
}
