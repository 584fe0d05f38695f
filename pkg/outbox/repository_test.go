package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/localpros/localpros-backend/pkg/db/dbtest"
	"github.com/localpros/localpros-backend/pkg/db/models"
	"github.com/localpros/localpros-backend/pkg/enums"
)

func seedOutboxRow(t *testing.T, conn *gorm.DB, published, terminal *time.Time) uuid.UUID {
	t.Helper()
	row := models.OutboxEvent{
		EventType:     enums.EventEmailRequested,
		AggregateType: enums.AggregateSubscription,
		AggregateID:   uuid.New(),
		Payload:       datatypes.JSON(`{}`),
		PublishedAt:   published,
		TerminalAt:    terminal,
	}
	require.NoError(t, conn.Create(&row).Error)
	return row.ID
}

func TestDeleteSettledBeforeKeepsPendingAndRecentRows(t *testing.T) {
	client, conn := dbtest.Client(t)
	repo := NewRepository(conn)

	cutoff := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	old := cutoff.Add(-48 * time.Hour)
	recent := cutoff.Add(48 * time.Hour)

	oldPublished := seedOutboxRow(t, conn, &old, nil)
	oldTerminal := seedOutboxRow(t, conn, nil, &old)
	recentPublished := seedOutboxRow(t, conn, &recent, nil)
	pending := seedOutboxRow(t, conn, nil, nil)

	var deleted int64
	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		var err error
		deleted, err = repo.DeleteSettledBefore(context.Background(), tx, cutoff)
		return err
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, deleted)

	var remaining []models.OutboxEvent
	require.NoError(t, conn.Order("id").Find(&remaining).Error)
	ids := make(map[uuid.UUID]bool, len(remaining))
	for _, row := range remaining {
		ids[row.ID] = true
	}
	require.False(t, ids[oldPublished])
	require.False(t, ids[oldTerminal])
	require.True(t, ids[recentPublished])
	require.True(t, ids[pending])
}

func TestDeleteSettledBeforeRequiresTx(t *testing.T) {
	repo := NewRepository(nil)
	_, err := repo.DeleteSettledBefore(context.Background(), nil, time.Now())
	require.Error(t, err)
}

func TestMarkTerminalTxStopsFetch(t *testing.T) {
	client, conn := dbtest.Client(t)
	repo := NewRepository(conn)
	id := seedOutboxRow(t, conn, nil, nil)

	require.NoError(t, client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return repo.MarkTerminalTx(tx, id, errors.New("mailbox unavailable"))
	}))

	var row models.OutboxEvent
	require.NoError(t, conn.First(&row, "id = ?", id).Error)
	require.NotNil(t, row.TerminalAt)
	require.Equal(t, 1, row.AttemptCount)
	require.NotNil(t, row.LastError)
	require.Equal(t, "mailbox unavailable", *row.LastError)
}
