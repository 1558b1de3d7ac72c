package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/contentcms/pkg/db/dbtest"
	"github.com/angelmondragon/contentcms/pkg/db/models"
	"github.com/angelmondragon/contentcms/pkg/enums"
)

func TestDeletePublishedBeforePrunesOnlySettledRows(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	cutoff := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	old := cutoff.Add(-48 * time.Hour)
	recent := cutoff.Add(time.Hour)

	insert := func(createdAt time.Time, publishedAt *time.Time, attempts int) uuid.UUID {
		row := models.OutboxEvent{
			ID:            uuid.New(),
			EventType:     enums.EventFilePurged,
			AggregateType: enums.AggregateFile,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{}`),
			CreatedAt:     createdAt,
			PublishedAt:   publishedAt,
			AttemptCount:  attempts,
		}
		require.NoError(t, repo.Insert(conn, row))
		return row.ID
	}

	publishedOld := insert(old, &old, 1)
	publishedRecent := insert(old, &recent, 1)
	terminalOld := insert(old, nil, 10)
	pendingOld := insert(old, nil, 2)

	deleted, err := repo.DeletePublishedBefore(context.Background(), nil, cutoff, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	var remaining []models.OutboxEvent
	require.NoError(t, conn.Order("attempt_count ASC").Find(&remaining).Error)
	ids := map[uuid.UUID]bool{}
	for _, row := range remaining {
		ids[row.ID] = true
	}
	assert.False(t, ids[publishedOld])
	assert.False(t, ids[terminalOld])
	assert.True(t, ids[publishedRecent])
	assert.True(t, ids[pendingOld], "rows still being retried are kept")
}

func TestMarkFailedKeepsErrorTextValidUTF8(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	row := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventFilePurged,
		AggregateType: enums.AggregateFile,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
	}
	require.NoError(t, repo.Insert(conn, row))

	cause := errors.New("x" + strings.Repeat("ñ", maxLastErrorLen))
	require.NoError(t, repo.MarkFailedTx(conn, row.ID, cause))

	var stored models.OutboxEvent
	require.NoError(t, conn.First(&stored, "id = ?", row.ID).Error)
	require.NotNil(t, stored.LastError)
	assert.True(t, utf8.ValidString(*stored.LastError))
	assert.LessOrEqual(t, len(*stored.LastError), maxLastErrorLen)
	assert.Equal(t, 1, stored.AttemptCount)
}
