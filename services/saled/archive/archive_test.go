package archive

import (
	"context"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"crowdsale/core/events"
	"crowdsale/core/types"
)

type bareEvent struct{}

func (bareEvent) EventType() string { return "bare" }

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	return db
}

func TestArchiveAppendsInOrder(t *testing.T) {
	db := setupTestDB(t)
	archive, err := New(db, nil)
	require.NoError(t, err)

	archive.Emit(events.Wrap(&types.Event{Type: "sale.opened", Attributes: map[string]string{"sale": "presale"}}))
	archive.Emit(events.Wrap(&types.Event{Type: "sale.contribution.accepted", Attributes: map[string]string{"sale": "presale", "amount": "25"}}))
	archive.Emit(events.Wrap(&types.Event{Type: "sale.closed", Attributes: map[string]string{"sale": "presale"}}))
	archive.Emit(bareEvent{})
	records, err := archive.List(context.Background(), Query{})
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, record := range records {
		require.Equal(t, uint64(i+1), record.Sequence)
		require.True(t, record.Verify())
	}

	accepted, err := archive.List(context.Background(), Query{Type: "sale.contribution.accepted"})
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	evt, err := accepted[0].Event()
	require.NoError(t, err)
	require.Equal(t, "25", evt.Attribute("amount"))

	tail, err := archive.List(context.Background(), Query{After: 2, Limit: 10})
	require.NoError(t, err)
	require.Len(t, tail, 1)
	require.Equal(t, "sale.closed", tail[0].Type)
}

func TestArchiveResumesSequence(t *testing.T) {
	db := setupTestDB(t)
	first, err := New(db, nil)
	require.NoError(t, err)
	_, err = first.Append(context.Background(), &types.Event{Type: "ceiling.committed"})
	require.NoError(t, err)

	second, err := New(db, nil)
	require.NoError(t, err)
	record, err := second.Append(context.Background(), &types.Event{Type: "ceiling.revealed"})
	require.NoError(t, err)
	require.Equal(t, uint64(2), record.Sequence)
}

func TestDigestDetectsTampering(t *testing.T) {
	db := setupTestDB(t)
	archive, err := New(db, nil)
	require.NoError(t, err)
	record, err := archive.Append(context.Background(), &types.Event{Type: "sale.cap.updated", Attributes: map[string]string{"cap": "50"}})
	require.NoError(t, err)

	require.NoError(t, db.Model(&Record{}).Where("id = ?", record.ID).Update("attributes", `{"cap":"5000"}`).Error)
	records, err := archive.List(context.Background(), Query{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.False(t, records[0].Verify())
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn")
	require.Error(t, err)
}
