// ABOUTME: Tests for conversation records
// ABOUTME: Covers message normalization, capacity truncation, stage changes and payloads

package conversation

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendero/funnel-gateway/internal/store"
)

func TestNormalize_FillsMissingFields(t *testing.T) {
	before := time.Now()
	msg := Normalize(store.Message{Text: "hola"})

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, store.DirectionIncoming, msg.Direction)
	assert.False(t, msg.Timestamp.Before(before))
	assert.Equal(t, "hola", msg.Text)
}

func TestNormalize_CoercesUnknownDirection(t *testing.T) {
	msg := Normalize(store.Message{ID: "m1", Direction: "sideways", Text: "hi", Timestamp: time.Now()})
	assert.Equal(t, store.DirectionIncoming, msg.Direction)

	out := Normalize(store.Message{ID: "m2", Direction: store.DirectionOutgoing, Text: "hi", Timestamp: time.Now()})
	assert.Equal(t, store.DirectionOutgoing, out.Direction)
}

func TestNormalize_UniqueGeneratedIDs(t *testing.T) {
	a := Normalize(store.Message{Text: "a"})
	b := Normalize(store.Message{Text: "b"})
	assert.NotEqual(t, a.ID, b.ID)
}

func TestRecord_AppendTruncatesOldestBeyondCapacity(t *testing.T) {
	rec := newRecord(&store.Conversation{ChatID: "123@s.net"}, 5)

	for i := 0; i < 8; i++ {
		rec.Append(store.Message{ID: fmt.Sprintf("m%d", i), Text: fmt.Sprintf("msg %d", i)})
	}

	require.Equal(t, 5, rec.Len())
	msgs := rec.Recent(0)
	assert.Equal(t, "m3", msgs[0].ID)
	assert.Equal(t, "m7", msgs[4].ID)
}

func TestRecord_CapacityHoldsUnderInterleavedDirections(t *testing.T) {
	rec := newRecord(&store.Conversation{ChatID: "123@s.net"}, 4)

	for i := 0; i < 10; i++ {
		dir := store.DirectionIncoming
		if i%2 == 1 {
			dir = store.DirectionOutgoing
		}
		rec.Append(store.Message{ID: fmt.Sprintf("m%d", i), Direction: dir, Text: "x"})
		assert.LessOrEqual(t, rec.Len(), 4)
	}
}

func TestNewRecord_NormalizesStoredMessages(t *testing.T) {
	rec := newRecord(&store.Conversation{
		ChatID: "123@s.net",
		Stage:  "bogus",
		Messages: []store.Message{
			{Text: "no id, no direction"},
		},
	}, 10)

	assert.Equal(t, store.StageInterest, rec.Stage())
	msgs := rec.Recent(0)
	require.Len(t, msgs, 1)
	assert.NotEmpty(t, msgs[0].ID)
	assert.Equal(t, store.DirectionIncoming, msgs[0].Direction)
}

func TestRecord_SetStageRejectsUnknownValues(t *testing.T) {
	rec := newRecord(&store.Conversation{ChatID: "123@s.net", Stage: store.StageQuote}, 10)

	err := rec.SetStage("shipped")
	assert.ErrorIs(t, err, ErrInvalidStage)
	assert.Equal(t, store.StageQuote, rec.Stage())

	require.NoError(t, rec.SetStage(store.StageClosed))
	assert.Equal(t, store.StageClosed, rec.Stage())
}

func TestRecord_AdoptTitleUpgradesPlaceholderOnly(t *testing.T) {
	rec := newRecord(&store.Conversation{ChatID: "123@s.net"}, 10)
	assert.Equal(t, "123@s.net", rec.ToPayload(false).Title)

	rec.adoptTitle("Alice")
	assert.Equal(t, "Alice", rec.ToPayload(false).Title)

	// A real title is not overwritten by later push names.
	rec.adoptTitle("A. Liddell")
	assert.Equal(t, "Alice", rec.ToPayload(false).Title)
}

func TestRecord_RecentReturnsCopy(t *testing.T) {
	rec := newRecord(&store.Conversation{ChatID: "123@s.net"}, 10)
	rec.Append(store.Message{ID: "m1", Text: "one"})
	rec.Append(store.Message{ID: "m2", Text: "two"})

	msgs := rec.Recent(1)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m2", msgs[0].ID)

	msgs[0].Text = "mutated"
	assert.Equal(t, "two", rec.Recent(1)[0].Text)
}

func TestRecord_ToPayload(t *testing.T) {
	rec := newRecord(&store.Conversation{ChatID: "123@s.net", Title: "Alice"}, 10)
	ts := time.Now()
	rec.Append(store.Message{ID: "m1", Text: "hello", Timestamp: ts})
	rec.Append(store.Message{ID: "m2", Direction: store.DirectionOutgoing, Text: "hi there", Timestamp: ts.Add(time.Second)})

	summary := rec.ToPayload(false)
	assert.Equal(t, "Alice", summary.Title)
	assert.Equal(t, 2, summary.MessageCount)
	assert.Equal(t, "hi there", summary.LastMessageText)
	assert.Equal(t, ts.Add(time.Second).UnixMilli(), summary.LastMessageAt)
	assert.Empty(t, summary.Messages)

	full := rec.ToPayload(true)
	require.Len(t, full.Messages, 2)
	assert.Equal(t, "m1", full.Messages[0].ID)
	assert.Equal(t, store.DirectionOutgoing, full.Messages[1].Direction)
}
