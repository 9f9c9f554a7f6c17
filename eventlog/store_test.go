package eventlog

import (
	"path/filepath"
	"testing"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ core.LogStore = (*InMemoryStore)(nil)
	_ core.LogStore = (*SQLiteStore)(nil)
)

func TestInMemoryStoreLazyGet(t *testing.T) {
	s := NewInMemoryStore()

	l, err := s.Get("conv-1")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", l.ID)
	assert.Equal(t, 0, l.Len())
}

func TestInMemoryStoreAppendAndSnapshot(t *testing.T) {
	s := NewInMemoryStore()

	require.NoError(t, s.AppendEvent("conv-1", core.NewUserMessageEvent("conv-1", "one")))
	require.NoError(t, s.AppendEvent("conv-1", core.NewUserMessageEvent("conv-1", "two")))

	snap, err := s.Snapshot("conv-1")
	require.NoError(t, err)
	require.Len(t, snap, 2)
	assert.Equal(t, "one", snap[0].Text())
	assert.Equal(t, "two", snap[1].Text())
}

func TestInMemoryStoreGetReturnsClone(t *testing.T) {
	s := NewInMemoryStore()
	require.NoError(t, s.AppendEvent("conv-1", core.NewUserMessageEvent("conv-1", "original")))

	l, err := s.Get("conv-1")
	require.NoError(t, err)
	l.Append(core.NewUserMessageEvent("conv-1", "mutated externally"))

	snap, err := s.Snapshot("conv-1")
	require.NoError(t, err)
	assert.Len(t, snap, 1)
}

func TestInMemoryStoreCreateResets(t *testing.T) {
	s := NewInMemoryStore()
	require.NoError(t, s.AppendEvent("conv-1", core.NewUserMessageEvent("conv-1", "old")))

	_, err := s.Create("conv-1")
	require.NoError(t, err)

	snap, err := s.Snapshot("conv-1")
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	s := newSQLiteStore(t)

	events := []core.Event{
		core.NewUserMessageEvent("conv-1", "book me a flight"),
		core.NewToolCallEvent("conv-1", "scheduler", core.ToolCall{ID: "op-1", Name: "search_flights", Arguments: `{"to":"LIS"}`}),
		core.NewToolResultEvent("conv-1", "scheduler", core.ToolResult{ID: "op-1", Name: "search_flights", Response: "TP533"}),
		core.NewExternalEvent("conv-1", "email", "msg-1", map[string]any{"subject": "itinerary"}),
		core.NewAssistantOutputEvent("conv-1", "scheduler", "Found TP533."),
	}
	for _, ev := range events {
		require.NoError(t, s.AppendEvent("conv-1", ev))
	}

	snap, err := s.Snapshot("conv-1")
	require.NoError(t, err)
	require.Len(t, snap, len(events))

	for i, ev := range events {
		assert.Equal(t, ev.ID, snap[i].ID)
		assert.Equal(t, ev.Kind, snap[i].Kind)
		assert.Equal(t, ev.Correlation, snap[i].Correlation)
	}

	calls := snap[1].GetToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "search_flights", calls[0].Name)
	assert.Equal(t, `{"to":"LIS"}`, calls[0].Arguments)

	results := snap[2].GetToolResults()
	require.Len(t, results, 1)
	assert.Equal(t, "TP533", results[0].Response)
}

func TestSQLiteStorePersistsFailures(t *testing.T) {
	s := newSQLiteStore(t)

	res := core.ToolResult{ID: "op-1", Name: "send_email", Failure: core.NewRemoteFailure("smtp", "relay refused")}
	require.NoError(t, s.AppendEvent("conv-1", core.NewToolResultEvent("conv-1", "scheduler", res)))

	snap, err := s.Snapshot("conv-1")
	require.NoError(t, err)
	require.Len(t, snap, 1)

	results := snap[0].GetToolResults()
	require.Len(t, results, 1)
	require.True(t, results[0].Failed())
	assert.Equal(t, core.FailureRemoteError, results[0].Failure.Kind)
	assert.Equal(t, "smtp", results[0].Failure.Code)
}

func TestSQLiteStoreIsolatesLogs(t *testing.T) {
	s := newSQLiteStore(t)

	require.NoError(t, s.AppendEvent("conv-1", core.NewUserMessageEvent("conv-1", "a")))
	require.NoError(t, s.AppendEvent("conv-2", core.NewUserMessageEvent("conv-2", "b")))

	snap, err := s.Snapshot("conv-1")
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.Equal(t, "a", snap[0].Text())
}

func TestSQLiteStoreCreateResets(t *testing.T) {
	s := newSQLiteStore(t)

	require.NoError(t, s.AppendEvent("conv-1", core.NewUserMessageEvent("conv-1", "old")))
	_, err := s.Create("conv-1")
	require.NoError(t, err)

	snap, err := s.Snapshot("conv-1")
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestSQLiteStorePersistsMetadata(t *testing.T) {
	s := newSQLiteStore(t)

	ev := testutil.NewEventBuilder("conv-1").
		Author("scheduler").
		Correlation("trace-7").
		Meta("channel", "slack").
		AssistantOutput("done").
		Build()
	require.NoError(t, s.AppendEvent("conv-1", ev))

	snap, err := s.Snapshot("conv-1")
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.Equal(t, "trace-7", snap[0].Correlation)
	assert.Equal(t, "slack", snap[0].Metadata["channel"])
	assert.Equal(t, "scheduler", snap[0].Author)
}

func TestContentCodecNilContent(t *testing.T) {
	data, err := encodeContent(nil)
	require.NoError(t, err)

	c, err := decodeContent(data)
	require.NoError(t, err)
	assert.Nil(t, c)
}
