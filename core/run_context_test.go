package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapStore is a minimal LogStore for run context tests.
type mapStore struct {
	logs map[string]*Log
	fail bool
}

func newMapStore() *mapStore { return &mapStore{logs: make(map[string]*Log)} }

func (s *mapStore) Create(id string) (*Log, error) {
	l := NewLog(id)
	s.logs[id] = l
	return l, nil
}

func (s *mapStore) Get(id string) (*Log, error) {
	if l, ok := s.logs[id]; ok {
		return l, nil
	}
	return s.Create(id)
}

func (s *mapStore) AppendEvent(id string, ev Event) error {
	if s.fail {
		return errors.New("disk gone")
	}
	l, err := s.Get(id)
	if err != nil {
		return err
	}
	l.Append(ev)
	return nil
}

func (s *mapStore) Snapshot(id string) ([]Event, error) {
	if s.fail {
		return nil, errors.New("disk gone")
	}
	l, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return l.Snapshot(), nil
}

func newTestRunContext(store LogStore) *RunContext {
	return NewRunContext(context.Background(), "conv-1", "run-1", TaskConversation, store, NewStepBudget(0), nil)
}

func TestRunContextAppendAndSnapshot(t *testing.T) {
	store := newMapStore()
	rc := newTestRunContext(store)

	require.NoError(t, rc.AppendEvent(NewUserMessageEvent("conv-1", "hello")))

	snap, err := rc.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.Equal(t, "hello", snap[0].Text())
}

func TestRunContextStorageFailureIsFatal(t *testing.T) {
	store := newMapStore()
	store.fail = true
	rc := newTestRunContext(store)

	err := rc.AppendEvent(NewUserMessageEvent("conv-1", "hello"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLogUnavailable))

	_, err = rc.Snapshot()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLogUnavailable))
}

func TestRunContextNilStore(t *testing.T) {
	rc := newTestRunContext(nil)

	err := rc.AppendEvent(NewUserMessageEvent("conv-1", "hello"))
	assert.True(t, errors.Is(err, ErrLogUnavailable))
}

func TestRunContextChildScope(t *testing.T) {
	store := newMapStore()
	rc := newTestRunContext(store)

	child := rc.NewChildContext("worker:sess-1", "run-2", TaskWorker, NewStepBudget(5))
	assert.Equal(t, "worker:sess-1", child.ConversationID)
	assert.Equal(t, TaskWorker, child.Kind)
	assert.Equal(t, 5, child.Budget.Remaining())

	require.NoError(t, child.AppendEvent(NewUserMessageEvent("worker:sess-1", "task")))

	// The parent's log stays untouched.
	snap, err := rc.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, snap)
}
