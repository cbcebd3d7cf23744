package quest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitTerminal(t *testing.T, r *Registry, id uint64) Quest {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		q, err := r.Get(id)
		require.NoError(t, err)
		if q.Status.Terminal() {
			return q
		}
		if time.Now().After(deadline) {
			t.Fatalf("quest %d did not reach a terminal state in time (status=%s)", id, q.Status)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestScheduleQuestSucceeds(t *testing.T) {
	r := New(4, time.Minute)
	id := r.ScheduleQuest(context.Background(), "do a thing", func(h *Handle) error {
		h.ProgressSet(1, 1)
		return nil
	})
	q := waitTerminal(t, r, id)
	assert.Equal(t, Successful, q.Status)
	require.NotNil(t, q.Progress)
	assert.Equal(t, uint64(1), q.Progress.Current)
}

func TestScheduleQuestFails(t *testing.T) {
	r := New(4, time.Minute)
	id := r.ScheduleQuest(context.Background(), "do a thing badly", func(h *Handle) error {
		return errors.New("boom")
	})
	q := waitTerminal(t, r, id)
	assert.Equal(t, Failed, q.Status)
	assert.Equal(t, "boom", q.Result)
}

func TestSubQuestParentAwaitsChild(t *testing.T) {
	r := New(4, time.Minute)
	childRan := false
	id := r.ScheduleQuest(context.Background(), "parent", func(h *Handle) error {
		return h.SubQuest("child", func(ch *Handle) error {
			childRan = true
			return nil
		})
	})
	q := waitTerminal(t, r, id)
	assert.Equal(t, Successful, q.Status)
	assert.True(t, childRan)
	assert.Len(t, q.Children, 1)
}

func TestSubQuestFailurePropagatesToParent(t *testing.T) {
	r := New(4, time.Minute)
	id := r.ScheduleQuest(context.Background(), "parent", func(h *Handle) error {
		return h.SubQuest("child", func(ch *Handle) error {
			return errors.New("child failed")
		})
	})
	q := waitTerminal(t, r, id)
	assert.Equal(t, Failed, q.Status)
}

func TestCancelPropagatesToDescendants(t *testing.T) {
	r := New(4, time.Minute)
	started := make(chan uint64, 1)
	done := make(chan struct{})

	id := r.ScheduleQuest(context.Background(), "parent", func(h *Handle) error {
		return h.SubQuest("child", func(ch *Handle) error {
			started <- ch.ID()
			for !ch.Cancelled() {
				time.Sleep(time.Millisecond)
			}
			close(done)
			return nil
		})
	})

	childID := <-started
	require.NoError(t, r.Cancel(id))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("child did not observe cancellation")
	}

	child, err := r.Get(childID)
	require.NoError(t, err)
	assert.True(t, child.Status == Cancelled || child.Status == Successful)

	parent := waitTerminal(t, r, id)
	assert.Equal(t, Cancelled, parent.Status)
}

func TestGetUnknownID(t *testing.T) {
	r := New(4, time.Minute)
	_, err := r.Get(999)
	assert.Error(t, err)
}

func TestScheduleQuestWithResult(t *testing.T) {
	r := New(4, time.Minute)
	id, out := ScheduleQuestWithResult(r, context.Background(), "compute", func(h *Handle) (int, error) {
		return 42, nil
	})
	res := <-out
	require.NoError(t, res.Err)
	assert.Equal(t, 42, res.Value)

	q := waitTerminal(t, r, id)
	assert.Equal(t, Successful, q.Status)
}

func TestListReturnsAllQuests(t *testing.T) {
	r := New(4, time.Minute)
	id1 := r.ScheduleQuest(context.Background(), "one", func(h *Handle) error { return nil })
	id2 := r.ScheduleQuest(context.Background(), "two", func(h *Handle) error { return nil })
	waitTerminal(t, r, id1)
	waitTerminal(t, r, id2)

	all := r.List()
	assert.Len(t, all, 2)
}

func TestGCRemovesOldTerminalQuests(t *testing.T) {
	r := New(4, -time.Second) // already-expired retention window
	id := r.ScheduleQuest(context.Background(), "one", func(h *Handle) error { return nil })
	waitTerminal(t, r, id)

	removed := r.GC(time.Now())
	assert.Equal(t, 1, removed)
	_, err := r.Get(id)
	assert.Error(t, err)
}

func TestDefaultIsSingleton(t *testing.T) {
	assert.Same(t, Default(), Default())
}
