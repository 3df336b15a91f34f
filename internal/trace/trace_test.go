package trace

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_RecordsInOrder(t *testing.T) {
	r := NewRecorder()
	r.Record("p1", "wf", "n1", "running", "", nil, nil)
	r.Record("p1", "wf", "n1", "succeeded", "", nil, nil)
	r.Record("p1", "wf", "", "succeeded", "", map[string]any{"node_ids": []string{"n1"}}, nil)

	events, ok := r.Trace("p1")
	require.True(t, ok)
	require.Len(t, events, 3)
	assert.Equal(t, "running", events[0].Kind)
	assert.Equal(t, "succeeded", events[1].Kind)
	assert.Equal(t, "", events[2].NodeID)
}

func TestRecorder_ErrorCaptured(t *testing.T) {
	r := NewRecorder()
	r.Record("p1", "wf", "n1", "error", "", nil, errors.New("boom"))

	events, ok := r.Trace("p1")
	require.True(t, ok)
	require.Len(t, events, 1)
	assert.Equal(t, "boom", events[0].Error)
}

func TestRecorder_UnknownProcess(t *testing.T) {
	r := NewRecorder()
	_, ok := r.Trace("missing")
	assert.False(t, ok)
}

func TestRecorder_ForgetDropsTrace(t *testing.T) {
	r := NewRecorder()
	r.Record("p1", "wf", "n1", "running", "", nil, nil)
	r.Forget("p1")
	_, ok := r.Trace("p1")
	assert.False(t, ok)
}

func TestRecorder_ConcurrentRecords(t *testing.T) {
	r := NewRecorder()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r.Record("p1", "wf", "n1", "running", "", nil, nil)
			}
		}()
	}
	wg.Wait()

	events, ok := r.Trace("p1")
	require.True(t, ok)
	assert.Len(t, events, 400)
}
