package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollector_NodeCountersIncrementIndependently(t *testing.T) {
	c := New()
	c.RecordNodeRun("n1")
	c.RecordNodeRun("n1")
	c.RecordNodeSucceeded("n1")
	c.RecordNodeRetried("n1")
	c.RecordNodeSkipped("n2")
	c.RecordNodeFailed("n2")

	n1 := c.NodeSnapshot("n1")
	assert.Equal(t, uint64(2), n1.Run)
	assert.Equal(t, uint64(1), n1.Succeeded)
	assert.Equal(t, uint64(1), n1.Retried)

	n2 := c.NodeSnapshot("n2")
	assert.Equal(t, uint64(1), n2.Skipped)
	assert.Equal(t, uint64(1), n2.Failed)
}

func TestCollector_WorkflowCounters(t *testing.T) {
	c := New()
	c.RecordWorkflowStarted("wf1")
	c.RecordWorkflowStarted("wf1")
	c.RecordWorkflowSucceeded("wf1")
	c.RecordWorkflowFailed("wf2")
	c.RecordWorkflowAborted("wf2")

	wf1 := c.WorkflowSnapshot("wf1")
	assert.Equal(t, uint64(2), wf1.Started)
	assert.Equal(t, uint64(1), wf1.Succeeded)

	wf2 := c.WorkflowSnapshot("wf2")
	assert.Equal(t, uint64(1), wf2.Failed)
	assert.Equal(t, uint64(1), wf2.Aborted)
}

func TestCollector_SnapshotOfUntrackedIDIsZeroValue(t *testing.T) {
	c := New()
	assert.Equal(t, NodeCounters{}, c.NodeSnapshot("ghost"))
	assert.Equal(t, WorkflowCounters{}, c.WorkflowSnapshot("ghost"))
}

func TestCollector_AllNodesAndAllWorkflowsReturnIndependentCopies(t *testing.T) {
	c := New()
	c.RecordNodeRun("n1")
	snapshot := c.AllNodes()
	c.RecordNodeRun("n1")

	assert.Equal(t, uint64(1), snapshot["n1"].Run, "snapshot must not observe later mutations")
	assert.Equal(t, uint64(2), c.NodeSnapshot("n1").Run)
}

func TestCollector_ConcurrentIncrementsAreRaceFree(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordNodeRun("hot")
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(100), c.NodeSnapshot("hot").Run)
}
