package deadlock_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-db/rce/internal/deadlock"
	"github.com/lattice-db/rce/internal/site"
	"github.com/lattice-db/rce/internal/variable"
)

func TestDetectCycleFindsSimpleCycle(t *testing.T) {
	g := deadlock.NewGraph()
	g.AddEdge("T1", "T2")
	g.AddEdge("T2", "T1")

	hasCycle, cycle := g.DetectCycle()
	require.True(t, hasCycle)
	assert.ElementsMatch(t, []string{"T1", "T2"}, cycle)
}

func TestDetectCycleFindsNoneInAcyclicChain(t *testing.T) {
	g := deadlock.NewGraph()
	g.AddEdge("T1", "T2")
	g.AddEdge("T2", "T3")

	hasCycle, _ := g.DetectCycle()
	assert.False(t, hasCycle)
}

func TestSelectVictimPicksYoungestStartTS(t *testing.T) {
	starts := map[string]int64{"T1": 5, "T2": 9}
	victim := deadlock.SelectVictim([]string{"T1", "T2"}, func(tid string) (int64, bool) {
		ts, ok := starts[tid]
		return ts, ok
	})
	assert.Equal(t, "T2", victim)
}

func TestSelectVictimTieBreaksOnLexicographicallyLargerTid(t *testing.T) {
	starts := map[string]int64{"T1": 5, "T9": 5}
	victim := deadlock.SelectVictim([]string{"T1", "T9"}, func(tid string) (int64, bool) {
		ts, ok := starts[tid]
		return ts, ok
	})
	assert.Equal(t, "T9", victim)
}

func TestBuildGraphSkipsUnavailableSites(t *testing.T) {
	dm := site.New(1)
	dm.AddVariable(variable.New("x1", false, 10))
	dm.WriteTry("T1", "x1")
	dm.Read("T2", "x1") // queued behind T1's write

	dm.Fail()

	g := deadlock.BuildGraph([]*site.DataManager{dm})
	hasCycle, _ := g.DetectCycle()
	assert.False(t, hasCycle, "a failed site must contribute no edges")
}

func TestBuildGraphWaitWriteAgainstReadersProducesEdges(t *testing.T) {
	dm := site.New(1)
	dm.AddVariable(variable.New("x1", false, 10))
	dm.Read("T1", "x1")
	dm.Read("T2", "x1")
	_ = dm.WriteTry("T3", "x1") // queued, two readers ahead

	g := deadlock.BuildGraph([]*site.DataManager{dm})
	hasCycle, _ := g.DetectCycle()
	assert.False(t, hasCycle, "no cycle yet: T3 only waits on T1 and T2")

	g.AddEdge("T1", "T3")
	hasCycle, cycle := g.DetectCycle()
	require.True(t, hasCycle, "the built graph must hold the edge T3 -> T1")
	assert.ElementsMatch(t, []string{"T1", "T3"}, cycle)
}
