// Package deadlock assembles the cross-site waits-for graph (§4.4) and
// selects a victim to break any cycle found in it. It is grounded on the
// wait-for graph and DFS cycle search used by a table/page/row lock manager
// elsewhere in the retrieved pack, generalized from integer transaction ids
// to opaque string tids and from "report the first cycle" to this spec's
// explicit youngest-start_ts victim rule.
package deadlock

import "sort"

// Graph is a directed waits-for graph: an edge waiter -> holder means
// waiter is blocked by a lock holder reports.
type Graph struct {
	edges map[string]map[string]struct{}
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{edges: make(map[string]map[string]struct{})}
}

// AddEdge records that waiter is blocked by holder. Self-edges are ignored.
func (g *Graph) AddEdge(waiter, holder string) {
	if waiter == holder {
		return
	}
	set, ok := g.edges[waiter]
	if !ok {
		set = make(map[string]struct{})
		g.edges[waiter] = set
	}
	set[holder] = struct{}{}
	if _, ok := g.edges[holder]; !ok {
		g.edges[holder] = make(map[string]struct{})
	}
}

func (g *Graph) sortedNodes() []string {
	nodes := make([]string, 0, len(g.edges))
	for n := range g.edges {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	return nodes
}

func (g *Graph) sortedNeighbors(n string) []string {
	out := make([]string, 0, len(g.edges[n]))
	for m := range g.edges[n] {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// DetectCycle runs a DFS from every node (in deterministic tid order) and
// returns the first cycle found, as the ordered slice of tids that
// participate in it.
func (g *Graph) DetectCycle() (bool, []string) {
	visited := make(map[string]bool)
	inStack := make(map[string]bool)
	var path []string

	for _, n := range g.sortedNodes() {
		if visited[n] {
			continue
		}
		if cycle := g.dfs(n, visited, inStack, &path); cycle != nil {
			return true, cycle
		}
	}
	return false, nil
}

func (g *Graph) dfs(n string, visited, inStack map[string]bool, path *[]string) []string {
	visited[n] = true
	inStack[n] = true
	*path = append(*path, n)

	for _, m := range g.sortedNeighbors(n) {
		if !visited[m] {
			if cycle := g.dfs(m, visited, inStack, path); cycle != nil {
				return cycle
			}
		} else if inStack[m] {
			idx := indexOf(*path, m)
			cycle := append([]string(nil), (*path)[idx:]...)
			return cycle
		}
	}

	inStack[n] = false
	*path = (*path)[:len(*path)-1]
	return nil
}

func indexOf(path []string, tid string) int {
	for i, t := range path {
		if t == tid {
			return i
		}
	}
	return -1
}

// StartTimeLookup resolves a tid to its start_ts, for victim selection.
type StartTimeLookup func(tid string) (int64, bool)

// SelectVictim picks the youngest (largest start_ts) transaction among
// cycle, tie-broken by the lexicographically larger tid.
func SelectVictim(cycle []string, startTS StartTimeLookup) string {
	var victim string
	var victimTS int64
	for _, tid := range cycle {
		ts, ok := startTS(tid)
		if !ok {
			continue
		}
		if victim == "" || ts > victimTS || (ts == victimTS && tid > victim) {
			victim = tid
			victimTS = ts
		}
	}
	return victim
}
