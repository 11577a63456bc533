package deadlock

import (
	"github.com/lattice-db/rce/internal/site"
	"github.com/lattice-db/rce/internal/variable"
)

// BuildGraph assembles the waits-for graph across every UP site, per the
// edge-construction rule in §4.4: holder edges from each blocked queue
// entry to the lock holder(s) it cannot proceed past, plus FIFO edges
// between conflicting queued entries.
func BuildGraph(sites []*site.DataManager) *Graph {
	g := NewGraph()

	for _, dm := range sites {
		if !dm.Up() {
			continue
		}
		for _, v := range dm.Variables() {
			addVariableEdges(g, v)
		}
	}

	return g
}

func addVariableEdges(g *Graph, v *variable.Variable) {
	waitq := v.WaitQueue()
	if v.LockMode() == variable.LockNone || len(waitq) == 0 {
		return
	}

	switch v.LockMode() {
	case variable.LockRead:
		readers := v.Readers()
		for _, w := range waitq {
			if canProceedAgainstReaders(w, readers) {
				continue
			}
			for _, r := range readers {
				g.AddEdge(w.Tid, r)
			}
		}
	case variable.LockWrite:
		writer := v.Writer()
		for _, w := range waitq {
			if w.Tid != writer {
				g.AddEdge(w.Tid, writer)
			}
		}
	}

	for i := 0; i < len(waitq); i++ {
		for j := i + 1; j < len(waitq); j++ {
			wi, wj := waitq[i], waitq[j]
			if wi.Tid == wj.Tid {
				continue
			}
			if wi.Mode == variable.LockRead && wj.Mode == variable.LockRead {
				continue
			}
			g.AddEdge(wj.Tid, wi.Tid)
		}
	}
}

// canProceedAgainstReaders reports whether a queued entry would be granted
// immediately against the current reader set: a READ is always compatible,
// and a WRITE is compatible only if the waiter is the sole current reader
// (the upgrade case).
func canProceedAgainstReaders(w variable.Waiter, readers []string) bool {
	if w.Mode == variable.LockRead {
		return true
	}
	return len(readers) == 1 && readers[0] == w.Tid
}
