// Package site implements the per-site Data Manager (§4.2): it owns a
// fixed set of Variables, routes read/write/commit/abort/snapshot calls to
// them, and drives the failure/recovery state machine. A DataManager never
// looks at other sites — cross-site routing is the Transaction Manager's
// job.
package site

import (
	"sort"

	"github.com/lattice-db/rce/internal/variable"
)

// DataManager is one of the ten sites (§3, §4.2).
type DataManager struct {
	id        int
	up        bool
	variables map[string]*variable.Variable
	touchedBy map[string]map[string]struct{} // tid -> variable ids touched since last up
}

// New creates an UP DataManager with site id i (1..10).
func New(id int) *DataManager {
	return &DataManager{
		id:        id,
		up:        true,
		variables: make(map[string]*variable.Variable),
		touchedBy: make(map[string]map[string]struct{}),
	}
}

func (dm *DataManager) ID() int  { return dm.id }
func (dm *DataManager) Up() bool { return dm.up }

// AddVariable registers a variable as present at this site. The §3
// placement rule (odd K at exactly one site, even K at every site) is
// decided by the caller that builds the ten DataManagers.
func (dm *DataManager) AddVariable(v *variable.Variable) {
	dm.variables[v.ID()] = v
}

// Has reports whether this site stores variable id.
func (dm *DataManager) Has(id string) bool {
	_, ok := dm.variables[id]
	return ok
}

// Variable returns the variable id at this site, for callers (the deadlock
// detector, dump formatting) that need direct lock-state access.
func (dm *DataManager) Variable(id string) (*variable.Variable, bool) {
	v, ok := dm.variables[id]
	return v, ok
}

// Variables returns every variable at this site, in ascending id order.
func (dm *DataManager) Variables() []*variable.Variable {
	out := make([]*variable.Variable, 0, len(dm.variables))
	for _, v := range dm.variables {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (dm *DataManager) touch(tid, varID string) {
	set, ok := dm.touchedBy[tid]
	if !ok {
		set = make(map[string]struct{})
		dm.touchedBy[tid] = set
	}
	set[varID] = struct{}{}
}

// TouchedTransactions returns every tid that has read or written at this
// site since it last came up.
func (dm *DataManager) TouchedTransactions() []string {
	out := make([]string, 0, len(dm.touchedBy))
	for tid := range dm.touchedBy {
		out = append(out, tid)
	}
	return out
}

// Read attempts a READ lock grant for tid on varID (§4.2).
func (dm *DataManager) Read(tid, varID string) (granted bool, value int) {
	if !dm.up {
		return false, 0
	}
	v, ok := dm.variables[varID]
	if !ok {
		return false, 0
	}
	granted, value, _ = v.AcquireRead(tid)
	if granted {
		dm.touch(tid, varID)
	}
	return granted, value
}

// WriteTry attempts a WRITE lock grant (or confirms an already-held one)
// for tid on varID. It never stages a value — WriteCommitLocal does that
// once every UP holder of the key has granted.
func (dm *DataManager) WriteTry(tid, varID string) bool {
	if !dm.up {
		return false
	}
	v, ok := dm.variables[varID]
	if !ok {
		return false
	}
	granted, _ := v.AcquireWrite(tid)
	return granted
}

// WriteCommitLocal stages value at varID for tid, which must already hold
// the write lock (granted by a prior WriteTry).
func (dm *DataManager) WriteCommitLocal(tid, varID string, value int) {
	v, ok := dm.variables[varID]
	if !ok {
		return
	}
	v.StageValue(value)
	dm.touch(tid, varID)
}

// Snapshot returns the committed value visible at timestamp ts, per §4.2;
// found is false if varID is absent at this site or its copy here is not
// READY (failed or still recovering).
func (dm *DataManager) Snapshot(ts int64, varID string) (value int, found bool) {
	v, ok := dm.variables[varID]
	if !ok {
		return 0, false
	}
	return v.Snapshot(ts)
}

// Commit finalizes every variable tid wrote at this site with commit
// timestamp ts, then releases every lock tid holds here (read or write).
func (dm *DataManager) Commit(tid string, ts int64) {
	for _, v := range dm.variables {
		if v.Writer() == tid {
			v.Commit(ts)
		}
	}
	for _, v := range dm.variables {
		v.Release(tid)
	}
	delete(dm.touchedBy, tid)
}

// Abort discards any staged write by tid and releases every lock it holds
// here.
func (dm *DataManager) Abort(tid string) {
	for _, v := range dm.variables {
		if v.Writer() == tid {
			v.DiscardStaged()
		}
	}
	for _, v := range dm.variables {
		v.Release(tid)
	}
	delete(dm.touchedBy, tid)
}

// Fail takes the site down: every lock is cleared, every variable becomes
// UNAVAILABLE, but committed history survives.
func (dm *DataManager) Fail() {
	dm.up = false
	for _, v := range dm.variables {
		v.ResetLockState()
		v.SetAvailability(variable.Unavailable)
	}
	dm.touchedBy = make(map[string]map[string]struct{})
}

// Recover brings the site back up: replicated variables become RECOVERING
// (unreadable by RW transactions until the next commit here touches them);
// unreplicated variables are immediately READY.
func (dm *DataManager) Recover() {
	if dm.up {
		return
	}
	dm.up = true
	for _, v := range dm.variables {
		if v.Replicated() {
			v.SetAvailability(variable.Recovering)
		} else {
			v.SetAvailability(variable.Ready)
		}
	}
}
