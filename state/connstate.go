package state

import (
	"sort"

	"github.com/maxpert/gtidstate/gtid"
)

// StartFlag qualifies how a requested per-domain start position was derived.
type StartFlag uint32

const (
	// StartOwnSlavePos marks a position taken from the slave's own applied
	// state rather than an explicit override.
	StartOwnSlavePos StartFlag = 1 << iota
	// StartOnEmptyDomain marks a domain the slave has never seen; the master
	// should send the domain from its beginning.
	StartOnEmptyDomain
)

// ConnEntry is the requested start position for one domain.
type ConnEntry struct {
	Gtid  gtid.GTID
	Flags StartFlag
}

// ConnState is the GTID position a slave connection requests the master to
// start sending binlog events from. It belongs to a single connection and is
// not safe for concurrent use.
type ConnState struct {
	entries map[uint32]ConnEntry
}

func NewConnState() *ConnState {
	return &ConnState{entries: make(map[uint32]ConnEntry)}
}

// Reset drops all entries.
func (cs *ConnState) Reset() {
	cs.entries = make(map[uint32]ConnEntry)
}

// Load populates the state from a textual position. A repeated domain keeps
// the higher seq_no. The existing entries are kept; call Reset first for a
// clean load.
func (cs *ConnState) Load(text string) error {
	list, err := gtid.ParseList(text)
	if err != nil {
		return err
	}
	cs.LoadFromList(list)
	return nil
}

// LoadFromList merges a GTID list into the state.
func (cs *ConnState) LoadFromList(list []gtid.GTID) {
	for _, g := range list {
		cs.Update(g)
	}
}

// LoadFromSlaveState derives the request from the slave's applied state plus
// explicit overrides. Overrides win regardless of seq_no; positions coming
// from the applied state are flagged StartOwnSlavePos.
func (cs *ConnState) LoadFromSlaveState(ss *SlaveState, overrides []gtid.GTID) error {
	err := ss.Iterate(func(g gtid.GTID) error {
		cs.entries[g.DomainID] = ConnEntry{Gtid: g, Flags: StartOwnSlavePos}
		return nil
	}, nil, false)
	if err != nil {
		return err
	}
	for _, g := range overrides {
		cs.entries[g.DomainID] = ConnEntry{Gtid: g}
	}
	return nil
}

// Find returns the requested position for a domain.
func (cs *ConnState) Find(domainID uint32) (gtid.GTID, bool) {
	entry, ok := cs.entries[domainID]
	return entry.Gtid, ok
}

// FindEntry returns the full entry for a domain.
func (cs *ConnState) FindEntry(domainID uint32) (ConnEntry, bool) {
	entry, ok := cs.entries[domainID]
	return entry, ok
}

// Update sets the domain's position, keeping the higher seq_no when an entry
// already exists. Explicit updates clear derived-position flags.
func (cs *ConnState) Update(g gtid.GTID) {
	if cur, ok := cs.entries[g.DomainID]; ok && cur.Gtid.SeqNo > g.SeqNo {
		return
	}
	cs.entries[g.DomainID] = ConnEntry{Gtid: g}
}

// Remove deletes the domain's entry.
func (cs *ConnState) Remove(g gtid.GTID) {
	delete(cs.entries, g.DomainID)
}

// RemoveIfPresent deletes the entry only when it matches g exactly.
func (cs *ConnState) RemoveIfPresent(g gtid.GTID) {
	if cur, ok := cs.entries[g.DomainID]; ok && cur.Gtid == g {
		delete(cs.entries, g.DomainID)
	}
}

// Count returns the number of domains with a requested position.
func (cs *ConnState) Count() int {
	return len(cs.entries)
}

// GTIDList returns the requested positions sorted by domain id.
func (cs *ConnState) GTIDList() []gtid.GTID {
	list := make([]gtid.GTID, 0, len(cs.entries))
	for _, entry := range cs.entries {
		list = append(list, entry.Gtid)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].DomainID < list[j].DomainID })
	return list
}

// String renders the request as a comma-separated position.
func (cs *ConnState) String() string {
	return gtid.FormatList(cs.GTIDList())
}

// IsPosReached reports whether the binlog state already covers every
// requested domain position, meaning the connection has nothing left to
// stream.
func (cs *ConnState) IsPosReached(bs *BinlogState) bool {
	for domainID, entry := range cs.entries {
		if bs.SeqNoCounter(domainID) < entry.Gtid.SeqNo {
			return false
		}
	}
	return true
}
