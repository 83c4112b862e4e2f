package state

import (
	"io"
	"sort"
	"sync"

	"github.com/maxpert/gtidstate/gtid"
	"github.com/maxpert/gtidstate/telemetry"
)

// binlogElement tracks the binlog position of one replication domain: the
// last GTID logged for every server id seen, plus the counter used to
// allocate the next local seq_no.
type binlogElement struct {
	domainID uint32
	servers  map[uint32]*gtid.GTID
	// lastGTID points at the most recently inserted entry of servers.
	lastGTID *gtid.GTID
	// seqNoCounter is monotonic and always >= the max seq_no across servers.
	seqNoCounter uint64
}

func (e *binlogElement) update(g gtid.GTID) {
	entry, ok := e.servers[g.ServerID]
	if ok {
		*entry = g
	} else {
		entry = &g
		e.servers[g.ServerID] = entry
	}
	e.lastGTID = entry
	if g.SeqNo > e.seqNoCounter {
		e.seqNoCounter = g.SeqNo
	}
}

// BinlogState keeps the last GTID written to the local binlog for every
// distinct (domain_id, server_id) pair. It answers "where does the binlog end"
// per domain and allocates seq_nos for brand-new local transactions.
//
// The state is written at the start of each new binlog file, which makes it
// possible to locate the file containing a given GTID by scanning backwards.
type BinlogState struct {
	mu       sync.Mutex
	elements map[uint32]*binlogElement
}

func NewBinlogState() *BinlogState {
	return &BinlogState{elements: make(map[uint32]*binlogElement)}
}

// Reset drops all recorded state.
func (bs *BinlogState) Reset() {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.elements = make(map[uint32]*binlogElement)
}

func (bs *BinlogState) getOrCreate(domainID uint32) *binlogElement {
	elem, ok := bs.elements[domainID]
	if !ok {
		elem = &binlogElement{domainID: domainID, servers: make(map[uint32]*gtid.GTID)}
		bs.elements[domainID] = elem
	}
	return elem
}

// Update registers that g was just written to the local binlog. With strict
// set, the seq_no must be strictly larger than anything already allocated in
// the domain; otherwise a DuplicateSeqNoError is returned and no state
// changes. Without strict the counter is advanced to at least g.SeqNo and the
// update always succeeds.
func (bs *BinlogState) Update(g gtid.GTID, strict bool) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.updateLocked(g, strict)
}

func (bs *BinlogState) updateLocked(g gtid.GTID, strict bool) error {
	elem := bs.getOrCreate(g.DomainID)
	if strict && g.SeqNo <= elem.seqNoCounter {
		return &DuplicateSeqNoError{Gtid: g, Current: elem.seqNoCounter}
	}
	elem.update(g)
	telemetry.BinlogGtidsTotal.Inc()
	return nil
}

// UpdateWithNextGTID atomically allocates the next seq_no for the domain and
// registers the resulting GTID. This is the path used when generating a new
// local transaction id; serialization against concurrent commits in the same
// domain happens under the table lock.
func (bs *BinlogState) UpdateWithNextGTID(domainID, serverID uint32) (gtid.GTID, error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	elem := bs.getOrCreate(domainID)
	g := gtid.GTID{DomainID: domainID, ServerID: serverID, SeqNo: elem.seqNoCounter + 1}
	if err := bs.updateLocked(g, false); err != nil {
		return gtid.GTID{}, err
	}
	return g, nil
}

// BumpSeqNoIfNeeded makes sure the domain's counter is at least seqNo, so
// that seq_nos assigned later do not conflict with one reserved externally.
func (bs *BinlogState) BumpSeqNoIfNeeded(domainID uint32, seqNo uint64) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	elem := bs.getOrCreate(domainID)
	if seqNo > elem.seqNoCounter {
		elem.seqNoCounter = seqNo
	}
}

// Find returns the last GTID logged for the (domain, server) pair.
func (bs *BinlogState) Find(domainID, serverID uint32) (gtid.GTID, bool) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	elem, ok := bs.elements[domainID]
	if !ok {
		return gtid.GTID{}, false
	}
	entry, ok := elem.servers[serverID]
	if !ok {
		return gtid.GTID{}, false
	}
	return *entry, true
}

// FindMostRecent returns the most recently logged GTID in the domain,
// regardless of server id.
func (bs *BinlogState) FindMostRecent(domainID uint32) (gtid.GTID, bool) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	elem, ok := bs.elements[domainID]
	if !ok || elem.lastGTID == nil {
		return gtid.GTID{}, false
	}
	return *elem.lastGTID, true
}

// SeqNoCounter returns the domain's current allocation counter.
func (bs *BinlogState) SeqNoCounter(domainID uint32) uint64 {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	elem, ok := bs.elements[domainID]
	if !ok {
		return 0
	}
	return elem.seqNoCounter
}

// Count returns the number of (domain, server) entries tracked.
func (bs *BinlogState) Count() int {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	n := 0
	for _, elem := range bs.elements {
		n += len(elem.servers)
	}
	return n
}

// GTIDList returns every tracked (domain, server) entry, sorted by domain id
// then server id for stable output.
func (bs *BinlogState) GTIDList() []gtid.GTID {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.gtidListLocked()
}

func (bs *BinlogState) gtidListLocked() []gtid.GTID {
	list := make([]gtid.GTID, 0, len(bs.elements))
	for _, elem := range bs.elements {
		for _, entry := range elem.servers {
			list = append(list, *entry)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].DomainID != list[j].DomainID {
			return list[i].DomainID < list[j].DomainID
		}
		return list[i].ServerID < list[j].ServerID
	})
	return list
}

// Pos renders the most recent GTID per domain, the compact position form
// exchanged with slaves.
func (bs *BinlogState) Pos() string {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	list := make([]gtid.GTID, 0, len(bs.elements))
	for _, elem := range bs.elements {
		if elem.lastGTID != nil {
			list = append(list, *elem.lastGTID)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].DomainID < list[j].DomainID })
	return gtid.FormatList(list)
}

// StateString renders the full per-server state as a comma-separated list.
func (bs *BinlogState) StateString() string {
	return gtid.FormatList(bs.GTIDList())
}

// WriteTo serializes the full table into the count-prefixed binary triple
// format used for cross-restart persistence.
func (bs *BinlogState) WriteTo(w io.Writer) error {
	return gtid.EncodeList(w, bs.GTIDList())
}

// ReadFrom resets the table and repopulates it from the binary format.
func (bs *BinlogState) ReadFrom(r io.Reader) error {
	list, err := gtid.DecodeList(r)
	if err != nil {
		return err
	}
	return bs.Load(list)
}

// Load resets the table and bulk-populates it from a GTID list. Entry order
// is insignificant; per-domain counters end up at the max seq_no seen.
func (bs *BinlogState) Load(list []gtid.GTID) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.elements = make(map[uint32]*binlogElement)
	for _, g := range list {
		if err := bs.updateLocked(g, false); err != nil {
			return err
		}
	}
	return nil
}

// LoadFromSlaveState populates the table from a slave state snapshot, taking
// the per-domain maximum. Used when a slave is promoted to master.
func (bs *BinlogState) LoadFromSlaveState(ss *SlaveState) error {
	var list []gtid.GTID
	err := ss.Iterate(func(g gtid.GTID) error {
		list = append(list, g)
		return nil
	}, nil, false)
	if err != nil {
		return err
	}
	return bs.Load(list)
}
