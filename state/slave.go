package state

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/maxpert/gtidstate/gtid"
	"github.com/maxpert/gtidstate/telemetry"
)

// RowRef identifies one durably stored applied-GTID row.
type RowRef struct {
	Table    string
	DomainID uint32
	SubID    uint64
}

// RowWriter is the durable storage collaborator used to persist and purge
// applied-GTID rows. Implementations must be safe for concurrent use.
type RowWriter interface {
	RecordRow(ctx context.Context, table string, g gtid.GTID, subID uint64) error
	DeleteRows(ctx context.Context, refs []RowRef) error
}

// ListElement is one applied-GTID record. SubID orders records for safe
// truncation independently of the GTID's own seq_no.
type ListElement struct {
	SubID    uint64
	DomainID uint32
	ServerID uint32
	SeqNo    uint64
	// Table names the gtid_pos table this record was written to, empty when
	// the record came from a bulk load rather than a durable write.
	Table string
}

func (le *ListElement) gtid() gtid.GTID {
	return gtid.GTID{DomainID: le.DomainID, ServerID: le.ServerID, SeqNo: le.SeqNo}
}

// slaveElement holds the applied state of one replication domain. All fields
// are guarded by SlaveState.mu; waitSignal and ownerSignal are broadcast by
// closing and replacing the channel while holding that lock.
type slaveElement struct {
	domainID uint32
	// list holds applied records in SubID order, newest last. Records are
	// only removed by truncation after their rows are confirmed durable,
	// and the newest record always stays.
	list         []*ListElement
	highestSeqNo uint64

	// Elected small waiter for this domain, nil when no wait is in flight.
	// minWaitSeqNo is the seq_no that waiter is blocked on.
	waiter       *queueElement
	minWaitSeqNo uint64
	waitSignal   chan struct{}

	// Duplicate suppression across multiple master connections applying the
	// same domain: only the owner may apply, others skip or block.
	owner       string
	ownerCount  uint32
	ownerSignal chan struct{}
}

// SlaveState remembers, per replication domain, the GTIDs this node has
// applied as a replica. Events commit in order within a domain, so the
// highest seq_no seen fully describes the position.
type SlaveState struct {
	mu        sync.Mutex
	elements  map[uint32]*slaveElement
	lastSubID uint64
	writer    RowWriter
	tables    posTableList
}

// NewSlaveState creates a slave state backed by the given row writer. The
// writer may be nil for purely in-memory use (tests, position parsing).
func NewSlaveState(writer RowWriter) *SlaveState {
	ss := &SlaveState{
		elements: make(map[uint32]*slaveElement),
		writer:   writer,
	}
	ss.tables.setList([]string{DefaultPosTable})
	return ss
}

func (ss *SlaveState) getOrCreate(domainID uint32) *slaveElement {
	elem, ok := ss.elements[domainID]
	if !ok {
		elem = &slaveElement{
			domainID:    domainID,
			waitSignal:  make(chan struct{}),
			ownerSignal: make(chan struct{}),
		}
		ss.elements[domainID] = elem
	}
	return elem
}

// NextSubID allocates the next record ordering number. SubIDs increase
// monotonically across all domains.
func (ss *SlaveState) NextSubID() uint64 {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.lastSubID++
	return ss.lastSubID
}

// Update records that the GTID has been (or is about to be) applied. It
// appends a list record, advances the domain's highest seq_no, and wakes the
// domain's elected waiter when its wanted position has been reached.
func (ss *SlaveState) Update(domainID, serverID uint32, subID, seqNo uint64, table string) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if subID > ss.lastSubID {
		// Keeps the counter monotonic when records are restored from
		// storage with their original sub_ids.
		ss.lastSubID = subID
	}
	elem := ss.getOrCreate(domainID)
	elem.list = append(elem.list, &ListElement{
		SubID:    subID,
		DomainID: domainID,
		ServerID: serverID,
		SeqNo:    seqNo,
		Table:    table,
	})
	if seqNo > elem.highestSeqNo {
		elem.highestSeqNo = seqNo
	}
	if elem.waiter != nil && elem.highestSeqNo >= elem.minWaitSeqNo {
		close(elem.waitSignal)
		elem.waitSignal = make(chan struct{})
	}
	telemetry.AppliedGtidsTotal.Inc()
	return nil
}

// RecordGTID persists the GTID to one of the configured gtid_pos tables and
// updates the in-memory state. The table is chosen per domain; when a write
// fails the remaining tables are tried in publication order before giving up.
// On failure no in-memory state changes, preserving at-least-once semantics
// for a retry.
func (ss *SlaveState) RecordGTID(ctx context.Context, g gtid.GTID) (uint64, error) {
	subID := ss.NextSubID()
	table, rest := ss.tables.forDomain(g.DomainID)
	if table == "" {
		return 0, &PersistenceError{Gtid: g, Err: errNoPosTables}
	}
	err := ss.writer.RecordRow(ctx, table, g, subID)
	for _, fallback := range rest {
		if err == nil {
			break
		}
		log.Warn().Err(err).Str("table", table).Str("gtid", g.String()).
			Msg("gtid_pos table write failed, trying next table")
		table = fallback
		err = ss.writer.RecordRow(ctx, table, g, subID)
	}
	if err != nil {
		return 0, &PersistenceError{Table: table, Gtid: g, Err: err}
	}
	if err := ss.Update(g.DomainID, g.ServerID, subID, g.SeqNo, table); err != nil {
		return 0, err
	}
	return subID, nil
}

// HighestSeqNo returns the highest applied seq_no in the domain, 0 when the
// domain has never been seen.
func (ss *SlaveState) HighestSeqNo(domainID uint32) uint64 {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	elem, ok := ss.elements[domainID]
	if !ok {
		return 0
	}
	return elem.highestSeqNo
}

// CheckDuplicateGTID decides whether the connection named owner may apply g.
// Only one connection at a time owns a domain. Returns true to apply (and
// takes ownership), false with nil error when the GTID is redundant and must
// be skipped. When another connection owns the domain the call blocks until
// ownership is released or ctx is done.
func (ss *SlaveState) CheckDuplicateGTID(ctx context.Context, g gtid.GTID, owner string) (bool, error) {
	ss.mu.Lock()
	for {
		elem := ss.getOrCreate(g.DomainID)
		if g.SeqNo <= elem.highestSeqNo {
			ss.mu.Unlock()
			telemetry.DuplicateSkipsTotal.Inc()
			return false, nil
		}
		if elem.owner == "" || elem.owner == owner {
			elem.owner = owner
			elem.ownerCount++
			ss.mu.Unlock()
			return true, nil
		}
		ch := elem.ownerSignal
		ss.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return false, ctx.Err()
		}
		ss.mu.Lock()
	}
}

// ReleaseDomainOwner drops one ownership reference held by owner on the
// domain. When the count reaches zero the domain is released and blocked
// claimants are woken.
func (ss *SlaveState) ReleaseDomainOwner(domainID uint32, owner string) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	elem, ok := ss.elements[domainID]
	if !ok || elem.owner != owner || elem.ownerCount == 0 {
		return
	}
	elem.ownerCount--
	if elem.ownerCount == 0 {
		elem.owner = ""
		close(elem.ownerSignal)
		elem.ownerSignal = make(chan struct{})
	}
}

// DomainOwner reports the current owner of a domain, empty when unowned.
func (ss *SlaveState) DomainOwner(domainID uint32) (string, uint32) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	elem, ok := ss.elements[domainID]
	if !ok {
		return "", 0
	}
	return elem.owner, elem.ownerCount
}

// currentSetLocked builds the per-domain current position set, merged with
// extra GTIDs (extras win only with a higher seq_no).
func (ss *SlaveState) currentSetLocked(extra []gtid.GTID) gtid.Set {
	set := make(gtid.Set, len(ss.elements))
	for _, elem := range ss.elements {
		if n := len(elem.list); n > 0 {
			set.Update(elem.list[n-1].gtid())
		}
	}
	for _, g := range extra {
		set.Update(g)
	}
	return set
}

// Iterate calls fn for the current position of every domain, optionally
// merged with extra GTIDs and sorted by domain id. Iteration stops on the
// first error from fn.
func (ss *SlaveState) Iterate(fn func(gtid.GTID) error, extra []gtid.GTID, sorted bool) error {
	ss.mu.Lock()
	set := ss.currentSetLocked(extra)
	ss.mu.Unlock()
	for _, g := range set.List(sorted) {
		if err := fn(g); err != nil {
			return err
		}
	}
	return nil
}

// DomainToGTID is a point lookup of the domain's current position.
func (ss *SlaveState) DomainToGTID(domainID uint32) (gtid.GTID, bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	elem, ok := ss.elements[domainID]
	if !ok || len(elem.list) == 0 {
		return gtid.GTID{}, false
	}
	return elem.list[len(elem.list)-1].gtid(), true
}

// IsEmpty reports whether no domain has been populated.
func (ss *SlaveState) IsEmpty() bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	for _, elem := range ss.elements {
		if len(elem.list) > 0 {
			return false
		}
	}
	return true
}

// Count returns the number of tracked domains.
func (ss *SlaveState) Count() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return len(ss.elements)
}

// String renders the current position merged with extras, sorted by domain,
// the gtid_slave_pos textual form.
func (ss *SlaveState) String(extra []gtid.GTID) string {
	ss.mu.Lock()
	set := ss.currentSetLocked(extra)
	ss.mu.Unlock()
	return set.String()
}

// Load populates the state from a textual GTID position, as received from a
// master or restored from storage. With reset the existing state is dropped
// first. No durable rows are written; the text is assumed to describe
// already-durable state.
func (ss *SlaveState) Load(text string, reset bool) error {
	list, err := gtid.ParseList(text)
	if err != nil {
		return err
	}
	if reset {
		ss.TruncateHash()
	}
	for _, g := range list {
		subID := ss.NextSubID()
		if err := ss.Update(g.DomainID, g.ServerID, subID, g.SeqNo, ""); err != nil {
			return err
		}
	}
	return nil
}

// TruncateHash drops all in-memory state. Callers must make sure no waiters
// or appliers are active.
func (ss *SlaveState) TruncateHash() {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.elements = make(map[uint32]*slaveElement)
}

// GrabPendingDeleteList detaches every applied record except the newest per
// domain and returns the batch, transferring ownership to the caller. The
// batch must be handed back via PutBackList if the corresponding durable
// deletes fail, or the rows would be purged again after a crash.
func (ss *SlaveState) GrabPendingDeleteList() []*ListElement {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	var batch []*ListElement
	for _, elem := range ss.elements {
		if n := len(elem.list); n > 1 {
			batch = append(batch, elem.list[:n-1]...)
			elem.list = elem.list[n-1:]
		}
	}
	telemetry.PendingDeleteRows.Set(0)
	return batch
}

// PutBackList re-attaches a grabbed batch after a failed purge.
func (ss *SlaveState) PutBackList(batch []*ListElement) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	touched := make(map[uint32]*slaveElement)
	for _, le := range batch {
		elem := ss.getOrCreate(le.DomainID)
		elem.list = append(elem.list, le)
		touched[le.DomainID] = elem
	}
	for _, elem := range touched {
		sort.Slice(elem.list, func(i, j int) bool {
			return elem.list[i].SubID < elem.list[j].SubID
		})
	}
	telemetry.PendingDeleteRows.Set(float64(len(batch)))
}

// TruncateStateTable purges durable rows for records that are superseded by
// newer positions. The grabbed batch is only dropped once the deletes are
// confirmed; on failure it is put back so the purge is retried later.
func (ss *SlaveState) TruncateStateTable(ctx context.Context) error {
	batch := ss.GrabPendingDeleteList()
	if len(batch) == 0 {
		return nil
	}
	refs := make([]RowRef, 0, len(batch))
	for _, le := range batch {
		if le.Table == "" {
			continue
		}
		refs = append(refs, RowRef{Table: le.Table, DomainID: le.DomainID, SubID: le.SubID})
	}
	if len(refs) > 0 && ss.writer != nil {
		if err := ss.writer.DeleteRows(ctx, refs); err != nil {
			ss.PutBackList(batch)
			return &PersistenceError{Err: err}
		}
	}
	log.Debug().Int("rows", len(refs)).Msg("Purged applied-GTID rows")
	return nil
}
