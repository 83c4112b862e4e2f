package state

import (
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// DefaultPosTable is the gtid_pos table used when none are configured.
const DefaultPosTable = "gtid_slave_pos"

var errNoPosTables = errors.New("no gtid_pos tables configured")

type posTable struct {
	name string
	next *posTable
}

// posTableList publishes the set of gtid_pos tables available for durably
// storing the slave position. Writers serialize on mu and publish a new head
// with release semantics only after its next pointer is fully linked; the
// replication apply path reads the list with an acquire load and never
// blocks on the writers.
type posTableList struct {
	mu   sync.Mutex
	head atomic.Pointer[posTable]
}

// setList replaces the whole list. Only allowed while appliers are stopped.
func (l *posTableList) setList(names []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var head *posTable
	for i := len(names) - 1; i >= 0; i-- {
		head = &posTable{name: names[i], next: head}
	}
	l.head.Store(head)
}

// add publishes one new table at the head of the list.
func (l *posTableList) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.head.Store(&posTable{name: name, next: l.head.Load()})
}

// names walks the published list without locking.
func (l *posTableList) names() []string {
	var out []string
	for t := l.head.Load(); t != nil; t = t.next {
		out = append(out, t.name)
	}
	return out
}

// forDomain picks the table a domain's rows land on, hashing the domain id
// across the published set so one domain always uses one table, and returns
// the remaining tables as failover candidates.
func (l *posTableList) forDomain(domainID uint32) (string, []string) {
	names := l.names()
	if len(names) == 0 {
		return "", nil
	}
	var key [4]byte
	binary.LittleEndian.PutUint32(key[:], domainID)
	idx := int(xxhash.Sum64(key[:]) % uint64(len(names)))
	primary := names[idx]
	rest := make([]string, 0, len(names)-1)
	rest = append(rest, names[idx+1:]...)
	rest = append(rest, names[:idx]...)
	return primary, rest
}

// SetTableList replaces the published gtid_pos table set. Only allowed while
// replication appliers are stopped.
func (ss *SlaveState) SetTableList(names []string) {
	ss.tables.setList(names)
}

// AddTable publishes one additional gtid_pos table.
func (ss *SlaveState) AddTable(name string) {
	ss.tables.add(name)
}

// PosTables returns the currently published table set.
func (ss *SlaveState) PosTables() []string {
	return ss.tables.names()
}
