package state

import (
	"testing"

	"github.com/maxpert/gtidstate/gtid"
)

func TestConnStateLoadAndUpdate(t *testing.T) {
	cs := NewConnState()
	if err := cs.Load("0-1-100,1-2-5"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := cs.Count(); got != 2 {
		t.Errorf("Count() = %d, want 2", got)
	}

	// Lower seq_no for a known domain is ignored.
	cs.Update(gtid.GTID{DomainID: 0, ServerID: 9, SeqNo: 50})
	if g, ok := cs.Find(0); !ok || g.SeqNo != 100 {
		t.Errorf("Find(0) = %v, %v; want seq 100", g, ok)
	}

	// Higher seq_no replaces the entry.
	cs.Update(gtid.GTID{DomainID: 0, ServerID: 9, SeqNo: 200})
	if g, _ := cs.Find(0); g.ServerID != 9 || g.SeqNo != 200 {
		t.Errorf("Find(0) = %v, want 0-9-200", g)
	}

	if got, want := cs.String(), "0-9-200,1-2-5"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestConnStateLoadMalformed(t *testing.T) {
	cs := NewConnState()
	if err := cs.Load("not-a-position-really"); err == nil {
		t.Error("expected error for malformed position")
	}
	if cs.Count() != 0 {
		t.Errorf("Count() = %d after failed load, want 0", cs.Count())
	}
}

func TestConnStateLoadFromSlaveState(t *testing.T) {
	ss := NewSlaveState(nil)
	if err := ss.Load("0-1-100,1-2-5", false); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cs := NewConnState()
	overrides := []gtid.GTID{{DomainID: 1, ServerID: 7, SeqNo: 2}}
	if err := cs.LoadFromSlaveState(ss, overrides); err != nil {
		t.Fatalf("LoadFromSlaveState failed: %v", err)
	}

	entry, ok := cs.FindEntry(0)
	if !ok || entry.Flags&StartOwnSlavePos == 0 {
		t.Errorf("entry for domain 0 = %+v, want StartOwnSlavePos flag", entry)
	}

	// The override wins even though its seq_no is lower, and carries no
	// derived-position flag.
	entry, ok = cs.FindEntry(1)
	if !ok || entry.Gtid.SeqNo != 2 || entry.Flags != 0 {
		t.Errorf("entry for domain 1 = %+v, want override 1-7-2 with no flags", entry)
	}
}

func TestConnStateRemove(t *testing.T) {
	cs := NewConnState()
	cs.Update(gtid.GTID{DomainID: 0, ServerID: 1, SeqNo: 10})

	// RemoveIfPresent requires an exact match.
	cs.RemoveIfPresent(gtid.GTID{DomainID: 0, ServerID: 1, SeqNo: 11})
	if cs.Count() != 1 {
		t.Error("RemoveIfPresent removed a non-matching entry")
	}
	cs.RemoveIfPresent(gtid.GTID{DomainID: 0, ServerID: 1, SeqNo: 10})
	if cs.Count() != 0 {
		t.Error("RemoveIfPresent kept a matching entry")
	}

	cs.Update(gtid.GTID{DomainID: 0, ServerID: 1, SeqNo: 10})
	cs.Remove(gtid.GTID{DomainID: 0, ServerID: 99, SeqNo: 1})
	if cs.Count() != 0 {
		t.Error("Remove should delete by domain regardless of the rest")
	}
}

func TestConnStateIsPosReached(t *testing.T) {
	cs := NewConnState()
	if err := cs.Load("0-1-100,1-2-5"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	bs := NewBinlogState()
	bs.Update(gtid.GTID{DomainID: 0, ServerID: 1, SeqNo: 100}, false)
	if cs.IsPosReached(bs) {
		t.Error("position reported reached while domain 1 lags")
	}

	bs.Update(gtid.GTID{DomainID: 1, ServerID: 3, SeqNo: 6}, false)
	if !cs.IsPosReached(bs) {
		t.Error("position should be reached once every domain is covered")
	}
}
