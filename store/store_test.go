package store

import (
	"context"
	"testing"

	"github.com/maxpert/gtidstate/gtid"
	"github.com/maxpert/gtidstate/state"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndReadRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rows := []Row{
		{DomainID: 0, ServerID: 1, SeqNo: 100, SubID: 1, Table: "gtid_slave_pos"},
		{DomainID: 0, ServerID: 1, SeqNo: 101, SubID: 2, Table: "gtid_slave_pos"},
		{DomainID: 1, ServerID: 2, SeqNo: 5, SubID: 3, Table: "gtid_slave_pos"},
	}
	for _, row := range rows {
		if err := s.RecordRow(ctx, row.Table, row.GTID(), row.SubID); err != nil {
			t.Fatalf("RecordRow failed: %v", err)
		}
	}

	got, err := s.Rows("gtid_slave_pos")
	if err != nil {
		t.Fatalf("Rows failed: %v", err)
	}
	if len(got) != len(rows) {
		t.Fatalf("got %d rows, want %d", len(got), len(rows))
	}
	for i, row := range got {
		if row != rows[i] {
			t.Errorf("row %d = %+v, want %+v", i, row, rows[i])
		}
	}

	count, err := s.RowCount()
	if err != nil {
		t.Fatalf("RowCount failed: %v", err)
	}
	if count != 3 {
		t.Errorf("RowCount() = %d, want 3", count)
	}
}

func TestRowsIsolatedPerTable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.RecordRow(ctx, "pos_a", gtid.GTID{DomainID: 0, ServerID: 1, SeqNo: 1}, 1); err != nil {
		t.Fatalf("RecordRow failed: %v", err)
	}
	if err := s.RecordRow(ctx, "pos_b", gtid.GTID{DomainID: 0, ServerID: 1, SeqNo: 2}, 2); err != nil {
		t.Fatalf("RecordRow failed: %v", err)
	}

	a, err := s.Rows("pos_a")
	if err != nil {
		t.Fatalf("Rows failed: %v", err)
	}
	if len(a) != 1 || a[0].SeqNo != 1 {
		t.Errorf("pos_a rows = %+v, want one row with seq 1", a)
	}

	all, err := s.AllRows()
	if err != nil {
		t.Fatalf("AllRows failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("AllRows() = %d rows, want 2", len(all))
	}
}

func TestDeleteRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for subID := uint64(1); subID <= 4; subID++ {
		g := gtid.GTID{DomainID: 0, ServerID: 1, SeqNo: subID}
		if err := s.RecordRow(ctx, "gtid_slave_pos", g, subID); err != nil {
			t.Fatalf("RecordRow failed: %v", err)
		}
	}

	refs := []state.RowRef{
		{Table: "gtid_slave_pos", DomainID: 0, SubID: 1},
		{Table: "gtid_slave_pos", DomainID: 0, SubID: 2},
		{Table: "gtid_slave_pos", DomainID: 0, SubID: 3},
	}
	if err := s.DeleteRows(ctx, refs); err != nil {
		t.Fatalf("DeleteRows failed: %v", err)
	}

	rows, err := s.Rows("gtid_slave_pos")
	if err != nil {
		t.Fatalf("Rows failed: %v", err)
	}
	if len(rows) != 1 || rows[0].SubID != 4 {
		t.Errorf("rows after delete = %+v, want only sub_id 4", rows)
	}
}

func TestLastPos(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, found, err := s.LastPos(9); err != nil || found {
		t.Errorf("LastPos(9) = found=%v err=%v, want not found", found, err)
	}

	s.RecordRow(ctx, "gtid_slave_pos", gtid.GTID{DomainID: 9, ServerID: 1, SeqNo: 10}, 1)
	s.RecordRow(ctx, "gtid_slave_pos", gtid.GTID{DomainID: 9, ServerID: 2, SeqNo: 20}, 2)

	row, found, err := s.LastPos(9)
	if err != nil || !found {
		t.Fatalf("LastPos(9) = found=%v err=%v, want found", found, err)
	}
	if row.SubID != 2 || row.SeqNo != 20 {
		t.Errorf("LastPos(9) = %+v, want the sub_id 2 row", row)
	}

	// Cold lookup after reopening hits the scan fallback.
	path := s.path
	s.Close()
	reopened, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	row, found, err = reopened.LastPos(9)
	if err != nil || !found {
		t.Fatalf("LastPos(9) after reopen = found=%v err=%v, want found", found, err)
	}
	if row.SubID != 2 {
		t.Errorf("LastPos(9) after reopen = %+v, want the sub_id 2 row", row)
	}
}

func TestRestoreSlaveState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	writes := []struct {
		g     gtid.GTID
		subID uint64
	}{
		{gtid.GTID{DomainID: 0, ServerID: 1, SeqNo: 100}, 1},
		{gtid.GTID{DomainID: 0, ServerID: 1, SeqNo: 101}, 2},
		{gtid.GTID{DomainID: 1, ServerID: 2, SeqNo: 5}, 3},
	}
	for _, wr := range writes {
		if err := s.RecordRow(ctx, "gtid_slave_pos", wr.g, wr.subID); err != nil {
			t.Fatalf("RecordRow failed: %v", err)
		}
	}

	ss := state.NewSlaveState(s)
	if err := s.RestoreSlaveState(ss); err != nil {
		t.Fatalf("RestoreSlaveState failed: %v", err)
	}
	if got, want := ss.String(nil), "0-1-101,1-2-5"; got != want {
		t.Errorf("restored position = %q, want %q", got, want)
	}
	// Restored sub_ids keep the counter ahead of every stored row.
	if got := ss.NextSubID(); got != 4 {
		t.Errorf("NextSubID() = %d after restore, want 4", got)
	}
}

func TestBinlogStateRoundTrip(t *testing.T) {
	s := openTestStore(t)

	bs := state.NewBinlogState()
	bs.Update(gtid.GTID{DomainID: 0, ServerID: 1, SeqNo: 10}, false)
	bs.Update(gtid.GTID{DomainID: 3, ServerID: 2, SeqNo: 7}, false)

	if err := s.SaveBinlogState(bs); err != nil {
		t.Fatalf("SaveBinlogState failed: %v", err)
	}

	restored := state.NewBinlogState()
	if err := s.LoadBinlogState(restored); err != nil {
		t.Fatalf("LoadBinlogState failed: %v", err)
	}
	if got, want := restored.StateString(), bs.StateString(); got != want {
		t.Errorf("restored binlog state = %q, want %q", got, want)
	}
}

func TestLoadBinlogStateMissingIsFresh(t *testing.T) {
	s := openTestStore(t)
	bs := state.NewBinlogState()
	if err := s.LoadBinlogState(bs); err != nil {
		t.Fatalf("missing snapshot should not error: %v", err)
	}
	if bs.Count() != 0 {
		t.Errorf("Count() = %d, want 0", bs.Count())
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s, err := Open(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
}

func TestPrefixUpperBound(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"/gtidpos/", "/gtidpos0"},
		{"abc", "abd"},
	}
	for _, tt := range tests {
		if got := string(prefixUpperBound([]byte(tt.prefix))); got != tt.want {
			t.Errorf("prefixUpperBound(%q) = %q, want %q", tt.prefix, got, tt.want)
		}
	}
	if got := prefixUpperBound([]byte{0xff, 0xff}); got != nil {
		t.Errorf("prefixUpperBound(0xffff) = %v, want nil", got)
	}
}
