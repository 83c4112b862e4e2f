// Package store durably persists replication GTID state on a local pebble
// instance. It implements the row-write collaborator consumed by the slave
// state table and keeps the binlog state snapshot across restarts.
package store

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/maxpert/gtidstate/encoding"
	"github.com/maxpert/gtidstate/gtid"
	"github.com/maxpert/gtidstate/state"
	"github.com/maxpert/gtidstate/telemetry"
)

// Key prefixes, sorted for efficient iteration.
const (
	prefixPos  = "/gtidpos/" // /gtidpos/{table}/{domainID:08x}/{subID:016x}
	keyBinlog  = "/meta/binlog-state"
	keySchemaV = "/meta/schema-version"
)

const schemaVersion = 1

// posCacheSize bounds the per-domain last-row read cache.
const posCacheSize = 256

// Row is one persisted applied-GTID record.
type Row struct {
	DomainID uint32 `msgpack:"d"`
	ServerID uint32 `msgpack:"s"`
	SeqNo    uint64 `msgpack:"q"`
	SubID    uint64 `msgpack:"u"`
	Table    string `msgpack:"t"`
}

// GTID returns the row's GTID triple.
func (r Row) GTID() gtid.GTID {
	return gtid.GTID{DomainID: r.DomainID, ServerID: r.ServerID, SeqNo: r.SeqNo}
}

// Options tune the underlying pebble instance.
type Options struct {
	CacheSizeMB    int
	MemTableSizeMB int
}

// Store is a pebble-backed durable GTID position store.
type Store struct {
	db     *pebble.DB
	path   string
	closed atomic.Bool

	// posCache keeps the most recently written row per domain so status
	// lookups never hit pebble on the hot path.
	posCache *lru.Cache[uint32, Row]
}

// Ensure Store implements the slave state's persistence collaborator.
var _ state.RowWriter = (*Store)(nil)

type pebbleLogger struct{}

func (pebbleLogger) Infof(format string, args ...interface{}) {
	log.Debug().Msgf("pebble: "+format, args...)
}

func (pebbleLogger) Errorf(format string, args ...interface{}) {
	log.Error().Msgf("pebble: "+format, args...)
}

func (pebbleLogger) Fatalf(format string, args ...interface{}) {
	log.Fatal().Msgf("pebble: "+format, args...)
}

// Open opens (or creates) the store at path.
func Open(path string, opts Options) (*Store, error) {
	if opts.CacheSizeMB <= 0 {
		opts.CacheSizeMB = 64
	}
	if opts.MemTableSizeMB <= 0 {
		opts.MemTableSizeMB = 16
	}

	cache := pebble.NewCache(int64(opts.CacheSizeMB) << 20)
	defer cache.Unref() // DB holds its own reference

	db, err := pebble.Open(path, &pebble.Options{
		Cache:        cache,
		MemTableSize: uint64(opts.MemTableSizeMB) << 20,
		Logger:       pebbleLogger{},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db: %w", err)
	}

	posCache, err := lru.New[uint32, Row](posCacheSize)
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, path: path, posCache: posCache}
	if err := s.ensureSchemaVersion(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchemaVersion() error {
	val, closer, err := s.db.Get([]byte(keySchemaV))
	if err == pebble.ErrNotFound {
		return s.db.Set([]byte(keySchemaV), []byte{schemaVersion}, pebble.Sync)
	}
	if err != nil {
		return err
	}
	defer closer.Close()
	if len(val) != 1 || val[0] != schemaVersion {
		return fmt.Errorf("unsupported store schema version %v", val)
	}
	return nil
}

// Close closes the store. Idempotent.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

func rowKey(table string, domainID uint32, subID uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%08x/%016x", prefixPos, table, domainID, subID))
}

// prefixUpperBound returns the smallest key greater than every key with the
// given prefix.
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// RecordRow durably writes one applied-GTID row. The write is synced; a
// successful return means the position survives a crash.
func (s *Store) RecordRow(ctx context.Context, table string, g gtid.GTID, subID uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	row := Row{DomainID: g.DomainID, ServerID: g.ServerID, SeqNo: g.SeqNo, SubID: subID, Table: table}
	data, err := encoding.Marshal(row)
	if err != nil {
		return err
	}
	if err := s.db.Set(rowKey(table, g.DomainID, subID), data, pebble.Sync); err != nil {
		telemetry.StoreWritesTotal.With("failed").Inc()
		return err
	}
	telemetry.StoreWritesTotal.With("success").Inc()
	telemetry.StoreWriteSeconds.Observe(time.Since(start).Seconds())

	if cur, ok := s.posCache.Get(g.DomainID); !ok || subID > cur.SubID {
		s.posCache.Add(g.DomainID, row)
	}
	return nil
}

// DeleteRows purges a batch of superseded rows in one synced batch. Either
// the whole batch is durably gone or (on error) none of it should be assumed
// deleted.
func (s *Store) DeleteRows(ctx context.Context, refs []state.RowRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, ref := range refs {
		if err := batch.Delete(rowKey(ref.Table, ref.DomainID, ref.SubID), nil); err != nil {
			return err
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return err
	}
	telemetry.StoreDeletesTotal.Add(float64(len(refs)))
	return nil
}

// Rows returns every persisted row of one table, ordered by domain then
// sub_id.
func (s *Store) Rows(table string) ([]Row, error) {
	return s.scan([]byte(prefixPos + table + "/"))
}

// AllRows returns every persisted row across all tables.
func (s *Store) AllRows() ([]Row, error) {
	return s.scan([]byte(prefixPos))
}

func (s *Store) scan(prefix []byte) ([]Row, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var rows []Row
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		val, err := iter.ValueAndErr()
		if err != nil {
			return nil, err
		}
		var row Row
		if err := encoding.Unmarshal(val, &row); err != nil {
			log.Warn().Err(err).Str("key", string(iter.Key())).Msg("Skipping undecodable position row")
			continue
		}
		rows = append(rows, row)
	}
	return rows, iter.Error()
}

// LastPos returns the most recent durable row for a domain.
func (s *Store) LastPos(domainID uint32) (Row, bool, error) {
	if row, ok := s.posCache.Get(domainID); ok {
		return row, true, nil
	}
	rows, err := s.AllRows()
	if err != nil {
		return Row{}, false, err
	}
	var best Row
	found := false
	for _, row := range rows {
		if row.DomainID == domainID && (!found || row.SubID > best.SubID) {
			best = row
			found = true
		}
	}
	if found {
		s.posCache.Add(domainID, best)
	}
	return best, found, nil
}

// RestoreSlaveState rebuilds the in-memory slave state from the persisted
// rows, in sub_id order so the newest record per domain ends up last.
func (s *Store) RestoreSlaveState(ss *state.SlaveState) error {
	rows, err := s.AllRows()
	if err != nil {
		return err
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].SubID < rows[j].SubID })
	for _, row := range rows {
		if err := ss.Update(row.DomainID, row.ServerID, row.SubID, row.SeqNo, row.Table); err != nil {
			return err
		}
	}
	log.Info().Int("rows", len(rows)).Msg("Restored slave state from store")
	return nil
}

// SaveBinlogState snapshots the binlog state into the store using the
// count-prefixed binary triple format.
func (s *Store) SaveBinlogState(bs *state.BinlogState) error {
	var buf bytes.Buffer
	if err := bs.WriteTo(&buf); err != nil {
		return err
	}
	return s.db.Set([]byte(keyBinlog), buf.Bytes(), pebble.Sync)
}

// LoadBinlogState restores a snapshotted binlog state. Missing snapshot is
// not an error; the state stays empty.
func (s *Store) LoadBinlogState(bs *state.BinlogState) error {
	val, closer, err := s.db.Get([]byte(keyBinlog))
	if err == pebble.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	defer closer.Close()
	return bs.ReadFrom(bytes.NewReader(val))
}

// RowCount reports the number of persisted rows, for the status API.
func (s *Store) RowCount() (int, error) {
	rows, err := s.AllRows()
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}
