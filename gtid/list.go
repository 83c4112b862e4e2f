package gtid

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"strings"
)

// ParseList parses a comma-separated list of GTIDs, e.g. "0-1-100,1-2-5".
// An empty string yields an empty list. On error nothing is returned; a
// partially valid list is rejected as a whole.
func ParseList(s string) ([]GTID, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, nil
	}
	parts := strings.Split(trimmed, ",")
	list := make([]GTID, 0, len(parts))
	for _, part := range parts {
		g, err := Parse(part)
		if err != nil {
			return nil, err
		}
		list = append(list, g)
	}
	return list, nil
}

// FormatList renders GTIDs as a comma-separated list.
func FormatList(list []GTID) string {
	var b strings.Builder
	b.Grow(len(list) * (MaxStrLength + 1))
	for i, g := range list {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(g.String())
	}
	return b.String()
}

// Binary list format: uint32 count followed by (uint32 domain, uint32 server,
// uint64 seq) per entry, all little-endian. Used for cross-restart persistence
// and master/slave position exchange; entry order is insignificant.

const binaryEntrySize = 4 + 4 + 8

// EncodeList writes the binary form of list to w.
func EncodeList(w io.Writer, list []GTID) error {
	buf := make([]byte, 4+len(list)*binaryEntrySize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(list)))
	off := 4
	for _, g := range list {
		binary.LittleEndian.PutUint32(buf[off:], g.DomainID)
		binary.LittleEndian.PutUint32(buf[off+4:], g.ServerID)
		binary.LittleEndian.PutUint64(buf[off+8:], g.SeqNo)
		off += binaryEntrySize
	}
	_, err := w.Write(buf)
	return err
}

// DecodeList reads a binary GTID list from r.
func DecodeList(r io.Reader) ([]GTID, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("reading GTID list header: %w", err)
	}
	count := binary.LittleEndian.Uint32(header[:])
	list := make([]GTID, 0, count)
	entry := make([]byte, binaryEntrySize)
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(r, entry); err != nil {
			return nil, fmt.Errorf("reading GTID list entry %d of %d: %w", i, count, err)
		}
		list = append(list, GTID{
			DomainID: binary.LittleEndian.Uint32(entry[0:4]),
			ServerID: binary.LittleEndian.Uint32(entry[4:8]),
			SeqNo:    binary.LittleEndian.Uint64(entry[8:16]),
		})
	}
	return list, nil
}

// Set keeps at most one GTID per domain, the one with the highest SeqNo.
type Set map[uint32]GTID

// Update merges g into the set, keeping the higher SeqNo per domain.
func (s Set) Update(g GTID) {
	if cur, ok := s[g.DomainID]; !ok || g.SeqNo > cur.SeqNo {
		s[g.DomainID] = g
	}
}

// List returns the set contents, sorted by domain id when sorted is true.
func (s Set) List(sorted bool) []GTID {
	list := make([]GTID, 0, len(s))
	for _, g := range s {
		list = append(list, g)
	}
	if sorted {
		sort.Slice(list, func(i, j int) bool { return list[i].DomainID < list[j].DomainID })
	}
	return list
}

// String renders the set as a comma-separated list sorted by domain id.
func (s Set) String() string {
	return FormatList(s.List(true))
}
