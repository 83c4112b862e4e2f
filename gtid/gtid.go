package gtid

import (
	"fmt"
	"strconv"
	"strings"
)

// GTID identifies a single transaction in a replication stream.
// DomainID names an independent stream; transactions within one domain commit
// in SeqNo order, so (DomainID, SeqNo) gives a total order per domain.
// ServerID records which server originally generated the transaction.
type GTID struct {
	DomainID uint32
	ServerID uint32
	SeqNo    uint64
}

// MaxStrLength is the longest textual form of a single GTID:
// ten digits, dash, ten digits, dash, twenty digits.
const MaxStrLength = 10 + 1 + 10 + 1 + 20

// MalformedPositionError reports a GTID position string that could not be
// parsed. No state is mutated when this is returned.
type MalformedPositionError struct {
	Input string
}

func (e *MalformedPositionError) Error() string {
	return fmt.Sprintf("malformed GTID position %q, expected domain-server-seq", e.Input)
}

// String returns the textual domain-server-seq form, e.g. "0-1-100".
func (g GTID) String() string {
	var b strings.Builder
	b.Grow(MaxStrLength)
	b.WriteString(strconv.FormatUint(uint64(g.DomainID), 10))
	b.WriteByte('-')
	b.WriteString(strconv.FormatUint(uint64(g.ServerID), 10))
	b.WriteByte('-')
	b.WriteString(strconv.FormatUint(g.SeqNo, 10))
	return b.String()
}

// IsZero reports whether g is the zero GTID.
func (g GTID) IsZero() bool {
	return g.DomainID == 0 && g.ServerID == 0 && g.SeqNo == 0
}

// Parse parses a single "domain-server-seq" triple.
func Parse(s string) (GTID, error) {
	input := strings.TrimSpace(s)
	parts := strings.Split(input, "-")
	if len(parts) != 3 {
		return GTID{}, &MalformedPositionError{Input: s}
	}
	domain, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return GTID{}, &MalformedPositionError{Input: s}
	}
	server, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return GTID{}, &MalformedPositionError{Input: s}
	}
	seq, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return GTID{}, &MalformedPositionError{Input: s}
	}
	return GTID{DomainID: uint32(domain), ServerID: uint32(server), SeqNo: seq}, nil
}
