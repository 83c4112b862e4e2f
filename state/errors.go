package state

import (
	"errors"
	"fmt"

	"github.com/maxpert/gtidstate/gtid"
)

// ErrWaitTimeout is returned when a position wait reaches its deadline before
// the slave state catches up. This is a normal negative result, not a fault.
var ErrWaitTimeout = errors.New("timed out waiting for GTID position")

// ErrWaitCancelled is returned when a waiting requester is killed before its
// position is reached.
var ErrWaitCancelled = errors.New("GTID position wait cancelled")

// DuplicateSeqNoError is a strict-mode ordering violation on a binlog state
// update. The caller must abort logging of the offending transaction.
type DuplicateSeqNoError struct {
	Gtid    gtid.GTID
	Current uint64 // seq_no counter the domain already reached
}

func (e *DuplicateSeqNoError) Error() string {
	return fmt.Sprintf("GTID %s: seq_no is not larger than the last seq_no %d already logged for domain %d",
		e.Gtid, e.Current, e.Gtid.DomainID)
}

// DomainOwnershipConflictError indicates two replication streams claimed the
// same domain in a way that cannot be reconciled. This is the only error in
// the package that signals cluster-wide inconsistency.
type DomainOwnershipConflictError struct {
	DomainID uint32
	Owner    string
	Claimant string
}

func (e *DomainOwnershipConflictError) Error() string {
	return fmt.Sprintf("domain %d is owned by connection %q, cannot be claimed by %q",
		e.DomainID, e.Owner, e.Claimant)
}

// PersistenceError wraps a failed durable write of an applied-GTID row. The
// in-memory applied list is kept intact so the position survives a retry.
type PersistenceError struct {
	Table string
	Gtid  gtid.GTID
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist GTID %s to table %q: %v", e.Gtid, e.Table, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
