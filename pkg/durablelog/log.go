// Package durablelog is the coordinator's C1 adapter onto an external
// replicated configuration log. The core only depends on the contract
// that a completed Append is durable and will be replayed verbatim
// after a coordinator failover — it does not care whether the backing
// store is etcd, LogCabin, or anything else that can do linearizable
// compare-and-swap.
package durablelog

import (
	"context"
	"errors"
)

// RecordID identifies a durably-appended record. 0 means "no record".
type RecordID uint64

// EntryType discriminates the kind of state a Record carries. These
// four map directly onto the coordinator's two-phase mutation
// protocol: an "-ing" record for the intent, and a matching commit
// record that invalidates it.
type EntryType string

const (
	ServerEnlisting EntryType = "ServerEnlisting"
	ServerEnlisted  EntryType = "ServerEnlisted"
	ServerDownEntry EntryType = "ServerDown"
	ServerUpdate    EntryType = "ServerUpdate"
)

// Record is an opaque durable-log entry. Payload holds the
// type-specific fields (see package mutator for their encoding); the
// log itself never interprets Payload.
type Record struct {
	Type     EntryType
	ServerID uint64
	Payload  []byte
}

// ErrStaleHead is returned by Append/Invalidate when the caller's
// expectedHead no longer matches the log's head, meaning some other
// process has taken over as coordinator and written to the log since.
// It is fatal to the caller: a coordinator that sees it must step
// down rather than continue issuing conflicting writes.
var ErrStaleHead = errors.New("durablelog: stale head, no longer leader")

// Log is the durable log adapter's interface. The two writing
// operations, Append and Invalidate, are fenced by expectedHead, a
// token the caller refreshes from the return value of every successful
// write; a mismatch proves another writer has taken over.
type Log interface {
	// Append durably writes rec and returns its RecordID plus the new
	// head token. If invalidates is non-empty, those records are
	// atomically invalidated in the same operation (used by
	// ServerEnlisted, which both commits and supersedes the prior
	// ServerEnlisting record).
	Append(ctx context.Context, expectedHead uint64, rec Record, invalidates ...RecordID) (RecordID, uint64, error)

	// Read fetches a previously appended record by id.
	Read(ctx context.Context, id RecordID) (Record, error)

	// Invalidate marks the given records as superseded. It returns the
	// new head token.
	Invalidate(ctx context.Context, expectedHead uint64, ids ...RecordID) (uint64, error)

	// Head returns the log's current head token, for a fresh
	// coordinator process to seed its expectedHead before issuing any
	// writes.
	Head(ctx context.Context) (uint64, error)
}
