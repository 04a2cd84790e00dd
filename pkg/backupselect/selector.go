// Package backupselect implements the coordinator's backup placement
// policy (C7): choosing which backups should hold the replicas of a
// new segment. The primary replica goes to the least-loaded of five
// random candidates ("power of five choices"); secondaries are picked
// by reshuffle-without-replacement random draw, retried against a
// refreshed roster if the current one can't satisfy the
// no-two-replicas-on-the-same-backup constraint.
package backupselect

import (
	"context"
	"errors"
	"math/rand"
)

// SegmentSizeMB is the nominal segment size used to estimate a
// backup's expected disk read time during recovery. It mirrors the
// fixed segment size the original placement heuristic assumed.
const SegmentSizeMB = 8

// ErrNoCoordinator is returned by RefreshRoster when the selector was
// constructed without a RosterSource to pull an updated backup list
// from.
var ErrNoCoordinator = errors.New("backupselect: no roster source configured")

// Host is one candidate backup as tracked by the selector: enough
// state to estimate recovery read time and to detect placement
// conflicts.
type Host struct {
	ServerID       uint64
	Locator        string
	BandwidthMBps  uint32
	NumPrimaries   uint32
}

// expectedMillis estimates how long this backup would take to read
// back, during recovery, every primary segment it already holds plus
// one more. A backup with unknown bandwidth is assumed to be a
// reasonably fast disk (100 MB/s); bandwidth 1 is a test/benchmark
// sentinel meaning "instant".
func (h Host) expectedMillis() uint32 {
	bandwidth := h.BandwidthMBps
	if bandwidth == 0 {
		bandwidth = 100
	}
	if bandwidth == 1 {
		return 1
	}
	return (h.NumPrimaries + 1) * 1000 * SegmentSizeMB / bandwidth
}

// RosterSource supplies the current backup list, used to (re)populate
// the selector's candidate set when it is empty or exhausted.
type RosterSource interface {
	BackupRoster(ctx context.Context) ([]Host, error)
}

// Selector chooses backup sets for new segments. It is not safe for
// concurrent use by multiple goroutines without external locking, in
// keeping with its role as a per-master, sequential placement helper
// rather than a shared coordinator data structure.
type Selector struct {
	source RosterSource
	rng    *rand.Rand

	hosts       []Host
	hostsOrder  []int
	numUsedHosts int
}

// NewSelector returns a Selector that refreshes its roster from
// source. rng may be nil, in which case a source with the fixed seed 1
// is used.
func NewSelector(source RosterSource, rng *rand.Rand) *Selector {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Selector{source: source, rng: rng}
}

// Select chooses numBackups hosts for a new segment's replicas, the
// first of which is the primary. It refreshes the roster from source
// as needed, including retrying when the current roster can't satisfy
// the conflict constraints.
func (s *Selector) Select(ctx context.Context, numBackups int) ([]Host, error) {
	if numBackups == 0 {
		return nil, nil
	}
	for len(s.hosts) == 0 {
		if err := s.RefreshRoster(ctx); err != nil {
			return nil, err
		}
	}

	chosen := make([]Host, numBackups)

	primary := s.getRandomHost()
	for i := 0; i < 4; i++ {
		candidate := s.getRandomHost()
		if primary.expectedMillis() > candidate.expectedMillis() {
			primary = candidate
		}
	}
	s.recordPrimary(primary.ServerID)
	chosen[0] = primary

	for i := 1; i < numBackups; i++ {
		host, err := s.selectAdditional(ctx, chosen[:i])
		if err != nil {
			return nil, err
		}
		chosen[i] = host
	}
	return chosen, nil
}

// recordPrimary bumps the chosen primary's NumPrimaries so the next
// Select call sees it as slightly more loaded, matching the original
// heuristic's self-correcting load estimate.
func (s *Selector) recordPrimary(id uint64) {
	for i := range s.hosts {
		if s.hosts[i].ServerID == id {
			s.hosts[i].NumPrimaries++
			return
		}
	}
}

// selectAdditional draws a random host that conflicts with none of
// already, retrying up to twice the roster size before concluding the
// current roster can't satisfy the constraint and refreshing it.
func (s *Selector) selectAdditional(ctx context.Context, already []Host) (Host, error) {
	for {
		attempts := len(s.hosts) * 2
		for i := 0; i < attempts; i++ {
			candidate := s.getRandomHost()
			if !conflictWithAny(candidate, already) {
				return candidate, nil
			}
		}
		if err := s.RefreshRoster(ctx); err != nil {
			return Host{}, err
		}
	}
}

// getRandomHost draws one host without replacement from the current
// roster, reshuffling once every host has been returned once. Each
// round of len(hosts) calls after a reshuffle returns every host
// exactly once, so any 2*len(hosts) consecutive calls return every
// host at least once.
func (s *Selector) getRandomHost() Host {
	if s.numUsedHosts >= len(s.hostsOrder) {
		s.numUsedHosts = 0
	}
	i := s.numUsedHosts
	s.numUsedHosts++
	j := i + s.rng.Intn(len(s.hostsOrder)-i)
	s.hostsOrder[i], s.hostsOrder[j] = s.hostsOrder[j], s.hostsOrder[i]
	return s.hosts[s.hostsOrder[i]]
}

// conflict reports whether it is unwise to place replicas on both a
// and b. Only identity is checked today; rack- or power-domain-aware
// placement would extend this.
func conflict(a, b Host) bool {
	return a.ServerID == b.ServerID
}

func conflictWithAny(a Host, others []Host) bool {
	for _, b := range others {
		if conflict(a, b) {
			return true
		}
	}
	return false
}

// RefreshRoster repopulates the candidate set from the configured
// RosterSource.
func (s *Selector) RefreshRoster(ctx context.Context) error {
	if s.source == nil {
		return ErrNoCoordinator
	}
	hosts, err := s.source.BackupRoster(ctx)
	if err != nil {
		return err
	}
	s.hosts = hosts
	s.hostsOrder = make([]int, len(hosts))
	for i := range s.hostsOrder {
		s.hostsOrder[i] = i
	}
	s.numUsedHosts = 0
	return nil
}
