package backupselect

import (
	"context"
	"math/rand"
	"testing"
)

type fakeRoster struct {
	hosts []Host
	calls int
}

func (f *fakeRoster) BackupRoster(ctx context.Context) ([]Host, error) {
	f.calls++
	return f.hosts, nil
}

func TestSelectReturnsDistinctBackups(t *testing.T) {
	roster := &fakeRoster{hosts: []Host{
		{ServerID: 1, BandwidthMBps: 100},
		{ServerID: 2, BandwidthMBps: 100},
		{ServerID: 3, BandwidthMBps: 100},
		{ServerID: 4, BandwidthMBps: 100},
	}}
	s := NewSelector(roster, rand.New(rand.NewSource(42)))

	chosen, err := s.Select(context.Background(), 3)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(chosen) != 3 {
		t.Fatalf("expected 3 backups, got %d", len(chosen))
	}
	seen := map[uint64]bool{}
	for _, h := range chosen {
		if seen[h.ServerID] {
			t.Fatalf("backup %d chosen twice: %+v", h.ServerID, chosen)
		}
		seen[h.ServerID] = true
	}
}

func TestSelectRefreshesWhenRosterTooSmallForConstraints(t *testing.T) {
	roster := &fakeRoster{hosts: []Host{{ServerID: 1}, {ServerID: 2}}}
	s := NewSelector(roster, rand.New(rand.NewSource(1)))

	// The selector starts with an empty roster, so it must refresh
	// before drawing; asking for as many backups as the roster holds
	// still succeeds, since 2n draws always reach a non-conflicting host.
	if _, err := s.Select(context.Background(), 2); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if roster.calls == 0 {
		t.Fatalf("expected the empty roster to be refreshed from the source")
	}
}

func TestGetMsTreatsZeroBandwidthAsDefault(t *testing.T) {
	h := Host{NumPrimaries: 0}
	if got := h.expectedMillis(); got == 0 {
		t.Fatalf("expected a nonzero estimate for default bandwidth, got %d", got)
	}
}

func TestGetMsSentinelBandwidthIsInstant(t *testing.T) {
	h := Host{BandwidthMBps: 1, NumPrimaries: 50}
	if got := h.expectedMillis(); got != 1 {
		t.Fatalf("expected sentinel bandwidth 1 to short-circuit to 1ms, got %d", got)
	}
}

func TestRefreshRosterWithoutSourceFails(t *testing.T) {
	s := NewSelector(nil, nil)
	if err := s.RefreshRoster(context.Background()); err != ErrNoCoordinator {
		t.Fatalf("expected ErrNoCoordinator, got %v", err)
	}
}
