// Package discovery lets storage servers find the current coordinator
// without being configured with its address ahead of time: the
// coordinator leases a single well-known key in etcd and refreshes it
// for as long as it's alive, and servers watch that key instead of
// gossiping with each other about who's in charge.
package discovery

import (
	"context"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// coordinatorKey is the single well-known key a coordinator registers
// its reachable address under.
const coordinatorKey = "/zephyrcoord/coordinator"

func NewClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
}

// RegisterCoordinator publishes addr as the current coordinator's
// location under a lease that must be kept alive for the registration
// to stay valid; ttlSeconds should comfortably exceed the keepalive
// interval so a brief network blip doesn't expire the lease. The
// returned cancel function stops the keepalive goroutine; callers
// should also Revoke the lease on clean shutdown so a restart doesn't
// have to wait out the full ttl before servers see the new address.
func RegisterCoordinator(cli *clientv3.Client, addr string, ttlSeconds int64) (clientv3.LeaseID, context.CancelFunc, error) {
	lease, err := cli.Grant(context.Background(), ttlSeconds)
	if err != nil {
		return 0, nil, err
	}
	if _, err := cli.Put(context.Background(), coordinatorKey, addr, clientv3.WithLease(lease.ID)); err != nil {
		return 0, nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	keepAlive, err := cli.KeepAlive(ctx, lease.ID)
	if err != nil {
		cancel()
		return 0, nil, err
	}
	go func() {
		for range keepAlive {
			// Drain acks; nothing to act on unless the channel closes,
			// which happens on ctx cancellation or lease expiry.
		}
	}()

	return lease.ID, cancel, nil
}

// CurrentCoordinator returns the currently registered coordinator
// address, or "" if none is registered.
func CurrentCoordinator(cli *clientv3.Client) (string, error) {
	resp, err := cli.Get(context.Background(), coordinatorKey)
	if err != nil {
		return "", err
	}
	if len(resp.Kvs) == 0 {
		return "", nil
	}
	return string(resp.Kvs[0].Value), nil
}

// WatchCoordinator calls onChange with the new address every time the
// registered coordinator changes (a failover, or the coordinator
// restarting with a new listen address). It blocks until ctx is done.
func WatchCoordinator(ctx context.Context, cli *clientv3.Client, onChange func(addr string)) {
	watch := cli.Watch(ctx, coordinatorKey)
	for resp := range watch {
		for _, ev := range resp.Events {
			if ev.Type == clientv3.EventTypePut {
				onChange(string(ev.Kv.Value))
			} else {
				onChange("")
			}
		}
	}
}
