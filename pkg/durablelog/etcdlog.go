package durablelog

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// headKey holds a monotonically increasing counter guarding every
// write. recordKeyPrefix namespaces the opaque record blobs, keyed by
// the RecordID assigned at append time.
const (
	headKey         = "/zephyrcoord/log/head"
	recordKeyPrefix = "/zephyrcoord/log/records/"
)

// EtcdLog is a Log backed by an etcd v3 cluster, adapted from the
// lease-based node registration this coordinator's predecessor used
// for discovery (see the module's git history for the original
// single-key etcd client). Every Append/Invalidate is a single
// transaction guarded by a compare on headKey's value, so a
// coordinator that has lost leadership (another process bumped the
// head) gets ErrStaleHead instead of silently corrupting the log.
type EtcdLog struct {
	cli *clientv3.Client
	log *zap.SugaredLogger
}

// NewEtcdLog wraps an existing etcd client. The caller owns the
// client's lifecycle (Close it on shutdown).
func NewEtcdLog(cli *clientv3.Client, log *zap.SugaredLogger) *EtcdLog {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &EtcdLog{cli: cli, log: log}
}

type wireRecord struct {
	Type     EntryType `json:"type"`
	ServerID uint64    `json:"server_id"`
	Payload  []byte    `json:"payload"`
}

func recordKey(id RecordID) string {
	return fmt.Sprintf("%s%020d", recordKeyPrefix, uint64(id))
}

// Head returns the current value of headKey, or 0 if it has never
// been written (a brand new cluster).
func (l *EtcdLog) Head(ctx context.Context) (uint64, error) {
	resp, err := l.cli.Get(ctx, headKey)
	if err != nil {
		return 0, err
	}
	if len(resp.Kvs) == 0 {
		return 0, nil
	}
	return parseHead(resp.Kvs[0].Value)
}

func parseHead(b []byte) (uint64, error) {
	return strconv.ParseUint(string(b), 10, 64)
}

// Append writes rec under a freshly minted RecordID (the transaction's
// resulting etcd revision, which is strictly increasing cluster-wide)
// and, if invalidates is non-empty, deletes those keys in the same
// transaction.
func (l *EtcdLog) Append(ctx context.Context, expectedHead uint64, rec Record, invalidates ...RecordID) (RecordID, uint64, error) {
	payload, err := json.Marshal(wireRecord{Type: rec.Type, ServerID: rec.ServerID, Payload: rec.Payload})
	if err != nil {
		return 0, 0, err
	}

	newHead := expectedHead + 1
	ops := []clientv3.Op{
		clientv3.OpPut(headKey, strconv.FormatUint(newHead, 10)),
	}
	for _, id := range invalidates {
		ops = append(ops, clientv3.OpDelete(recordKey(id)))
	}

	cmp := headCompare(expectedHead)
	txn := l.cli.Txn(ctx).If(cmp).Then(ops...)
	resp, err := txn.Commit()
	if err != nil {
		return 0, 0, err
	}
	if !resp.Succeeded {
		l.log.Warnw("durable log append rejected: stale head", "expected_head", expectedHead)
		return 0, 0, ErrStaleHead
	}

	id := RecordID(resp.Header.Revision)
	// Record the payload under the id assigned by this same
	// transaction's revision. Done as a second, unconditional put: the
	// head CAS above is what fences concurrent writers, so this put
	// racing with nothing else is safe.
	if _, err := l.cli.Put(ctx, recordKey(id), string(payload)); err != nil {
		return 0, 0, err
	}
	return id, newHead, nil
}

// Invalidate deletes the given records' keys, fenced by the same head
// CAS as Append.
func (l *EtcdLog) Invalidate(ctx context.Context, expectedHead uint64, ids ...RecordID) (uint64, error) {
	if len(ids) == 0 {
		return expectedHead, nil
	}
	newHead := expectedHead + 1
	ops := []clientv3.Op{
		clientv3.OpPut(headKey, strconv.FormatUint(newHead, 10)),
	}
	for _, id := range ids {
		ops = append(ops, clientv3.OpDelete(recordKey(id)))
	}

	cmp := headCompare(expectedHead)
	resp, err := l.cli.Txn(ctx).If(cmp).Then(ops...).Commit()
	if err != nil {
		return 0, err
	}
	if !resp.Succeeded {
		return 0, ErrStaleHead
	}
	return newHead, nil
}

// Read fetches a record by id.
func (l *EtcdLog) Read(ctx context.Context, id RecordID) (Record, error) {
	resp, err := l.cli.Get(ctx, recordKey(id))
	if err != nil {
		return Record{}, err
	}
	if len(resp.Kvs) == 0 {
		return Record{}, fmt.Errorf("durablelog: no such record %d", id)
	}
	var w wireRecord
	if err := json.Unmarshal(resp.Kvs[0].Value, &w); err != nil {
		return Record{}, err
	}
	return Record{Type: w.Type, ServerID: w.ServerID, Payload: w.Payload}, nil
}

func headCompare(expectedHead uint64) clientv3.Cmp {
	if expectedHead == 0 {
		// A brand new log: headKey must not exist yet.
		return clientv3.Compare(clientv3.CreateRevision(headKey), "=", 0)
	}
	return clientv3.Compare(clientv3.Value(headKey), "=", strconv.FormatUint(expectedHead, 10))
}
