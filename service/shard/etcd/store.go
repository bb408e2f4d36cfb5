// Package etcd implements persistence.ShardRepository on top of an etcd
// lease, offered as the alternate shard-ownership backend for deployments
// that already run an etcd cluster for coordination rather than dedicating
// SQL rows to lease state.
package etcd

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/orchestrator/workflow-core/common/hashring"
	"github.com/orchestrator/workflow-core/common/persistence"
	"github.com/orchestrator/workflow-core/common/serviceerror"
)

const keyPrefix = "/orchestrator/shards/"

// Store implements persistence.ShardRepository against etcd, using one
// lease-backed key per shard: the key's value is the owning identity, and
// the etcd lease TTL stands in for LeaseExpiresAt.
type Store struct {
	client     *clientv3.Client
	shardCount int32

	mu          sync.Mutex
	localLeases map[int32]clientv3.LeaseID // shards this process holds, for renewal/release
}

var _ persistence.ShardRepository = (*Store)(nil)

// New constructs an etcd-backed shard store. client is expected to already
// be configured with the cluster's endpoints and dial options.
func New(client *clientv3.Client) *Store {
	return &Store{client: client, localLeases: map[int32]clientv3.LeaseID{}}
}

func shardKey(shardID int32) string {
	return keyPrefix + strconv.Itoa(int(shardID))
}

func (s *Store) InitializeShards(ctx context.Context, shardCount int32) error {
	s.shardCount = shardCount
	return nil // shard keys are created lazily on first acquire; no seed rows needed in etcd
}

func (s *Store) AcquireLease(ctx context.Context, shardID int32, owner string, duration time.Duration) (*persistence.Shard, error) {
	lease, err := s.client.Grant(ctx, int64(duration.Seconds()))
	if err != nil {
		return nil, &serviceerror.PersistenceError{Cause: err}
	}
	key := shardKey(shardID)
	txn := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, owner, clientv3.WithLease(lease.ID))).
		Else(clientv3.OpGet(key))
	resp, err := txn.Commit()
	if err != nil {
		return nil, &serviceerror.PersistenceError{Cause: err}
	}
	if !resp.Succeeded {
		_, _ = s.client.Revoke(ctx, lease.ID)
		return nil, &serviceerror.ShardUnavailable{ShardID: shardID, Message: "lease already held"}
	}

	s.mu.Lock()
	s.localLeases[shardID] = lease.ID
	s.mu.Unlock()

	now := time.Now().UTC()
	expires := now.Add(duration)
	start, end := hashring.HashRange(shardID, s.shardCount)
	return &persistence.Shard{
		ShardID: shardID, OwnerIdentity: &owner, LeaseExpiresAt: &expires, AcquiredAt: &now,
		HashRangeStart: start, HashRangeEnd: end,
	}, nil
}

func (s *Store) RenewLease(ctx context.Context, shardID int32, owner string, duration time.Duration) (*persistence.Shard, error) {
	s.mu.Lock()
	leaseID, ok := s.localLeases[shardID]
	s.mu.Unlock()
	if !ok {
		return nil, &serviceerror.ShardUnavailable{ShardID: shardID, Message: "no locally-held lease to renew"}
	}
	if _, err := s.client.KeepAliveOnce(ctx, leaseID); err != nil {
		s.mu.Lock()
		delete(s.localLeases, shardID)
		s.mu.Unlock()
		return nil, &serviceerror.ShardUnavailable{ShardID: shardID, Message: "etcd lease expired: " + err.Error()}
	}
	now := time.Now().UTC()
	expires := now.Add(duration)
	start, end := hashring.HashRange(shardID, s.shardCount)
	return &persistence.Shard{
		ShardID: shardID, OwnerIdentity: &owner, LeaseExpiresAt: &expires,
		HashRangeStart: start, HashRangeEnd: end,
	}, nil
}

func (s *Store) ReleaseLease(ctx context.Context, shardID int32, owner string) error {
	s.mu.Lock()
	leaseID, ok := s.localLeases[shardID]
	delete(s.localLeases, shardID)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	_, err := s.client.Revoke(ctx, leaseID)
	if err != nil {
		return &serviceerror.PersistenceError{Cause: err}
	}
	return nil
}

func (s *Store) GetLease(ctx context.Context, shardID int32) (*persistence.Shard, error) {
	resp, err := s.client.Get(ctx, shardKey(shardID))
	if err != nil {
		return nil, &serviceerror.PersistenceError{Cause: err}
	}
	start, end := hashring.HashRange(shardID, s.shardCount)
	shard := &persistence.Shard{ShardID: shardID, HashRangeStart: start, HashRangeEnd: end}
	if len(resp.Kvs) == 0 {
		return shard, nil
	}
	owner := string(resp.Kvs[0].Value)
	shard.OwnerIdentity = &owner
	if leaseResp, err := s.client.TimeToLive(ctx, clientv3.LeaseID(resp.Kvs[0].Lease)); err == nil && leaseResp.TTL > 0 {
		expires := time.Now().UTC().Add(time.Duration(leaseResp.TTL) * time.Second)
		shard.LeaseExpiresAt = &expires
	}
	return shard, nil
}

func (s *Store) ListOwned(ctx context.Context, owner string) ([]*persistence.Shard, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	var out []*persistence.Shard
	for _, shard := range all {
		if shard.OwnerIdentity != nil && *shard.OwnerIdentity == owner && shard.IsOwned(now) {
			out = append(out, shard)
		}
	}
	return out, nil
}

func (s *Store) ListAll(ctx context.Context) ([]*persistence.Shard, error) {
	resp, err := s.client.Get(ctx, keyPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, &serviceerror.PersistenceError{Cause: err}
	}
	byID := map[int32]*persistence.Shard{}
	for _, kv := range resp.Kvs {
		idStr := strings.TrimPrefix(string(kv.Key), keyPrefix)
		id, err := strconv.Atoi(idStr)
		if err != nil {
			continue
		}
		shardID := int32(id)
		start, end := hashring.HashRange(shardID, s.shardCount)
		owner := string(kv.Value)
		shard := &persistence.Shard{ShardID: shardID, OwnerIdentity: &owner, HashRangeStart: start, HashRangeEnd: end}
		if leaseResp, err := s.client.TimeToLive(ctx, clientv3.LeaseID(kv.Lease)); err == nil && leaseResp.TTL > 0 {
			expires := time.Now().UTC().Add(time.Duration(leaseResp.TTL) * time.Second)
			shard.LeaseExpiresAt = &expires
		}
		byID[shardID] = shard
	}
	for id := int32(0); id < s.shardCount; id++ {
		if _, ok := byID[id]; !ok {
			start, end := hashring.HashRange(id, s.shardCount)
			byID[id] = &persistence.Shard{ShardID: id, HashRangeStart: start, HashRangeEnd: end}
		}
	}
	out := make([]*persistence.Shard, 0, len(byID))
	for _, shard := range byID {
		out = append(out, shard)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShardID < out[j].ShardID })
	return out, nil
}

// ReclaimExpired is a no-op: etcd leases expire and evict their keys
// automatically, so there is nothing for a sweep to clean up.
func (s *Store) ReclaimExpired(ctx context.Context) (int, error) {
	return 0, nil
}
