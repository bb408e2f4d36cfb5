// Package hashring implements the stable shard/partition hashing contract:
// FNV-32 over the UTF-8 bytes of the key, modulo the space size. Any
// reimplementation of this orchestrator must keep this exact hash family,
// since shard ownership and partition routing across a cluster depend on
// every process agreeing on it.
package hashring

import "hash/fnv"

// DefaultShardCount is the default number of shards a cluster is deployed
// with. It is fixed per cluster at deploy time (ORCH_SHARD_COUNT) and never
// changed for a live cluster.
const DefaultShardCount = 512

// ShardID computes shardId(workflowId) = fnv32(workflowId) mod S.
func ShardID(workflowID string, shardCount int32) int32 {
	return int32(fnv32(workflowID) % uint32(shardCount))
}

// PartitionHash computes partitionHash(queueName) = fnv32(queueName) mod P,
// where P is the partition count for a task queue (P never exceeds the
// cluster's shard count).
func PartitionHash(queueName string, partitionCount int32) int32 {
	return int32(fnv32(queueName) % uint32(partitionCount))
}

func fnv32(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

// HashRange returns the [start, end) range of the 32-bit key space owned by
// shardID out of shardCount total shards, matching Shard.HashRangeStart/End.
func HashRange(shardID, shardCount int32) (start, end uint64) {
	const space = uint64(1) << 32
	width := space / uint64(shardCount)
	start = width * uint64(shardID)
	if shardID == shardCount-1 {
		end = space
	} else {
		end = start + width
	}
	return start, end
}

// ShardIDsForRange returns every shardID in [0, shardCount), used by the
// shard manager's initializeShards to seed the full hash ring at once.
func ShardIDsForRange(shardCount int32) []int32 {
	ids := make([]int32, shardCount)
	for i := range ids {
		ids[i] = int32(i)
	}
	return ids
}

// PartitionsForQueue returns the partition count to use for a queue given
// the cluster's shard count, so matching never allocates more partitions
// than there are shards to route them to.
func PartitionsForQueue(shardCount int32, desired int32) int32 {
	if desired <= 0 {
		desired = 1
	}
	if desired > shardCount {
		return shardCount
	}
	return desired
}
