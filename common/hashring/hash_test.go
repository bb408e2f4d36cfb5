package hashring

import "testing"

func TestShardIDDeterministic(t *testing.T) {
	a := ShardID("workflow-abc", DefaultShardCount)
	b := ShardID("workflow-abc", DefaultShardCount)
	if a != b {
		t.Fatalf("expected stable hash, got %d != %d", a, b)
	}
	if a < 0 || a >= DefaultShardCount {
		t.Fatalf("shard id %d out of range", a)
	}
}

func TestShardIDDistinctInputs(t *testing.T) {
	a := ShardID("workflow-1", DefaultShardCount)
	b := ShardID("workflow-2", DefaultShardCount)
	// Not a correctness requirement that they differ, but with FNV-32 over
	// distinct short strings they virtually always do; this guards against
	// an accidental constant-hash regression.
	if a == b {
		t.Skip("hash collision for these two inputs; not a failure")
	}
}

func TestHashRangeCoversFullSpace(t *testing.T) {
	const shardCount = 4
	var prevEnd uint64
	for i := int32(0); i < shardCount; i++ {
		start, end := HashRange(i, shardCount)
		if start != prevEnd {
			t.Fatalf("shard %d: range does not start where previous ended: %d != %d", i, start, prevEnd)
		}
		if end <= start {
			t.Fatalf("shard %d: empty or inverted range [%d, %d)", i, start, end)
		}
		prevEnd = end
	}
	if prevEnd != uint64(1)<<32 {
		t.Fatalf("ranges do not cover full 32-bit space, ended at %d", prevEnd)
	}
}

func TestShardIDsForRange(t *testing.T) {
	ids := ShardIDsForRange(8)
	if len(ids) != 8 {
		t.Fatalf("expected 8 ids, got %d", len(ids))
	}
	for i, id := range ids {
		if int(id) != i {
			t.Fatalf("expected ids[%d] == %d, got %d", i, i, id)
		}
	}
}

func TestPartitionsForQueueClampsToShardCount(t *testing.T) {
	if got := PartitionsForQueue(16, 100); got != 16 {
		t.Fatalf("expected clamp to 16, got %d", got)
	}
	if got := PartitionsForQueue(16, 0); got != 1 {
		t.Fatalf("expected default of 1, got %d", got)
	}
}
