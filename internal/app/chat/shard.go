package chat

import "hash/fnv"

// DefaultShardCount is used when a non-positive shard count is configured.
const DefaultShardCount = 32

// shardIndex maps key onto one of n partitions.
func shardIndex(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

func normalizeShards(n int) int {
	if n < 1 {
		return DefaultShardCount
	}
	return n
}
