package orchestrator

import (
	"github.com/buraksezer/consistent"
	"github.com/cespare/xxhash/v2"
)

type member string

func (m member) String() string { return string(m) }

type hasher struct{}

func (hasher) Sum64(data []byte) uint64 { return xxhash.Sum64(data) }

// Shard assigns locations to replicas with consistent hashing.
// A zero-member shard owns everything.
type Shard struct {
	ring *consistent.Consistent
}

// NewShard builds the ring over members
func NewShard(members []string) *Shard {
	if len(members) == 0 {
		return &Shard{}
	}
	ms := make([]consistent.Member, 0, len(members))
	for _, m := range members {
		ms = append(ms, member(m))
	}
	return &Shard{
		ring: consistent.New(ms, consistent.Config{
			PartitionCount:    271,
			ReplicationFactor: 20,
			Load:              1.25,
			Hasher:            hasher{},
		}),
	}
}

// Owner returns the replica owning key, or "" for a zero-member shard
func (s *Shard) Owner(key string) string {
	if s.ring == nil {
		return ""
	}
	return s.ring.LocateKey([]byte(key)).String()
}

// Owns reports whether replica owns key
func (s *Shard) Owns(replica, key string) bool {
	if s.ring == nil {
		return true
	}
	return s.Owner(key) == replica
}
