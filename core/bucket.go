package core

import "sync/atomic"

// LODBucket is a frame-scoped append collection for one detail tier:
// a fixed-capacity array plus an atomic insertion counter, the same
// shape as a GPU append buffer. Insertion order is unspecified.
type LODBucket struct {
	items []GrassInstance
	count atomic.Int64
}

// NewLODBucket allocates a bucket able to hold capacity instances.
func NewLODBucket(capacity int) *LODBucket {
	if capacity <= 0 {
		panic("core: bucket capacity must be positive")
	}
	return &LODBucket{items: make([]GrassInstance, capacity)}
}

func (b *LODBucket) Capacity() int { return len(b.items) }

// Reset zeroes the insertion counter. Contents are logically cleared;
// the backing array is reused.
func (b *LODBucket) Reset() {
	b.count.Store(0)
}

// Append inserts a copy of inst at the next free slot. Safe for
// concurrent use. Returns false when the bucket is full, which is a
// capacity misconfiguration rather than a runtime condition: buckets
// are sized to the full population.
func (b *LODBucket) Append(inst GrassInstance) bool {
	idx := b.count.Add(1) - 1
	if idx >= int64(len(b.items)) {
		b.count.Add(-1)
		return false
	}
	b.items[idx] = inst
	return true
}

// Count is the number of survivors inserted since the last Reset.
func (b *LODBucket) Count() int {
	n := b.count.Load()
	if n > int64(len(b.items)) {
		n = int64(len(b.items))
	}
	return int(n)
}

// Items returns the filled prefix. Valid until the next Reset.
func (b *LODBucket) Items() []GrassInstance {
	return b.items[:b.Count()]
}

// DrawIndexedIndirectArgs mirrors the GPU indirect draw argument
// record. IndexCount, FirstIndex, BaseVertex and FirstInstance are
// fixed at initialization; only InstanceCount changes per frame.
type DrawIndexedIndirectArgs struct {
	IndexCount    uint32
	InstanceCount uint32
	FirstIndex    uint32
	BaseVertex    int32
	FirstInstance uint32
}

// UpdateIndirectArgs copies each bucket's survivor count into the
// instance-count field of its argument record. No other field is
// touched.
func UpdateIndirectArgs(buckets []*LODBucket, args []DrawIndexedIndirectArgs) {
	if len(buckets) != len(args) {
		panic("core: bucket/args tier count mismatch")
	}
	for i, b := range buckets {
		args[i].InstanceCount = uint32(b.Count())
	}
}
