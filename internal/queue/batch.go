package queue

import "embedd/internal/backend"

// Batch is a group of same-kind entries executed by one backend call.
type Batch struct {
	Entries   []*Entry
	MaxLength int
}

func (b *Batch) add(e *Entry) {
	b.Entries = append(b.Entries, e)
	if e.Len() > b.MaxLength {
		b.MaxLength = e.Len()
	}
}

func (b *Batch) Size() int { return len(b.Entries) }

func (b *Batch) Kind() backend.Kind { return b.Entries[0].Kind }

// PaddedTokens is the token budget the batch occupies once every member is
// padded to MaxLength.
func (b *Batch) PaddedTokens() int { return b.MaxLength * len(b.Entries) }

// RealTokens is the sum of unpadded lengths.
func (b *Batch) RealTokens() int {
	n := 0
	for _, e := range b.Entries {
		n += e.Len()
	}
	return n
}

// build lays the batch out as padded rectangles for the backend.
func (b *Batch) build() *backend.Batch {
	out := &backend.Batch{
		Kind:          b.Kind(),
		MaxLength:     b.MaxLength,
		InputIDs:      make([][]uint32, len(b.Entries)),
		TypeIDs:       make([][]uint32, len(b.Entries)),
		AttentionMask: make([][]uint32, len(b.Entries)),
	}
	for i, e := range b.Entries {
		ids := make([]uint32, b.MaxLength)
		types := make([]uint32, b.MaxLength)
		mask := make([]uint32, b.MaxLength)
		copy(ids, e.IDs)
		copy(types, e.TypeIDs)
		for j := range e.IDs {
			mask[j] = 1
		}
		out.InputIDs[i] = ids
		out.TypeIDs[i] = types
		out.AttentionMask[i] = mask
	}
	return out
}

// deadlineHeap orders pending entries with a deadline, earliest first.
type deadlineHeap []*Entry

func (h deadlineHeap) Len() int           { return len(h) }
func (h deadlineHeap) Less(i, j int) bool { return h[i].Deadline.Before(h[j].Deadline) }
func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *deadlineHeap) Push(x any) {
	e := x.(*Entry)
	e.heapIndex = len(*h)
	*h = append(*h, e)
}

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIndex = -1
	*h = old[:n-1]
	return e
}
