package net

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// ChunkThreshold is the payload size above which Chunk splits data into
// multiple gossip messages; gossipsub implementations commonly cap
// message size well below this, so anything larger must be split.
const ChunkThreshold = 10 << 20 // 10 MiB

// ChunkSize is the size of each split chunk's payload.
const ChunkSize = 1 << 20 // 1 MiB

// Chunk is one piece of a ChunkedDocument, content-addressed by the
// original document's hash so out-of-order or duplicate chunk delivery
// can be deduplicated and reassembled deterministically.
type Chunk struct {
	DocID      string
	Index      int
	TotalChunks int
	Data       []byte
}

// DocID returns the content-hash identifying the whole document data
// belongs to, used as Chunk.DocID so every chunk derived from the same
// payload carries the same id.
func DocID(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// Split breaks data into chunks if it exceeds ChunkThreshold, otherwise
// returns it unchanged wrapped in a single chunk.
func Split(data []byte) []Chunk {
	id := DocID(data)
	if len(data) <= ChunkThreshold {
		return []Chunk{{DocID: id, Index: 0, TotalChunks: 1, Data: data}}
	}

	var chunks []Chunk
	total := (len(data) + ChunkSize - 1) / ChunkSize
	for i := 0; i < total; i++ {
		start := i * ChunkSize
		end := start + ChunkSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, Chunk{DocID: id, Index: i, TotalChunks: total, Data: data[start:end]})
	}
	return chunks
}

// Reassembler accumulates chunks for one document until all have arrived.
type Reassembler struct {
	docs map[string]*partial
}

type partial struct {
	total int
	parts map[int][]byte
}

// NewReassembler builds an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{docs: make(map[string]*partial)}
}

// Add records c, returning the reassembled document once every chunk for
// its DocID has arrived. Returns ok=false (and keeps waiting) otherwise.
// Reassembly is strict: a TotalChunks mismatch across chunks claiming the
// same DocID is treated as a corrupt/adversarial stream and discarded.
func (r *Reassembler) Add(c Chunk) (data []byte, ok bool) {
	p, exists := r.docs[c.DocID]
	if !exists {
		p = &partial{total: c.TotalChunks, parts: make(map[int][]byte)}
		r.docs[c.DocID] = p
	}
	if p.total != c.TotalChunks {
		delete(r.docs, c.DocID)
		return nil, false
	}
	p.parts[c.Index] = c.Data

	if len(p.parts) < p.total {
		return nil, false
	}

	out := make([]byte, 0)
	for i := 0; i < p.total; i++ {
		part, have := p.parts[i]
		if !have {
			return nil, false
		}
		out = append(out, part...)
	}
	delete(r.docs, c.DocID)
	return out, true
}
