package store

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"defencefield.ai/internal/sim/arena/geom"
	"defencefield.ai/internal/sim/world/logic/mathx"
)

// Store is an in-memory voxel world made of lazily allocated 16³ chunks.
// Unallocated space reads as Air. Reads and writes may come from different
// goroutines (terrain regeneration vs. pathfinder workers).
type Store struct {
	air uint16

	mu     sync.RWMutex
	chunks map[ChunkKey]*Chunk
	writes uint64
}

func New(air uint16) *Store {
	return &Store{
		air:    air,
		chunks: map[ChunkKey]*Chunk{},
	}
}

func (s *Store) Air() uint16 { return s.air }

func split(p geom.Vec3i) (ChunkKey, int, int, int) {
	k := ChunkKey{
		CX: mathx.FloorDiv(p.X, ChunkSize),
		CY: mathx.FloorDiv(p.Y, ChunkSize),
		CZ: mathx.FloorDiv(p.Z, ChunkSize),
	}
	return k, mathx.Mod(p.X, ChunkSize), mathx.Mod(p.Y, ChunkSize), mathx.Mod(p.Z, ChunkSize)
}

func (s *Store) Get(p geom.Vec3i) uint16 {
	k, x, y, z := split(p)
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.chunks[k]
	if !ok {
		return s.air
	}
	return ch.Get(x, y, z)
}

func (s *Store) Set(p geom.Vec3i, b uint16) {
	k, x, y, z := split(p)
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.chunks[k]
	if !ok {
		if b == s.air {
			return
		}
		ch = newChunk(k, s.air)
		s.chunks[k] = ch
	}
	if ch.set(x, y, z, b, s.air) {
		s.writes++
	}
}

// IsSolid reports whether p holds anything other than air.
func (s *Store) IsSolid(p geom.Vec3i) bool {
	return s.Get(p) != s.air
}

// Writes counts voxel changes since creation.
func (s *Store) Writes() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

func (s *Store) LoadedChunkKeys() []ChunkKey {
	s.mu.RLock()
	keys := make([]ChunkKey, 0, len(s.chunks))
	for k := range s.chunks {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sortKeys(keys)
	return keys
}

func sortKeys(keys []ChunkKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CX != keys[j].CX {
			return keys[i].CX < keys[j].CX
		}
		if keys[i].CY != keys[j].CY {
			return keys[i].CY < keys[j].CY
		}
		return keys[i].CZ < keys[j].CZ
	})
}

// Count returns how many voxels hold block b. Counting air only covers
// allocated chunks.
func (s *Store) Count(b uint16) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, ch := range s.chunks {
		if b != s.air && ch.solid == 0 {
			continue
		}
		for _, v := range ch.Blocks {
			if v == b {
				n++
			}
		}
	}
	return n
}

// Digest hashes the voxel contents. Chunks holding only air are skipped so
// two stores with the same voxels digest equal regardless of allocation
// history.
func (s *Store) Digest() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]ChunkKey, 0, len(s.chunks))
	for k, ch := range s.chunks {
		if ch.solid == 0 {
			continue
		}
		keys = append(keys, k)
	}
	sortKeys(keys)

	h := sha256.New()
	var tmp [8]byte
	for _, k := range keys {
		for _, v := range []int{k.CX, k.CY, k.CZ} {
			binary.LittleEndian.PutUint64(tmp[:], uint64(int64(v)))
			h.Write(tmp[:])
		}
		d := s.chunks[k].Digest()
		h.Write(d[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ChunkBlocks returns a copy of the voxels of an allocated chunk.
func (s *Store) ChunkBlocks(k ChunkKey) ([]uint16, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.chunks[k]
	if !ok {
		return nil, false
	}
	out := make([]uint16, len(ch.Blocks))
	copy(out, ch.Blocks)
	return out, true
}

// LoadChunk replaces a whole chunk, e.g. when restoring a snapshot.
func (s *Store) LoadChunk(k ChunkKey, blocks []uint16) error {
	if len(blocks) != ChunkSize*ChunkSize*ChunkSize {
		return fmt.Errorf("chunk %d,%d,%d: got %d voxels, want %d", k.CX, k.CY, k.CZ, len(blocks), ChunkSize*ChunkSize*ChunkSize)
	}
	ch := &Chunk{Key: k, Blocks: make([]uint16, len(blocks)), dirty: true}
	copy(ch.Blocks, blocks)
	for _, v := range ch.Blocks {
		if v != s.air {
			ch.solid++
		}
	}
	s.mu.Lock()
	s.chunks[k] = ch
	s.writes++
	s.mu.Unlock()
	return nil
}
