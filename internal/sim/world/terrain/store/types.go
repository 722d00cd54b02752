package store

import (
	"crypto/sha256"
	"encoding/binary"
)

const ChunkSize = 16

type ChunkKey struct {
	CX int
	CY int
	CZ int
}

type Chunk struct {
	Key    ChunkKey
	Blocks []uint16 // len = 16*16*16, x-major within y-layers

	solid int // non-air voxel count
	dirty bool
	hash  [32]byte
}

func newChunk(k ChunkKey, air uint16) *Chunk {
	ch := &Chunk{Key: k, Blocks: make([]uint16, ChunkSize*ChunkSize*ChunkSize)}
	if air != 0 {
		for i := range ch.Blocks {
			ch.Blocks[i] = air
		}
	}
	ch.dirty = true
	return ch
}

func (c *Chunk) index(x, y, z int) int {
	return x + z*ChunkSize + y*ChunkSize*ChunkSize
}

func (c *Chunk) Get(x, y, z int) uint16 {
	return c.Blocks[c.index(x, y, z)]
}

func (c *Chunk) set(x, y, z int, b, air uint16) bool {
	i := c.index(x, y, z)
	old := c.Blocks[i]
	if old == b {
		return false
	}
	c.Blocks[i] = b
	if old == air {
		c.solid++
	} else if b == air {
		c.solid--
	}
	c.dirty = true
	return true
}

func (c *Chunk) Digest() [32]byte {
	if c.dirty || c.hash == ([32]byte{}) {
		h := sha256.New()
		var tmp [2]byte
		for _, v := range c.Blocks {
			binary.LittleEndian.PutUint16(tmp[:], v)
			h.Write(tmp[:])
		}
		copy(c.hash[:], h.Sum(nil))
		c.dirty = false
	}
	return c.hash
}
