package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"defencefield.ai/internal/sim/world/terrain/store"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	RunID   string `json:"run_id"`
	Epoch   uint64 `json:"epoch"`
	At      string `json:"at"`
}

// TerrainV1 is the persisted voxel state of one field. Only allocated
// chunks are stored; everything else reads as air.
type TerrainV1 struct {
	Header Header `json:"header"`

	Seed    int64    `json:"seed"`
	Resets  int      `json:"resets"`
	Center  [3]int   `json:"center"`
	Radius  int      `json:"radius"`
	Palette []string `json:"palette"`
	Digest  string   `json:"digest"`

	Chunks []ChunkV1 `json:"chunks"`
}

type ChunkV1 struct {
	CX   int    `json:"cx"`
	CY   int    `json:"cy"`
	CZ   int    `json:"cz"`
	Runs []byte `json:"runs"` // (block, run) varint pairs
}

// Voxels is the store surface a snapshot reads and restores.
type Voxels interface {
	LoadedChunkKeys() []store.ChunkKey
	ChunkBlocks(k store.ChunkKey) ([]uint16, bool)
	LoadChunk(k store.ChunkKey, blocks []uint16) error
	Digest() string
}

// Capture copies every allocated chunk of v into snap.
func Capture(v Voxels, snap *TerrainV1) {
	snap.Header.Version = Version
	snap.Chunks = snap.Chunks[:0]
	for _, k := range v.LoadedChunkKeys() {
		blocks, ok := v.ChunkBlocks(k)
		if !ok {
			continue
		}
		snap.Chunks = append(snap.Chunks, ChunkV1{CX: k.CX, CY: k.CY, CZ: k.CZ, Runs: encodeRuns(blocks)})
	}
	snap.Digest = v.Digest()
}

// Restore loads snap's chunks into v and checks the resulting digest.
func Restore(v Voxels, snap TerrainV1) error {
	if snap.Header.Version != Version {
		return fmt.Errorf("snapshot version %d not supported", snap.Header.Version)
	}
	n := store.ChunkSize * store.ChunkSize * store.ChunkSize
	for _, c := range snap.Chunks {
		blocks, err := decodeRuns(c.Runs, n)
		if err != nil {
			return fmt.Errorf("chunk %d,%d,%d: %w", c.CX, c.CY, c.CZ, err)
		}
		if err := v.LoadChunk(store.ChunkKey{CX: c.CX, CY: c.CY, CZ: c.CZ}, blocks); err != nil {
			return err
		}
	}
	if snap.Digest != "" && v.Digest() != snap.Digest {
		return fmt.Errorf("terrain digest mismatch after restore")
	}
	return nil
}

func WriteSnapshot(path string, snap TerrainV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = f.Close()
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	_, err = bw.Write(append(hb, '\n'))
	if err == nil {
		if err = gob.NewEncoder(bw).Encode(&snap); err != nil {
			err = fmt.Errorf("gob encode: %w", err)
		}
	}
	if err == nil {
		err = bw.Flush()
	}
	if cerr := enc.Close(); err == nil {
		err = cerr
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func ReadSnapshot(path string) (TerrainV1, error) {
	var snap TerrainV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The header line is for tooling; gob carries it too.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("header: %w", err)
	}

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// ReadHeader decodes only the JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("header: %w", err)
	}
	err = json.Unmarshal(line, &h)
	return h, err
}

// PathFor names the snapshot of a wave epoch under dataDir.
func PathFor(dataDir string, epoch uint64) string {
	return filepath.Join(dataDir, "snapshots", fmt.Sprintf("%d.snap.zst", epoch))
}

// Latest returns the snapshot with the highest epoch under dataDir, or "".
func Latest(dataDir string) string {
	dir := filepath.Join(dataDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestEpoch uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		epoch, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || epoch > bestEpoch {
			bestEpoch = epoch
			best = filepath.Join(dir, name)
		}
	}
	return best
}
