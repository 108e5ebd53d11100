package spill

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/zeebo/blake3"

	"github.com/NVIDIA/emsqrt/internal/budget"
	"github.com/NVIDIA/emsqrt/internal/cmn"
	"github.com/NVIDIA/emsqrt/internal/failpoint"
	"github.com/NVIDIA/emsqrt/internal/id"
	"github.com/NVIDIA/emsqrt/internal/schema"
)

// Manager orchestrates writing/reading RowBatch segments to/from storage
// with checksums (spec.md §4.2). The spill manager is owned by the
// engine; concurrent access is serialized by mtx, per spec.md §5.
type Manager struct {
	storage Storage
	codec   Codec
	rootDir string
	nextRun uint32

	mtx      sync.Mutex
	segments map[SegmentName]SegmentMeta
}

func NewManager(storage Storage, codec Codec, rootDir string) *Manager {
	return &Manager{storage: storage, codec: codec, rootDir: rootDir, segments: make(map[SegmentName]SegmentMeta)}
}

// NextRunIndex returns a manager-monotonic run index.
func (m *Manager) NextRunIndex() uint32 { return atomic.AddUint32(&m.nextRun, 1) - 1 }

// WriteBatch serializes, compresses, checksums, and persists batch,
// returning its metadata (spec.md §4.2 steps 1-6).
func (m *Manager) WriteBatch(ctx context.Context, batch schema.RowBatch, spillID id.SpillId, runIndex uint32) (SegmentMeta, error) {
	failpoint.Hit("panic_spill_write")
	uncompressed := EncodeBatch(batch)
	compressed, err := Compress(m.codec, uncompressed)
	if err != nil {
		return SegmentMeta{}, err
	}

	header := NewSegmentHeader(m.codec, uint64(len(uncompressed)), uint64(len(compressed)))
	headerBytes := header.Bytes()

	hasher := blake3.New()
	hasher.Write(headerBytes)
	hasher.Write(compressed)
	var checksum [32]byte
	copy(checksum[:], hasher.Sum(nil))

	name := NewSegmentName(spillID, runIndex)
	path := m.rootDir + "/" + string(name) + ".seg"

	full := make([]byte, 0, len(headerBytes)+len(compressed))
	full = append(full, headerBytes...)
	full = append(full, compressed...)

	if err := m.storage.Write(ctx, path, full); err != nil {
		return SegmentMeta{}, asSpillErr(err)
	}
	etag, _, _ := m.storage.Etag(ctx, path)

	meta := SegmentMeta{
		Name: name, Path: path, Codec: m.codec,
		UncompressedLen: uint64(len(uncompressed)), CompressedLen: uint64(len(compressed)),
		Checksum: checksum, Etag: etag,
	}

	m.mtx.Lock()
	m.segments[name] = meta
	m.mtx.Unlock()

	return meta, nil
}

// ReadBatch reads, verifies, decompresses, and deserializes a segment
// (spec.md §4.2 steps 1-6). A guard sized to UncompressedLen is acquired
// before decompression so the read path stays under budget.
func (m *Manager) ReadBatch(ctx context.Context, meta SegmentMeta, bud *budget.Budget) (schema.RowBatch, error) {
	failpoint.Hit("panic_spill_read")
	totalLen := HeaderLen + int(meta.CompressedLen)
	full, err := m.storage.ReadRange(ctx, meta.Path, 0, totalLen)
	if err != nil {
		return schema.RowBatch{}, asSpillErr(err)
	}
	if len(full) < HeaderLen {
		return schema.RowBatch{}, cmn.Errf(cmn.KindStorageFatal, nil, "segment %s too short", meta.Name)
	}

	hasher := blake3.New()
	hasher.Write(full)
	var computed [32]byte
	copy(computed[:], hasher.Sum(nil))
	if computed != meta.Checksum {
		return schema.RowBatch{}, cmn.Errf(cmn.KindChecksumMismatch, nil, "segment %s checksum mismatch", meta.Name)
	}

	header, err := ParseSegmentHeader(full[:HeaderLen])
	if err != nil {
		return schema.RowBatch{}, err
	}
	if err := header.ValidateSizes(); err != nil {
		return schema.RowBatch{}, err
	}

	compressed := full[HeaderLen:]

	guard, err := bud.MustAcquire(int64(header.UncompressedLen), "spill_decompress")
	if err != nil {
		return schema.RowBatch{}, err
	}
	defer guard.Release()

	uncompressed, err := Decompress(header.Codec, compressed)
	if err != nil {
		return schema.RowBatch{}, err
	}

	return DecodeBatch(uncompressed)
}

func (m *Manager) GetSegment(name SegmentName) (SegmentMeta, bool) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	meta, ok := m.segments[name]
	return meta, ok
}

// DeleteSegment removes tracking and the storage copy. Idempotent.
func (m *Manager) DeleteSegment(ctx context.Context, name SegmentName) error {
	m.mtx.Lock()
	meta, ok := m.segments[name]
	if ok {
		delete(m.segments, name)
	}
	m.mtx.Unlock()
	if !ok {
		return nil
	}
	if err := m.storage.Delete(ctx, meta.Path); err != nil {
		return asSpillErr(err)
	}
	return nil
}

func (m *Manager) ListSegments() []SegmentName {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	out := make([]SegmentName, 0, len(m.segments))
	for n := range m.segments {
		out = append(out, n)
	}
	return out
}

func asSpillErr(err error) error {
	se, ok := err.(*StorageError)
	if !ok {
		return cmn.Errf(cmn.KindStorageFatal, err, "storage error")
	}
	switch se.Kind {
	case ErrTransient:
		return cmn.Errf(cmn.KindStorageTransient, se, "transient storage error")
	default:
		return cmn.Errf(cmn.KindStorageFatal, se, "storage error")
	}
}
