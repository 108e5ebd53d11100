// Package manifest computes stable plan/TE hashes and persists/signs
// RunManifest records for replay and audit (spec.md §4.7, §9).
package manifest

import (
	"encoding/binary"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/NVIDIA/emsqrt/internal/id"
	"github.com/NVIDIA/emsqrt/internal/physical"
	"github.com/NVIDIA/emsqrt/internal/schema"
	"github.com/NVIDIA/emsqrt/internal/te"
)

// Hash is a BLAKE3-256 digest, used for plan_hash and te_hash.
type Hash [32]byte

// canonicalWriter builds the canonical, deterministic serialization spec.md
// §9 requires for hashing: fields enumerated by name, integers little-endian,
// no JSON. All Write* methods append to an internal BLAKE3 hasher.
type canonicalWriter struct {
	h *blake3.Hasher
}

func newCanonicalWriter() *canonicalWriter {
	return &canonicalWriter{h: blake3.New()}
}

func (w *canonicalWriter) str(s string) {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(s)))
	w.h.Write(lenBuf[:])
	w.h.Write([]byte(s))
}

func (w *canonicalWriter) u64(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	w.h.Write(buf[:])
}

func (w *canonicalWriter) sum() Hash {
	var out Hash
	copy(out[:], w.h.Sum(nil))
	return out
}

// HashPhysicalPlan computes H(serialize(physical_plan)).
func HashPhysicalPlan(prog *physical.Program) Hash {
	w := newCanonicalWriter()
	writePhysicalNode(w, prog.Root)
	return w.sum()
}

func writePhysicalNode(w *canonicalWriter, n *physical.Node) {
	if n == nil {
		w.str("nil")
		return
	}
	w.u64(uint64(n.Kind))
	w.u64(uint64(n.OpId))
	for _, f := range n.Schema.Fields {
		w.str(f.Name)
		w.u64(uint64(f.Type))
	}
	writePhysicalNode(w, n.Child)
	writePhysicalNode(w, n.Left)
	writePhysicalNode(w, n.Right)
}

// HashBindings computes H(serialize(bindings)) over the deterministically
// ordered (by OpId ascending) binding map.
func HashBindings(prog *physical.Program) Hash {
	w := newCanonicalWriter()
	ids := append([]id.OpId(nil), prog.Order...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, opID := range ids {
		b := prog.Bindings[opID]
		w.u64(uint64(opID))
		w.str(b.Key)
		writeConfig(w, b.Config)
	}
	return w.sum()
}

// writeConfig serializes a config map deterministically by sorting keys -
// the canonical-serialization requirement applies here too, since
// bindings feed directly into plan_hash.
func writeConfig(w *canonicalWriter, cfg map[string]any) {
	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		w.str(k)
		w.str(renderAny(cfg[k]))
	}
}

// renderAny renders a config value as a deterministic string. Config
// values are simple (strings, slices of strings, small structs) so a
// fmt-based rendering is canonical in practice: no maps, no pointers,
// no floating timestamps ever flow through bindings config.
func renderAny(v any) string {
	return sprintDeterministic(v)
}

// HashTeOrder computes H(serialize(te_order)).
func HashTeOrder(order []te.TeBlock) Hash {
	w := newCanonicalWriter()
	w.u64(uint64(len(order)))
	for _, b := range order {
		w.u64(uint64(b.Id))
		w.u64(uint64(b.Op))
		w.u64(uint64(len(b.Deps)))
		for _, d := range b.Deps {
			w.u64(uint64(d))
		}
		w.u64(b.RangeStart)
		w.u64(b.RangeEnd)
	}
	return w.sum()
}

// HashOutputs computes the hex-encoded outputs_digest a manifest binds
// to: a canonical hash over every terminal op's output batch, keyed by
// OpId ascending so the digest is stable regardless of map iteration or
// scheduler order. This is what lets Verify detect a manifest whose
// signed hashes match but whose actual run outputs have changed.
func HashOutputs(outputs map[id.OpId]schema.RowBatch) string {
	ids := make([]id.OpId, 0, len(outputs))
	for opID := range outputs {
		ids = append(ids, opID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	w := newCanonicalWriter()
	w.u64(uint64(len(ids)))
	for _, opID := range ids {
		b := outputs[opID]
		w.u64(uint64(opID))
		names := b.ColumnNames()
		w.u64(uint64(len(names)))
		for _, n := range names {
			w.str(n)
		}
		w.u64(uint64(b.NumRows()))
		for r := 0; r < b.NumRows(); r++ {
			for _, v := range b.Row(r) {
				w.str(v.String())
			}
		}
	}
	sum := w.sum()
	return hex(sum[:])
}

// XOR combines two hashes byte-wise, per spec.md §3's
// "plan_hash = H(physical_plan) XOR H(bindings)".
func XOR(a, b Hash) Hash {
	var out Hash
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}
