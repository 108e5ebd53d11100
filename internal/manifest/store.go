package manifest

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/buntdb"

	"github.com/NVIDIA/emsqrt/internal/cmn"
)

// Store persists RunManifest rows in a local embedded buntdb.DB, keyed
// by run id, so replay/audit tooling can look up a past run without
// re-deriving its hashes.
type Store struct {
	db *buntdb.DB
}

// OpenStore opens (creating if absent) a buntdb file at path, or ":memory:"
// for an in-process, non-persistent store (used by tests).
func OpenStore(path string) (*Store, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, cmn.Errf(cmn.KindStorageFatal, err, "open manifest store %q", path)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

type wireManifest struct {
	ID            string
	PlanHash      string
	TeHash        string
	EngineVersion string
	InputsDigest  string
	OutputsDigest string
	StartedMs     int64
	FinishedMs    int64
}

func toWire(m RunManifest) wireManifest {
	return wireManifest{
		ID: m.ID, PlanHash: hex(m.PlanHash[:]), TeHash: hex(m.TeHash[:]),
		EngineVersion: m.EngineVersion, InputsDigest: m.InputsDigest, OutputsDigest: m.OutputsDigest,
		StartedMs: m.StartedMs, FinishedMs: m.FinishedMs,
	}
}

// Put writes or overwrites the manifest for m.ID.
func (s *Store) Put(m RunManifest) error {
	buf, err := json.Marshal(toWire(m))
	if err != nil {
		return cmn.Errf(cmn.KindCodec, err, "marshal manifest")
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key(m.ID), string(buf), nil)
		return err
	})
}

// Get looks up a manifest by run id.
func (s *Store) Get(runID string) (RunManifest, bool, error) {
	var raw string
	err := s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(key(runID))
		if err != nil {
			return err
		}
		raw = v
		return nil
	})
	if err == buntdb.ErrNotFound {
		return RunManifest{}, false, nil
	}
	if err != nil {
		return RunManifest{}, false, cmn.Errf(cmn.KindStorageFatal, err, "get manifest %q", runID)
	}
	var w wireManifest
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return RunManifest{}, false, cmn.Errf(cmn.KindCodec, err, "unmarshal manifest")
	}
	planHash, err := unhex(w.PlanHash)
	if err != nil {
		return RunManifest{}, false, cmn.Errf(cmn.KindCodec, err, "decode plan_hash for %q", runID)
	}
	teHash, err := unhex(w.TeHash)
	if err != nil {
		return RunManifest{}, false, cmn.Errf(cmn.KindCodec, err, "decode te_hash for %q", runID)
	}
	return RunManifest{
		ID: w.ID, PlanHash: planHash, TeHash: teHash, EngineVersion: w.EngineVersion,
		InputsDigest: w.InputsDigest, OutputsDigest: w.OutputsDigest,
		StartedMs: w.StartedMs, FinishedMs: w.FinishedMs,
	}, true, nil
}

func key(runID string) string { return fmt.Sprintf("run:%s", runID) }

func unhex(s string) (Hash, error) {
	var h Hash
	if len(s) != len(h)*2 {
		return h, fmt.Errorf("bad hash length %d", len(s))
	}
	for i := range h {
		hi, err := hexNibble(s[i*2])
		if err != nil {
			return h, err
		}
		lo, err := hexNibble(s[i*2+1])
		if err != nil {
			return h, err
		}
		h[i] = hi<<4 | lo
	}
	return h, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	default:
		return 0, fmt.Errorf("bad hex digit %q", c)
	}
}
