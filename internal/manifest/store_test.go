package manifest

import "testing"

func TestStorePutGetRoundTrip(t *testing.T) {
	store, err := OpenStore(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	m := sampleManifest()
	if err := store.Put(m); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok, err := store.Get(m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatalf("expected manifest to be found")
	}
	if got.PlanHash != m.PlanHash || got.TeHash != m.TeHash {
		t.Fatalf("round trip mismatch: got %+v, want hashes matching %+v", got, m)
	}
	if got.EngineVersion != m.EngineVersion || got.OutputsDigest != m.OutputsDigest {
		t.Fatalf("round trip mismatch on scalar fields: %+v", got)
	}
}

func TestStoreGetMissingReturnsFalse(t *testing.T) {
	store, err := OpenStore(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	_, ok, err := store.Get("does-not-exist")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatalf("expected missing manifest to report ok=false")
	}
}
