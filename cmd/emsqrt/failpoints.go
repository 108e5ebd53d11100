package main

// Failpoints are a chaos-testing hook ported from the original
// implementation's fail_point! macro (internal/failpoint). The CLI
// itself has no flag for this deliberately: flipping a failpoint mid
// deployment is an operator action, not a pipeline option, so it stays
// behind the EMSQRT_FAILPOINTS=1 environment variable documented in
// internal/failpoint. Named points currently wired:
//
//	panic_spill_write - internal/spill.Manager.WriteBatch
//	panic_spill_read  - internal/spill.Manager.ReadBatch
