package manifest

import "fmt"

// sprintDeterministic renders a binding-config value into a stable string.
// Binding config values are plain data (strings, string slices, small
// value structs/enums) - fmt's %v is deterministic for such values since
// it never iterates a map and never includes a pointer address for them.
func sprintDeterministic(v any) string {
	return fmt.Sprintf("%+v", v)
}
