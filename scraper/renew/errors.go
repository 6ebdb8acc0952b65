package renew

import "fmt"

// StructuralError signals that the search page no longer carries the expected
// listing structure. It is never retried: the run aborts, keeping whatever was
// already reconciled, and the raw page is dumped to SnapshotPath for offline
// inspection.
type StructuralError struct {
	Reason       string
	SnapshotPath string
}

func (e *StructuralError) Error() string {
	if e.SnapshotPath != "" {
		return fmt.Sprintf("page structure changed: %s (snapshot saved to %s)", e.Reason, e.SnapshotPath)
	}
	return fmt.Sprintf("page structure changed: %s", e.Reason)
}
