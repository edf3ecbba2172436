package grid

import (
	"github.com/okaneo/gridview/internal/fingerprint"
	"github.com/okaneo/gridview/internal/source"
)

// State is the lifecycle state of one grid cell.
type State int

const (
	Empty State = iota
	Pending
	Rendering
	Rendered
	Errored
	// Stale marks a cell whose generation no longer matches the viewport;
	// it re-enters Pending if it is still visible under the new generation.
	Stale
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Pending:
		return "pending"
	case Rendering:
		return "rendering"
	case Rendered:
		return "rendered"
	case Errored:
		return "errored"
	case Stale:
		return "stale"
	}
	return "unknown"
}

// Cell is one viewport slot. Only the Scheduler mutates cells.
type Cell struct {
	Entry   *source.Entry
	State   State
	Gen     uint64
	Content []byte
	Err     error

	// key is the pinned thumbnail fingerprint while State is Rendered.
	key    fingerprint.Key
	pinned bool
}
