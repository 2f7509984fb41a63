package wire

// Unit identifies the addressing scheme a Patch's Range uses.
type Unit string

const (
	UnitText  Unit = "text"
	UnitBytes Unit = "bytes"
	UnitJSON  Unit = "json"
	UnitLines Unit = "lines"
)

// Patch is a single partial mutation of a resource: unit-specific range plus
// opaque replacement content.
type Patch struct {
	Unit    Unit
	Range   string
	Content []byte
}

// Len returns the content length, the value a Content-Length header for this
// patch's sub-message should carry.
func (p Patch) Len() int { return len(p.Content) }

// Update is either a full-snapshot or an incremental message received over a
// Braid subscription or as a single PUT body.
type Update struct {
	Versions  []string
	Parents   []string
	MergeType string

	// Snapshot body, set when Patches is empty.
	Body []byte

	// Patches, set when the message carries Patches: N.
	Patches []Patch
}

// IsSnapshot reports whether this update is a full-body replacement rather
// than an incremental patch list. Spec.md's open question ("Patches: 0" vs
// absent) is resolved here: both produce IsSnapshot() == true.
func (u Update) IsSnapshot() bool { return len(u.Patches) == 0 }
