package sem

// Capability names gating standard-library operations.
const (
	CapFSRead  = "fs.read"
	CapFSWrite = "fs.write"
	CapNet     = "net"
)

// Caps is the security context handed in at session start. It is immutable
// after construction, so the same handle is shared lock-free across the whole
// call tree and the worker pool. The core never interprets grant names; it
// only asks Allows before a gated builtin runs.
type Caps struct {
	grants map[string]struct{}
	all    bool
}

// NewCaps grants exactly the named capabilities.
func NewCaps(grants ...string) Caps {
	m := make(map[string]struct{}, len(grants))
	for _, g := range grants {
		m[g] = struct{}{}
	}
	return Caps{grants: m}
}

// AllCaps grants everything; the default for trusted local runs.
func AllCaps() Caps { return Caps{all: true} }

func (c Caps) Allows(op string) bool {
	if c.all {
		return true
	}
	_, ok := c.grants[op]
	return ok
}
