// Package hitl decides whether a high-risk operation may run without a human
// in the loop. Operations are tiered: level 1 always stops for confirmation,
// level 2 stops unless an exemption applies, everything else proceeds with a
// post-hoc notification.
package hitl

// Default level 1 operations: always stop and wait for an administrator.
var defaultLevel1Ops = []string{
	"change_embedding_model",
	"change_namespace_permissions",
	"modify_constitution",
	"bulk_delete_documents",
	"production_deploy",
}

// Default level 2 operations: stop unless exempted.
var defaultLevel2Ops = []string{
	"create_namespace",
	"batch_ingest_large",
	"change_chunking_params",
	"modify_retrieval_gate_thresholds",
	"add_new_dependency",
}

// SessionContext carries the exemption sources for one operator session.
type SessionContext struct {
	// AuthorizedOps are operations the operator pre-authorized when the
	// session started.
	AuthorizedOps []string

	// TaskPackApprovedOps are operations approved by the task pack driving
	// this session.
	TaskPackApprovedOps []string

	// UrgentFix marks an emergency session in which level 2 operations are
	// automatically authorized.
	UrgentFix bool
}

// Checker evaluates operations against the risk tiers.
type Checker struct {
	level1 map[string]bool
	level2 map[string]bool
}

// New returns a Checker with the default operation tiers.
func New() *Checker {
	return NewWithOps(defaultLevel1Ops, defaultLevel2Ops)
}

// NewWithOps returns a Checker with custom tiers. An operation present in
// both tiers is treated as level 1.
func NewWithOps(level1, level2 []string) *Checker {
	c := &Checker{
		level1: make(map[string]bool, len(level1)),
		level2: make(map[string]bool, len(level2)),
	}
	for _, op := range level1 {
		c.level1[op] = true
	}
	for _, op := range level2 {
		c.level2[op] = true
	}
	return c
}

// ShouldProceed reports whether operation may run now, with a human-readable
// reason either way.
func (c *Checker) ShouldProceed(operation string, session SessionContext) (bool, string) {
	if c.level1[operation] {
		return false, "operation " + operation + " is a Level 1 high-risk operation; an administrator must confirm before it can run"
	}

	if c.level2[operation] {
		for _, op := range session.AuthorizedOps {
			if op == operation {
				return true, "operation authorized for this session"
			}
		}
		for _, op := range session.TaskPackApprovedOps {
			if op == operation {
				return true, "operation approved by the task pack"
			}
		}
		if session.UrgentFix {
			return true, "urgent-fix mode: level 2 operations are automatically authorized"
		}
		return false, "operation " + operation + " is level 2 medium risk; confirm before continuing or pre-authorize it at session start"
	}

	return true, "level 3 operation; administrators are notified after completion"
}
