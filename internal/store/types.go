package store

import "strings"

// Group is an opaque issue-group record decoded from JSON. The only field the
// store interprets is "id".
type Group map[string]any

// ID returns the group's stable identifier, or "" if it has none.
func (g Group) ID() string {
	id, _ := g["id"].(string)
	return id
}

// Patch is a partial Group applied on top of a confirmed record.
type Patch map[string]any

// Op is a kind of in-flight mutating operation.
type Op uint8

const (
	OpAssign Op = 1 << iota
	OpDelete
	OpUpdate
	OpMerge
)

func (o Op) String() string {
	switch o {
	case OpAssign:
		return "assign"
	case OpDelete:
		return "delete"
	case OpUpdate:
		return "update"
	case OpMerge:
		return "merge"
	default:
		return "unknown"
	}
}

// allOps lists every Op in a stable order.
var allOps = [...]Op{OpAssign, OpDelete, OpUpdate, OpMerge}

// StatusSet is the set of operation kinds currently in flight for a group.
type StatusSet uint8

// Has reports whether op is in the set.
func (s StatusSet) Has(op Op) bool { return s&StatusSet(op) != 0 }

// Empty reports whether no operation is in flight.
func (s StatusSet) Empty() bool { return s == 0 }

// Ops returns the members in a stable order.
func (s StatusSet) Ops() []Op {
	var ops []Op
	for _, op := range allOps {
		if s.Has(op) {
			ops = append(ops, op)
		}
	}
	return ops
}

func (s StatusSet) String() string {
	ops := s.Ops()
	names := make([]string, len(ops))
	for i, op := range ops {
		names[i] = op.String()
	}
	return "{" + strings.Join(names, ",") + "}"
}

// Change is emitted to subscribers after every state transition.
type Change struct {
	// IDs are the groups whose effective view may have changed.
	IDs []string
}
