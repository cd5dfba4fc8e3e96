package incident

import (
	"fmt"
	"sort"

	"github.com/randalmurphal/verity/internal/config"
)

// Terminal is the successor of the last role in the escalation chain.
const Terminal = config.TerminalRole

// Graph is the fixed role -> next-role mapping an incident travels through.
type Graph struct {
	next map[string]string
}

// NewGraph builds a graph from a successor table. Every successor must be a
// role of the table or Terminal.
func NewGraph(successors map[string]string) (*Graph, error) {
	if len(successors) == 0 {
		return nil, fmt.Errorf("escalation graph has no roles")
	}
	next := make(map[string]string, len(successors))
	for role, succ := range successors {
		if succ != Terminal {
			if _, ok := successors[succ]; !ok {
				return nil, fmt.Errorf("role %s points at unknown role %s", role, succ)
			}
		}
		next[role] = succ
	}
	return &Graph{next: next}, nil
}

// Contains reports whether role takes part in the chain.
func (g *Graph) Contains(role string) bool {
	_, ok := g.next[role]
	return ok
}

// Successor returns the role reviewing after role. ok is false when role is
// last in the chain or not part of it.
func (g *Graph) Successor(role string) (next string, ok bool) {
	next, known := g.next[role]
	if !known || next == Terminal {
		return "", false
	}
	return next, true
}

// Roles returns every role of the graph in sorted order.
func (g *Graph) Roles() []string {
	roles := make([]string, 0, len(g.next))
	for r := range g.next {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	return roles
}
