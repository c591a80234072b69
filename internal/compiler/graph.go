package compiler

import (
	osirisErrors "github.com/osiris-data/osiris/errors"
	"github.com/osiris-data/osiris/internal/oml"
)

// node is one step's graph-relevant data.
type node struct {
	id    string
	needs []string
}

// TopoSort returns doc's steps in dependency order, applying the
// implicit-previous-step default for an omitted `needs` field.
// It rejects unknown upstream ids and cycles.
func TopoSort(doc *oml.Document) ([]string, map[string][]string, error) {
	nodes := make([]node, len(doc.Steps))
	byID := make(map[string]int, len(doc.Steps))
	for i, s := range doc.Steps {
		byID[s.ID] = i
	}
	for i := range doc.Steps {
		needs := doc.ResolvedNeeds(i)
		for _, n := range needs {
			if _, ok := byID[n]; !ok {
				return nil, nil, &osirisErrors.InvalidOMLError{Reason: "step " + doc.Steps[i].ID + " needs unknown step " + n}
			}
		}
		nodes[i] = node{id: doc.Steps[i].ID, needs: needs}
	}

	needsByID := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		needsByID[n.id] = n.needs
	}

	indegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		indegree[n.id] = len(n.needs)
		for _, dep := range n.needs {
			dependents[dep] = append(dependents[dep], n.id)
		}
	}

	// Kahn's algorithm, processing ready nodes in original step order for
	// a deterministic, stable sort.
	var queue []string
	for _, n := range nodes {
		if indegree[n.id] == 0 {
			queue = append(queue, n.id)
		}
	}

	var order []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		order = append(order, cur)

		for _, n := range nodes {
			for _, dep := range dependents[cur] {
				if dep != n.id {
					continue
				}
				indegree[dep]--
				if indegree[dep] == 0 {
					queue = append(queue, dep)
				}
			}
		}
	}

	if len(order) != len(nodes) {
		var cycle []string
		for id, deg := range indegree {
			if deg > 0 {
				cycle = append(cycle, id)
			}
		}
		return nil, nil, &osirisErrors.GraphCycleError{Cycle: cycle}
	}

	return order, needsByID, nil
}
