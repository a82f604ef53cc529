// ABOUTME: Derives workflow patches from interpreter results
// ABOUTME: One add_node per detected task and one add_edge per link, versioned from the previous patch

// Package workflow builds the workflow patches an agent proposes and applies
// after interpreting a message.
package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Arcetro/talkative/internal/interpreter"
)

// Operation kinds.
const (
	OpAddNode    = "add_node"
	OpUpdateNode = "update_node"
	OpRemoveNode = "remove_node"
	OpAddEdge    = "add_edge"
	OpUpdateEdge = "update_edge"
	OpRemoveEdge = "remove_edge"
)

type Node struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// Operation is one change in a patch. Exactly one of Node, Edge or ID is set,
// depending on Op.
type Operation struct {
	Op   string `json:"op"`
	Node *Node  `json:"node,omitempty"`
	Edge *Edge  `json:"edge,omitempty"`
	ID   string `json:"id,omitempty"`
}

type Snapshot struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Patch is a versioned set of operations with the resulting graph.
type Patch struct {
	ID         string      `json:"id"`
	Version    int         `json:"version"`
	CreatedAt  time.Time   `json:"createdAt"`
	Operations []Operation `json:"operations"`
	Snapshot   *Snapshot   `json:"snapshot,omitempty"`
}

// CreatePatch turns an interpretation into patch existingVersion+1. Node ids
// are patch-node-{version}-{n} and edge ids patch-edge-{version}-{n}; node
// operations come before edge operations.
func CreatePatch(result interpreter.Result, existingVersion int) *Patch {
	version := existingVersion + 1
	var nodeOps, edgeOps []Operation
	snapshot := &Snapshot{Nodes: []Node{}, Edges: []Edge{}}

	for i, s := range result.Suggestions {
		switch s.Type {
		case interpreter.SuggestionNode:
			node := Node{
				ID:          fmt.Sprintf("patch-node-%d-%d", version, i+1),
				Name:        s.Name,
				Description: s.Description,
			}
			nodeOps = append(nodeOps, Operation{Op: OpAddNode, Node: &node})
			snapshot.Nodes = append(snapshot.Nodes, node)
		case interpreter.SuggestionConnections:
			for j, link := range s.Links {
				edge := Edge{
					ID:     fmt.Sprintf("patch-edge-%d-%d", version, j+1),
					Source: link.SourceName,
					Target: link.TargetName,
				}
				edgeOps = append(edgeOps, Operation{Op: OpAddEdge, Edge: &edge})
				snapshot.Edges = append(snapshot.Edges, edge)
			}
		}
	}

	return &Patch{
		ID:         uuid.NewString(),
		Version:    version,
		CreatedAt:  time.Now().UTC(),
		Operations: append(append([]Operation{}, nodeOps...), edgeOps...),
		Snapshot:   snapshot,
	}
}
