// ABOUTME: Tests for workflow patch derivation
// ABOUTME: Verifies ids, ordering of node and edge operations and the snapshot

package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Arcetro/talkative/internal/interpreter"
)

func TestCreatePatch(t *testing.T) {
	patch := CreatePatch(interpreter.Interpret("collect invoices then reconcile then file report"), 0)

	assert.Equal(t, 1, patch.Version)
	assert.NotEmpty(t, patch.ID)
	assert.False(t, patch.CreatedAt.IsZero())
	require.Len(t, patch.Operations, 5)

	for i, op := range patch.Operations[:3] {
		assert.Equal(t, OpAddNode, op.Op)
		require.NotNil(t, op.Node)
		assert.Nil(t, op.Edge)
		assert.Equal(t, []string{"patch-node-1-1", "patch-node-1-2", "patch-node-1-3"}[i], op.Node.ID)
	}
	assert.Equal(t, "Collect invoices", patch.Operations[0].Node.Name)

	edge := patch.Operations[3]
	assert.Equal(t, OpAddEdge, edge.Op)
	require.NotNil(t, edge.Edge)
	assert.Equal(t, Edge{ID: "patch-edge-1-1", Source: "Collect invoices", Target: "Reconcile"}, *edge.Edge)
	assert.Equal(t, "patch-edge-1-2", patch.Operations[4].Edge.ID)

	require.NotNil(t, patch.Snapshot)
	assert.Len(t, patch.Snapshot.Nodes, 3)
	assert.Len(t, patch.Snapshot.Edges, 2)
}

func TestCreatePatch_VersionFromExisting(t *testing.T) {
	patch := CreatePatch(interpreter.Interpret("pack and ship"), 4)
	assert.Equal(t, 5, patch.Version)
	assert.Equal(t, "patch-node-5-1", patch.Operations[0].Node.ID)
	assert.Equal(t, "patch-edge-5-1", patch.Operations[2].Edge.ID)
}

func TestCreatePatch_Empty(t *testing.T) {
	patch := CreatePatch(interpreter.Interpret(""), 0)
	assert.Empty(t, patch.Operations)
	assert.Empty(t, patch.Snapshot.Nodes)
	assert.Empty(t, patch.Snapshot.Edges)
}
