// ABOUTME: Tests for dependency ordering of plan subtasks
// ABOUTME: Covers priority ties, dependency chains and cycles

package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(subtasks []*SubTask) []string {
	out := make([]string, 0, len(subtasks))
	for _, st := range subtasks {
		out = append(out, st.ID)
	}
	return out
}

func TestOrderSubtasks(t *testing.T) {
	tests := []struct {
		name     string
		subtasks []*SubTask
		want     []string
	}{
		{
			name: "dependencies before dependents",
			subtasks: []*SubTask{
				{ID: "c", Dependencies: []string{"b"}, Priority: 1},
				{ID: "b", Dependencies: []string{"a"}, Priority: 1},
				{ID: "a", Priority: 9},
			},
			want: []string{"a", "b", "c"},
		},
		{
			name: "priority within a ready set",
			subtasks: []*SubTask{
				{ID: "low", Priority: 5},
				{ID: "high", Priority: 1},
				{ID: "mid", Priority: 3},
			},
			want: []string{"high", "mid", "low"},
		},
		{
			name: "ties keep input order",
			subtasks: []*SubTask{
				{ID: "x", Priority: 2},
				{ID: "y", Priority: 2},
				{ID: "z", Priority: 1, Dependencies: []string{"x"}},
			},
			want: []string{"x", "y", "z"},
		},
		{
			name:     "empty",
			subtasks: nil,
			want:     []string{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := OrderSubtasks(tc.subtasks)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ids(got))
		})
	}
}

func TestOrderSubtasks_Cycle(t *testing.T) {
	_, err := OrderSubtasks([]*SubTask{
		{ID: "a", Dependencies: []string{"b"}},
		{ID: "b", Dependencies: []string{"a"}},
	})
	assert.ErrorIs(t, err, ErrCircularDependency)
}
