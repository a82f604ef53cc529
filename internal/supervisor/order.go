// ABOUTME: Dependency ordering of subtasks using repeated ready sets
// ABOUTME: Within a ready set subtasks run by priority, then plan order

package supervisor

import (
	"errors"
	"sort"
)

// ErrCircularDependency is returned when no subtask can be scheduled.
var ErrCircularDependency = errors.New("cannot resolve subtask ordering: possible circular dependency")

// OrderSubtasks returns subtasks in a valid execution order. Each round
// schedules every remaining subtask whose dependencies are already scheduled.
func OrderSubtasks(subtasks []*SubTask) ([]*SubTask, error) {
	ordered := make([]*SubTask, 0, len(subtasks))
	done := make(map[string]bool, len(subtasks))
	remaining := append([]*SubTask(nil), subtasks...)

	for len(remaining) > 0 {
		var ready, blocked []*SubTask
		for _, st := range remaining {
			if dependenciesMet(st, done) {
				ready = append(ready, st)
			} else {
				blocked = append(blocked, st)
			}
		}
		if len(ready) == 0 {
			return nil, ErrCircularDependency
		}

		sort.SliceStable(ready, func(i, j int) bool { return ready[i].Priority < ready[j].Priority })
		for _, st := range ready {
			ordered = append(ordered, st)
			done[st.ID] = true
		}
		remaining = blocked
	}
	return ordered, nil
}

func dependenciesMet(st *SubTask, done map[string]bool) bool {
	for _, dep := range st.Dependencies {
		if !done[dep] {
			return false
		}
	}
	return true
}
