// Package graph evaluates the dependency graph formed by the tasks of a
// single event: whether a task is unlocked, its derived status, and whether
// the graph is acceptable to store.
package graph

import (
	"errors"
	"fmt"

	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/domain"
)

var (
	ErrDependencyCycle = errors.New("task dependency cycle detected")
	ErrDuplicateTask   = errors.New("duplicate task id")
	ErrEmptyTaskID     = errors.New("task id required")
)

// IsUnlocked reports whether task may be completed given its siblings.
// A dependency that cannot be resolved keeps the task locked.
func IsUnlocked(task domain.Task, siblings []domain.Task) bool {
	if task.DependsOnTaskID == "" {
		return true
	}
	for _, s := range siblings {
		if s.ID == task.DependsOnTaskID {
			return s.IsComplete
		}
	}
	return false
}

// DeriveStatus computes the task status from completion and dependency state.
func DeriveStatus(task domain.Task, siblings []domain.Task) domain.TaskStatus {
	switch {
	case task.IsComplete:
		return domain.TaskComplete
	case !IsUnlocked(task, siblings):
		return domain.TaskLocked
	default:
		return domain.TaskAvailable
	}
}

// Refresh rewrites the derived status of every task in place.
func Refresh(tasks []domain.Task) {
	for i := range tasks {
		tasks[i].Status = DeriveStatus(tasks[i], tasks)
	}
}

// Blockers lists the dependency ids that keep task locked.
func Blockers(task domain.Task, siblings []domain.Task) []string {
	if IsUnlocked(task, siblings) {
		return nil
	}
	return []string{task.DependsOnTaskID}
}

// AllRequiredComplete reports whether every required task is complete. An
// empty task list never counts as complete.
func AllRequiredComplete(tasks []domain.Task) bool {
	if len(tasks) == 0 {
		return false
	}
	for _, t := range tasks {
		if t.IsRequired && !t.IsComplete {
			return false
		}
	}
	return true
}

func AnyComplete(tasks []domain.Task) bool {
	for _, t := range tasks {
		if t.IsComplete {
			return true
		}
	}
	return false
}

// Validate rejects graphs with empty or duplicate ids and dependency cycles.
// Unresolved dependency ids are accepted; they evaluate as locked.
func Validate(tasks []domain.Task) error {
	deps := make(map[string]string, len(tasks))
	for _, t := range tasks {
		if t.ID == "" {
			return ErrEmptyTaskID
		}
		if _, dup := deps[t.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID)
		}
		deps[t.ID] = t.DependsOnTaskID
	}
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(tasks))
	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case grey:
			return fmt.Errorf("%w at task %s", ErrDependencyCycle, id)
		case black:
			return nil
		}
		color[id] = grey
		if next, ok := deps[id]; ok && next != "" {
			if _, known := deps[next]; known {
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}
	for _, t := range tasks {
		if err := visit(t.ID); err != nil {
			return err
		}
	}
	return nil
}
