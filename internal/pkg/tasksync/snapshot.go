package tasksync

import (
	"context"
	"fmt"
	"time"
)

// Snapshot is one full read of the provider's lists and tasks.
type Snapshot struct {
	TaskLists   []RemoteTaskList        `json:"tasklists"`
	TasksByList map[string][]RemoteTask `json:"tasks_by_list"`
	FetchedAt   time.Time               `json:"fetched_at"`
}

// FetchSnapshot lists every tasklist and every task in it. It only reads; any
// error aborts the fetch and no partial snapshot is returned.
func FetchSnapshot(ctx context.Context, client Client) (*Snapshot, error) {
	lists, err := client.ListTaskLists(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tasklists: %w", err)
	}

	snap := &Snapshot{
		TaskLists:   lists,
		TasksByList: make(map[string][]RemoteTask, len(lists)),
	}
	for _, l := range lists {
		tasks, err := client.ListTasks(ctx, l.ID)
		if err != nil {
			return nil, fmt.Errorf("list tasks of %s: %w", l.ID, err)
		}
		snap.TasksByList[l.ID] = tasks
	}
	snap.FetchedAt = time.Now().UTC()
	return snap, nil
}

// HasList reports whether the snapshot contains the tasklist.
func (s *Snapshot) HasList(id string) bool {
	for _, l := range s.TaskLists {
		if l.ID == id {
			return true
		}
	}
	return false
}

// TaskCount returns the number of tasks across all lists.
func (s *Snapshot) TaskCount() int {
	n := 0
	for _, tasks := range s.TasksByList {
		n += len(tasks)
	}
	return n
}

// sortTasksByHierarchy orders tasks so parents come before their subtasks.
// Relative order is otherwise preserved.
func sortTasksByHierarchy(tasks []RemoteTask) []RemoteTask {
	ids := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		ids[t.ID] = true
	}
	out := make([]RemoteTask, 0, len(tasks))
	placed := make(map[string]bool, len(tasks))
	pending := tasks
	for len(pending) > 0 {
		var next []RemoteTask
		for _, t := range pending {
			if t.Parent == "" || !ids[t.Parent] || placed[t.Parent] {
				out = append(out, t)
				placed[t.ID] = true
				continue
			}
			next = append(next, t)
		}
		if len(next) == len(pending) {
			// Parent cycle; keep the remaining tasks in input order.
			out = append(out, next...)
			break
		}
		pending = next
	}
	return out
}
