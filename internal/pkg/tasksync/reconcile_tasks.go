package tasksync

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/ManuelReschke/TaskFox/app/models"
)

// reconcileTasks walks every remote task of every reconciled list, then treats
// active mappings missing from the snapshot as remote deletions and finally
// pushes local tasks that were never linked.
func (r *run) reconcileTasks(ctx context.Context) {
	seen := make(map[string]bool, r.snap.TaskCount())
	for _, rl := range r.snap.TaskLists {
		tasks := r.snap.TasksByList[rl.ID]
		for _, rt := range tasks {
			seen[rt.ID] = true
		}
		localListID, ok := r.lists[rl.ID]
		if !ok {
			continue
		}
		for _, rt := range sortTasksByHierarchy(tasks) {
			r.record(r.reconcileRemoteTask(ctx, rl.ID, localListID, rt), "task %s", rt.ID)
		}
	}
	r.record(r.detectRemoteHardDeletes(ctx, seen), "remote deletions")
	r.record(r.pushLocalTasks(ctx), "push tasks")
}

func (r *run) reconcileRemoteTask(ctx context.Context, extListID string, localListID uint, rt RemoteTask) error {
	m, err := r.e.entities.Lookup(ctx, r.userID, r.provider, models.EntityTypeTask, rt.ID)
	if err != nil {
		return err
	}
	if rt.Deleted {
		return r.applyRemoteDelete(ctx, m)
	}
	if rt.DecodeErr != nil {
		return fmt.Errorf("unreadable remote task: %w", rt.DecodeErr)
	}
	if m == nil {
		return r.pullTask(ctx, extListID, localListID, rt)
	}
	if !m.IsActive() {
		r.stats.Skipped++
		return nil
	}

	var local *models.Task
	if m.LocalID != nil {
		local, err = r.e.repo.GetTask(ctx, r.userID, *m.LocalID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}

	pending, err := r.e.repo.FindPendingConflict(ctx, r.userID, r.provider, models.EntityTypeTask, rt.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if pending != nil {
		r.stats.Skipped++
		return r.refreshConflict(ctx, pending, local, rt)
	}

	if local == nil {
		if err := r.client.DeleteTask(ctx, extListID, rt.ID); err != nil {
			return err
		}
		if err := r.e.entities.SoftDelete(ctx, r.userID, r.provider, models.EntityTypeTask, rt.ID); err != nil {
			return err
		}
		r.stats.TasksDeleted++
		return nil
	}

	fp := taskFingerprint(rt)
	movedList := m.ParentExternalID() != extListID || local.ListID != localListID
	remoteMoved := r.remoteMoved(m, fp)
	localMoved := r.localMoved(local.UpdatedAt)

	switch {
	case taskContentEqual(local, rt):
		if movedList {
			if err := r.moveTask(ctx, local, localListID, rt); err != nil {
				return err
			}
		}
		if fp.Differs(m) || movedList {
			return r.upsert(ctx, models.EntityTypeTask, local.ID, rt.ID, extListID, fp)
		}
		return nil

	case remoteMoved && localMoved:
		return r.recordConflict(ctx, local, rt)

	case remoteMoved:
		parentID, err := r.localParentID(ctx, rt)
		if err != nil {
			return err
		}
		applyRemoteFields(local, rt, r.start)
		local.ListID = localListID
		local.ParentID = parentID
		local.UpdatedAt = r.pin(rt.Updated)
		if err := r.e.repo.SaveSyncedTask(ctx, local); err != nil {
			return err
		}
		r.stats.TasksUpdated++
		return r.upsert(ctx, models.EntityTypeTask, local.ID, rt.ID, extListID, fp)

	case localMoved:
		updated, err := r.client.UpdateTask(ctx, extListID, rt.ID, taskInputFromLocal(local))
		if err != nil {
			return err
		}
		if movedList {
			if err := r.moveTask(ctx, local, localListID, rt); err != nil {
				return err
			}
		}
		r.stats.TasksPushed++
		return r.upsert(ctx, models.EntityTypeTask, local.ID, rt.ID, extListID, taskFingerprint(*updated))

	default:
		if movedList {
			if err := r.moveTask(ctx, local, localListID, rt); err != nil {
				return err
			}
			return r.upsert(ctx, models.EntityTypeTask, local.ID, rt.ID, extListID, fp)
		}
		return nil
	}
}

// pullTask materializes a remote task under its mapped local list.
func (r *run) pullTask(ctx context.Context, extListID string, localListID uint, rt RemoteTask) error {
	parentID, err := r.localParentID(ctx, rt)
	if err != nil {
		return err
	}
	ts := r.pin(rt.Updated)
	local := &models.Task{
		UserID:    r.userID,
		ListID:    localListID,
		ParentID:  parentID,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	applyRemoteFields(local, rt, r.start)
	if err := r.e.repo.CreateTask(ctx, local); err != nil {
		return err
	}
	if err := r.upsert(ctx, models.EntityTypeTask, local.ID, rt.ID, extListID, taskFingerprint(rt)); err != nil {
		return err
	}
	r.stats.TasksPulled++
	return nil
}

// moveTask follows a task the provider moved to another list. updated_at is
// left as is so the move is not mistaken for a local edit.
func (r *run) moveTask(ctx context.Context, local *models.Task, localListID uint, rt RemoteTask) error {
	parentID, err := r.localParentID(ctx, rt)
	if err != nil {
		return err
	}
	local.ListID = localListID
	local.ParentID = parentID
	if err := r.e.repo.SaveSyncedTask(ctx, local); err != nil {
		return err
	}
	r.stats.TasksUpdated++
	return nil
}

func (r *run) localParentID(ctx context.Context, rt RemoteTask) (*uint, error) {
	if rt.Parent == "" {
		return nil, nil
	}
	return r.e.entities.FindLocalID(ctx, r.userID, r.provider, models.EntityTypeTask, rt.Parent)
}

// applyRemoteDelete soft-deletes the local counterpart and tombstones the link.
func (r *run) applyRemoteDelete(ctx context.Context, m *models.ExternalEntityMap) error {
	if !m.IsActive() {
		return nil
	}
	if m.LocalID != nil {
		if err := r.e.repo.SoftDeleteTask(ctx, r.userID, *m.LocalID); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	if err := r.e.entities.SoftDelete(ctx, r.userID, r.provider, models.EntityTypeTask, m.ExternalID); err != nil {
		return err
	}
	r.stats.TasksDeleted++
	return r.closeConflict(ctx, m.ExternalID)
}

// closeConflict retires a pending conflict whose task is gone on both sides.
func (r *run) closeConflict(ctx context.Context, externalID string) error {
	pending, err := r.e.repo.FindPendingConflict(ctx, r.userID, r.provider, models.EntityTypeTask, externalID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	err = r.e.repo.MarkConflictResolved(ctx, pending.ID, models.ConflictResolutionDeleted, r.start)
	if err != nil && !errors.Is(err, ErrConflictAlreadyResolved) {
		return err
	}
	log.Infof("[TaskSync] conflict %s closed, task %s was deleted remotely", pending.PublicID, externalID)
	return nil
}

func (r *run) detectRemoteHardDeletes(ctx context.Context, seen map[string]bool) error {
	maps, err := r.e.repo.ListMappings(ctx, r.userID, r.provider, models.EntityTypeTask)
	if err != nil {
		return err
	}
	for i := range maps {
		m := &maps[i]
		if !m.IsActive() || seen[m.ExternalID] {
			continue
		}
		r.record(r.applyRemoteDelete(ctx, m), "remote deletion of %s", m.ExternalID)
	}
	return nil
}

// pushLocalTasks creates remote tasks for local tasks in reconciled lists that
// were never linked. Parents go first so subtasks can reference them.
func (r *run) pushLocalTasks(ctx context.Context) error {
	extLists := make([]string, 0, len(r.lists))
	for ext := range r.lists {
		extLists = append(extLists, ext)
	}
	sort.Strings(extLists)

	for _, extListID := range extLists {
		tasks, err := r.e.repo.ListTasks(ctx, r.userID, r.lists[extListID])
		if err != nil {
			r.record(err, "local tasks of list %s", extListID)
			continue
		}
		for _, t := range sortLocalTasksByHierarchy(tasks) {
			r.record(r.pushLocalTask(ctx, extListID, t), "push task %d", t.ID)
		}
	}
	return nil
}

func (r *run) pushLocalTask(ctx context.Context, extListID string, t *models.Task) error {
	m, err := r.e.entities.LookupByLocalID(ctx, r.userID, r.provider, models.EntityTypeTask, t.ID, true)
	if err != nil || m != nil {
		return err
	}
	parentExt := ""
	if t.ParentID != nil {
		ext, ok, err := r.e.entities.FindExternalID(ctx, r.userID, r.provider, models.EntityTypeTask, *t.ParentID)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("parent task is not linked")
		}
		parentExt = ext
	}
	created, err := r.client.CreateTask(ctx, extListID, parentExt, taskInputFromLocal(t))
	if err != nil {
		return err
	}
	if err := r.upsert(ctx, models.EntityTypeTask, t.ID, created.ID, extListID, taskFingerprint(*created)); err != nil {
		return err
	}
	r.stats.TasksPushed++
	return nil
}

func sortLocalTasksByHierarchy(tasks []models.Task) []*models.Task {
	out := make([]*models.Task, 0, len(tasks))
	for i := range tasks {
		if tasks[i].ParentID == nil {
			out = append(out, &tasks[i])
		}
	}
	for i := range tasks {
		if tasks[i].ParentID != nil {
			out = append(out, &tasks[i])
		}
	}
	return out
}

// recordConflict stores both sides of a divergent edit and changes nothing else.
func (r *run) recordConflict(ctx context.Context, local *models.Task, rt RemoteTask) error {
	localPayload, err := encodeLocalPayload(local)
	if err != nil {
		return err
	}
	remotePayload, err := encodeRemotePayload(rt)
	if err != nil {
		return err
	}
	localID := local.ID
	c := &models.ExternalSyncConflict{
		PublicID:      uuid.NewString(),
		UserID:        r.userID,
		Provider:      r.provider,
		EntityType:    models.EntityTypeTask,
		ExternalID:    rt.ID,
		LocalID:       &localID,
		ConflictType:  models.ConflictTypeTaskUpdate,
		LocalPayload:  localPayload,
		RemotePayload: remotePayload,
		Status:        models.ConflictStatusPending,
		DetectedAt:    r.start,
	}
	if err := r.e.repo.CreateConflict(ctx, c); err != nil {
		return err
	}
	r.stats.Conflicts++
	log.Infof("[TaskSync] user=%d provider=%s: conflict %s on task %s", r.userID, r.provider, c.PublicID, rt.ID)
	return nil
}

// refreshConflict keeps the payloads of a pending conflict current so the
// review shows what each side holds now.
func (r *run) refreshConflict(ctx context.Context, c *models.ExternalSyncConflict, local *models.Task, rt RemoteTask) error {
	localPayload := c.LocalPayload
	if local != nil {
		p, err := encodeLocalPayload(local)
		if err != nil {
			return err
		}
		localPayload = p
	}
	remotePayload, err := encodeRemotePayload(rt)
	if err != nil {
		return err
	}
	return r.e.repo.UpdateConflictPayloads(ctx, c.ID, localPayload, remotePayload)
}
