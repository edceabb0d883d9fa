package tasksync

import (
	"context"
	"errors"
	"sort"

	"github.com/ManuelReschke/TaskFox/app/models"
)

// reconcileLists converges list metadata without recording conflicts. When
// both sides renamed a list since the last run the remote title wins.
func (r *run) reconcileLists(ctx context.Context) {
	for _, rl := range r.snap.TaskLists {
		r.record(r.reconcileRemoteList(ctx, rl), "list %s", rl.ID)
	}
	r.record(r.tombstoneVanishedLists(ctx), "vanished lists")
	r.record(r.pushLocalLists(ctx), "push lists")
}

func (r *run) reconcileRemoteList(ctx context.Context, rl RemoteTaskList) error {
	m, err := r.e.entities.Lookup(ctx, r.userID, r.provider, models.EntityTypeList, rl.ID)
	if err != nil {
		return err
	}
	if m == nil {
		return r.pullList(ctx, rl)
	}
	if !m.IsActive() {
		r.stats.Skipped++
		return nil
	}

	var local *models.List
	if m.LocalID != nil {
		local, err = r.e.repo.GetList(ctx, r.userID, *m.LocalID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	if local == nil {
		return r.pullList(ctx, rl)
	}
	r.lists[rl.ID] = local.ID

	fp := listFingerprint(rl)
	if local.Title == rl.Title {
		if fp.Differs(m) {
			return r.upsert(ctx, models.EntityTypeList, local.ID, rl.ID, "", fp)
		}
		return nil
	}

	if r.localMoved(local.UpdatedAt) && !r.remoteMoved(m, fp) {
		updated, err := r.client.UpdateTasklist(ctx, rl.ID, local.Title)
		if err != nil {
			return err
		}
		r.stats.ListsPushed++
		return r.upsert(ctx, models.EntityTypeList, local.ID, rl.ID, "", listFingerprint(*updated))
	}

	local.Title = rl.Title
	local.UpdatedAt = r.pin(rl.Updated)
	if err := r.e.repo.SaveSyncedList(ctx, local); err != nil {
		return err
	}
	r.stats.ListsUpdated++
	return r.upsert(ctx, models.EntityTypeList, local.ID, rl.ID, "", fp)
}

// pullList creates the local counterpart of a remote list. A mapping whose
// local row disappeared is repointed at the new row.
func (r *run) pullList(ctx context.Context, rl RemoteTaskList) error {
	ts := r.pin(rl.Updated)
	local := &models.List{
		UserID:    r.userID,
		Title:     rl.Title,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	if err := r.e.repo.CreateList(ctx, local); err != nil {
		return err
	}
	if err := r.upsert(ctx, models.EntityTypeList, local.ID, rl.ID, "", listFingerprint(rl)); err != nil {
		return err
	}
	r.lists[rl.ID] = local.ID
	r.stats.ListsPulled++
	return nil
}

// tombstoneVanishedLists handles lists deleted at the provider. The local list
// and its tasks are kept; only the links are tombstoned.
func (r *run) tombstoneVanishedLists(ctx context.Context) error {
	listMaps, err := r.e.repo.ListMappings(ctx, r.userID, r.provider, models.EntityTypeList)
	if err != nil {
		return err
	}
	var taskMaps []models.ExternalEntityMap
	loaded := false

	for i := range listMaps {
		m := &listMaps[i]
		if !m.IsActive() || r.snap.HasList(m.ExternalID) {
			continue
		}
		if err := r.e.entities.SoftDelete(ctx, r.userID, r.provider, models.EntityTypeList, m.ExternalID); err != nil {
			r.record(err, "tombstone list %s", m.ExternalID)
			continue
		}
		if !loaded {
			taskMaps, err = r.e.repo.ListMappings(ctx, r.userID, r.provider, models.EntityTypeTask)
			if err != nil {
				return err
			}
			loaded = true
		}
		for j := range taskMaps {
			tm := &taskMaps[j]
			if tm.IsActive() && tm.ParentExternalID() == m.ExternalID {
				r.record(r.e.entities.SoftDelete(ctx, r.userID, r.provider, models.EntityTypeTask, tm.ExternalID), "tombstone task %s", tm.ExternalID)
			}
		}
		r.stats.ListsDeleted++
	}
	return nil
}

// pushLocalLists creates remote lists for local lists that were never linked.
// Lists with a tombstoned mapping stay local.
func (r *run) pushLocalLists(ctx context.Context) error {
	lists, err := r.e.repo.ListLists(ctx, r.userID)
	if err != nil {
		return err
	}
	sort.SliceStable(lists, func(i, j int) bool { return lists[i].ID < lists[j].ID })

	for i := range lists {
		l := &lists[i]
		m, err := r.e.entities.LookupByLocalID(ctx, r.userID, r.provider, models.EntityTypeList, l.ID, true)
		if err != nil {
			r.record(err, "local list %d", l.ID)
			continue
		}
		if m != nil {
			continue
		}
		created, err := r.client.CreateTasklist(ctx, l.Title)
		if err != nil {
			r.record(err, "create remote list for %d", l.ID)
			continue
		}
		if err := r.upsert(ctx, models.EntityTypeList, l.ID, created.ID, "", listFingerprint(*created)); err != nil {
			r.record(err, "map pushed list %d", l.ID)
			continue
		}
		r.lists[created.ID] = l.ID
		r.stats.ListsPushed++
	}
	return nil
}
