package tasksync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ManuelReschke/TaskFox/app/models"
)

var base = time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{t: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// fakeRepo is an in-memory Repository that mirrors the GORM semantics the
// engine relies on: unique mapping tuples, soft deletes and the lock update.
type fakeRepo struct {
	mu        sync.Mutex
	nextID    uint
	maps      []*models.ExternalEntityMap
	lists     map[uint]*models.List
	tasks     map[uint]*models.Task
	states    map[string]*models.ExternalSyncState
	conflicts []*models.ExternalSyncConflict

	saveTaskErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		lists:  make(map[uint]*models.List),
		tasks:  make(map[uint]*models.Task),
		states: make(map[string]*models.ExternalSyncState),
	}
}

func (r *fakeRepo) id() uint {
	r.nextID++
	return r.nextID
}

func stateKey(userID uint, provider string) string { return fmt.Sprintf("%d:%s", userID, provider) }

func (r *fakeRepo) FindMapping(_ context.Context, userID uint, provider, entityType, externalID string) (*models.ExternalEntityMap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.maps {
		if m.UserID == userID && m.Provider == provider && m.EntityType == entityType && m.ExternalID == externalID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *fakeRepo) FindMappingByLocalID(_ context.Context, userID uint, provider, entityType string, localID uint, includeTombstoned bool) (*models.ExternalEntityMap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *models.ExternalEntityMap
	for _, m := range r.maps {
		if m.UserID != userID || m.Provider != provider || m.EntityType != entityType || m.LocalID == nil || *m.LocalID != localID {
			continue
		}
		if !includeTombstoned && m.DeletedAt != nil {
			continue
		}
		switch {
		case best == nil:
			best = m
		case best.DeletedAt != nil && m.DeletedAt == nil:
			best = m
		case (best.DeletedAt == nil) == (m.DeletedAt == nil) && m.ID > best.ID:
			best = m
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (r *fakeRepo) ListMappings(_ context.Context, userID uint, provider, entityType string) ([]models.ExternalEntityMap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ExternalEntityMap
	for _, m := range r.maps {
		if m.UserID == userID && m.Provider == provider && m.EntityType == entityType {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (r *fakeRepo) UpsertMapping(_ context.Context, m *models.ExternalEntityMap) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.maps {
		if existing.UserID == m.UserID && existing.Provider == m.Provider && existing.EntityType == m.EntityType && existing.ExternalID == m.ExternalID {
			existing.LocalID = m.LocalID
			existing.ExternalParentID = m.ExternalParentID
			existing.ExternalEtag = m.ExternalEtag
			existing.ExternalUpdatedAt = m.ExternalUpdatedAt
			existing.LastSyncedAt = m.LastSyncedAt
			existing.DeletedAt = m.DeletedAt
			*m = *existing
			return nil
		}
	}
	cp := *m
	cp.ID = r.id()
	r.maps = append(r.maps, &cp)
	*m = cp
	return nil
}

func (r *fakeRepo) TombstoneMapping(_ context.Context, userID uint, provider, entityType, externalID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.maps {
		if m.UserID == userID && m.Provider == provider && m.EntityType == entityType && m.ExternalID == externalID && m.DeletedAt == nil {
			ts := at
			m.DeletedAt = &ts
		}
	}
	return nil
}

func (r *fakeRepo) TombstoneOtherMappings(_ context.Context, userID uint, provider, entityType string, localID uint, keepExternalID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.maps {
		if m.UserID == userID && m.Provider == provider && m.EntityType == entityType &&
			m.LocalID != nil && *m.LocalID == localID && m.ExternalID != keepExternalID && m.DeletedAt == nil {
			ts := at
			m.DeletedAt = &ts
		}
	}
	return nil
}

func (r *fakeRepo) GetList(_ context.Context, userID, id uint) (*models.List, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lists[id]
	if !ok || l.UserID != userID || l.DeletedAt.Valid {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (r *fakeRepo) ListLists(_ context.Context, userID uint) ([]models.List, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.List
	for _, l := range r.lists {
		if l.UserID == userID && !l.DeletedAt.Valid {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeRepo) CreateList(_ context.Context, l *models.List) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l.ID = r.id()
	cp := *l
	r.lists[l.ID] = &cp
	return nil
}

func (r *fakeRepo) SaveSyncedList(_ context.Context, l *models.List) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.lists[l.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Title = l.Title
	stored.UpdatedAt = l.UpdatedAt
	return nil
}

func (r *fakeRepo) GetTask(_ context.Context, userID, id uint) (*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.UserID != userID || t.DeletedAt.Valid {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *fakeRepo) ListTasks(_ context.Context, userID, listID uint) ([]models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Task
	for _, t := range r.tasks {
		if t.UserID == userID && t.ListID == listID && !t.DeletedAt.Valid {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeRepo) CreateTask(_ context.Context, t *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.ID = r.id()
	cp := *t
	r.tasks[t.ID] = &cp
	return nil
}

func (r *fakeRepo) SaveSyncedTask(_ context.Context, t *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveTaskErr != nil {
		return r.saveTaskErr
	}
	stored, ok := r.tasks[t.ID]
	if !ok {
		return ErrNotFound
	}
	deleted := stored.DeletedAt
	*stored = *t
	stored.DeletedAt = deleted
	return nil
}

func (r *fakeRepo) SoftDeleteTask(_ context.Context, userID, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[id]; ok && t.UserID == userID {
		t.DeletedAt = gorm.DeletedAt{Time: base, Valid: true}
	}
	return nil
}

func (r *fakeRepo) GetSyncState(_ context.Context, userID uint, provider string) (*models.ExternalSyncState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[stateKey(userID, provider)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *fakeRepo) AcquireSyncLock(_ context.Context, userID uint, provider string, now time.Time, staleAfter time.Duration) (bool, *models.ExternalSyncState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := stateKey(userID, provider)
	s, ok := r.states[key]
	if !ok {
		s = &models.ExternalSyncState{ID: r.id(), UserID: userID, Provider: provider, Status: models.SyncStatusIdle}
		r.states[key] = s
	}
	acquired := s.Status != models.SyncStatusSyncing || s.RunStartedAt == nil || s.RunStartedAt.Before(now.Add(-staleAfter))
	if acquired {
		ts := now
		s.Status = models.SyncStatusSyncing
		s.RunStartedAt = &ts
	}
	cp := *s
	return acquired, &cp, nil
}

func (r *fakeRepo) SaveSyncState(_ context.Context, s *models.ExternalSyncState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.states[stateKey(s.UserID, s.Provider)] = &cp
	return nil
}

func (r *fakeRepo) FindPendingConflict(_ context.Context, userID uint, provider, entityType, externalID string) (*models.ExternalSyncConflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.conflicts) - 1; i >= 0; i-- {
		c := r.conflicts[i]
		if c.UserID == userID && c.Provider == provider && c.EntityType == entityType && c.ExternalID == externalID && c.Status == models.ConflictStatusPending {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *fakeRepo) CreateConflict(_ context.Context, c *models.ExternalSyncConflict) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.ID = r.id()
	cp := *c
	r.conflicts = append(r.conflicts, &cp)
	return nil
}

func (r *fakeRepo) UpdateConflictPayloads(_ context.Context, id uint, local, remote datatypes.JSON) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conflicts {
		if c.ID == id && c.Status == models.ConflictStatusPending {
			c.LocalPayload = local
			c.RemotePayload = remote
		}
	}
	return nil
}

func (r *fakeRepo) GetConflict(_ context.Context, userID uint, publicID string) (*models.ExternalSyncConflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conflicts {
		if c.PublicID == publicID && c.UserID == userID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *fakeRepo) ListConflicts(_ context.Context, userID uint, provider, status string) ([]models.ExternalSyncConflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ExternalSyncConflict
	for _, c := range r.conflicts {
		if c.UserID != userID || (provider != "" && c.Provider != provider) || (status != "" && c.Status != status) {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

func (r *fakeRepo) MarkConflictResolved(_ context.Context, id uint, resolution string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conflicts {
		if c.ID == id && c.Status == models.ConflictStatusPending {
			res, ts := resolution, at
			c.Status = models.ConflictStatusResolved
			c.Resolution = &res
			c.ResolvedAt = &ts
			return nil
		}
	}
	return ErrConflictAlreadyResolved
}

// helpers for assertions

func (r *fakeRepo) activeLists() []models.List {
	out, _ := r.ListLists(context.Background(), testUser)
	return out
}

func (r *fakeRepo) activeTasks() []models.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Task
	for _, t := range r.tasks {
		if !t.DeletedAt.Valid {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *fakeRepo) mappingCount(entityType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.maps {
		if m.EntityType == entityType {
			n++
		}
	}
	return n
}

func (r *fakeRepo) task(id uint) *models.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *r.tasks[id]
	return &cp
}

func (r *fakeRepo) editTask(id uint, fn func(t *models.Task)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.tasks[id])
}

func (r *fakeRepo) pendingConflicts() []models.ExternalSyncConflict {
	out, _ := r.ListConflicts(context.Background(), testUser, "", models.ConflictStatusPending)
	return out
}

// fakeClient is an in-memory provider. Writes bump etag and updated like the
// real API does.
type fakeClient struct {
	mu     sync.Mutex
	clock  *testClock
	seq    int
	lists  []RemoteTaskList
	tasks  map[string][]RemoteTask
	calls  map[string]int
	inputs []TaskInput

	listErr   error
	updateErr error
	createErr error
}

func newFakeClient(clock *testClock) *fakeClient {
	return &fakeClient{clock: clock, tasks: make(map[string][]RemoteTask), calls: make(map[string]int)}
}

func (c *fakeClient) etag() string {
	c.seq++
	return fmt.Sprintf("etag-%d", c.seq)
}

func (c *fakeClient) addList(id, title string, updated time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists = append(c.lists, RemoteTaskList{ID: id, Title: title, Etag: c.etag(), Updated: &updated})
	if _, ok := c.tasks[id]; !ok {
		c.tasks[id] = nil
	}
}

func (c *fakeClient) removeList(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, l := range c.lists {
		if l.ID == id {
			c.lists = append(c.lists[:i], c.lists[i+1:]...)
			break
		}
	}
	delete(c.tasks, id)
}

func (c *fakeClient) addTask(listID string, t RemoteTask) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Etag == "" {
		t.Etag = c.etag()
	}
	if t.Status == "" {
		t.Status = RemoteStatusNeedsAction
	}
	c.tasks[listID] = append(c.tasks[listID], t)
}

// editTask changes a remote task the way a user in the provider's UI would.
func (c *fakeClient) editTask(listID, taskID string, updated time.Time, fn func(t *RemoteTask)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.tasks[listID] {
		if c.tasks[listID][i].ID == taskID {
			fn(&c.tasks[listID][i])
			c.tasks[listID][i].Etag = c.etag()
			u := updated
			c.tasks[listID][i].Updated = &u
		}
	}
}

func (c *fakeClient) removeTask(listID, taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tasks := c.tasks[listID]
	for i := range tasks {
		if tasks[i].ID == taskID {
			c.tasks[listID] = append(tasks[:i], tasks[i+1:]...)
			return
		}
	}
}

func (c *fakeClient) remoteTask(listID, taskID string) *RemoteTask {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tasks[listID] {
		if t.ID == taskID {
			cp := t
			return &cp
		}
	}
	return nil
}

func (c *fakeClient) callCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

func (c *fakeClient) ListTaskLists(context.Context) ([]RemoteTaskList, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["ListTaskLists"]++
	if c.listErr != nil {
		return nil, c.listErr
	}
	return append([]RemoteTaskList(nil), c.lists...), nil
}

func (c *fakeClient) ListTasks(_ context.Context, listID string) ([]RemoteTask, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["ListTasks"]++
	return append([]RemoteTask(nil), c.tasks[listID]...), nil
}

func (c *fakeClient) GetTask(_ context.Context, listID, taskID string) (*RemoteTask, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["GetTask"]++
	for _, t := range c.tasks[listID] {
		if t.ID == taskID {
			cp := t
			return &cp, nil
		}
	}
	return nil, errors.New("not found")
}

func (c *fakeClient) CreateTask(_ context.Context, listID, parentID string, in TaskInput) (*RemoteTask, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["CreateTask"]++
	c.inputs = append(c.inputs, in)
	if c.createErr != nil {
		return nil, c.createErr
	}
	now := c.clock.Now()
	t := RemoteTask{
		ID:      fmt.Sprintf("remote-task-%d", len(c.inputs)),
		Title:   in.Title,
		Notes:   in.Notes,
		Status:  in.Status,
		Due:     in.Due,
		Parent:  parentID,
		Etag:    c.etag(),
		Updated: &now,
	}
	c.tasks[listID] = append(c.tasks[listID], t)
	return &t, nil
}

func (c *fakeClient) UpdateTask(_ context.Context, listID, taskID string, in TaskInput) (*RemoteTask, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["UpdateTask"]++
	c.inputs = append(c.inputs, in)
	if c.updateErr != nil {
		return nil, c.updateErr
	}
	for i := range c.tasks[listID] {
		t := &c.tasks[listID][i]
		if t.ID != taskID {
			continue
		}
		now := c.clock.Now()
		t.Title, t.Notes, t.Status, t.Due, t.Completed = in.Title, in.Notes, in.Status, in.Due, in.Completed
		t.Etag = c.etag()
		t.Updated = &now
		cp := *t
		return &cp, nil
	}
	return nil, errors.New("not found")
}

func (c *fakeClient) DeleteTask(_ context.Context, listID, taskID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["DeleteTask"]++
	for i := range c.tasks[listID] {
		if c.tasks[listID][i].ID == taskID {
			c.tasks[listID][i].Deleted = true
			return nil
		}
	}
	return errors.New("not found")
}

func (c *fakeClient) CreateTasklist(_ context.Context, title string) (*RemoteTaskList, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["CreateTasklist"]++
	now := c.clock.Now()
	l := RemoteTaskList{ID: fmt.Sprintf("remote-list-%d", len(c.lists)+1), Title: title, Etag: c.etag(), Updated: &now}
	c.lists = append(c.lists, l)
	c.tasks[l.ID] = nil
	return &l, nil
}

func (c *fakeClient) UpdateTasklist(_ context.Context, listID, title string) (*RemoteTaskList, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["UpdateTasklist"]++
	for i := range c.lists {
		if c.lists[i].ID == listID {
			now := c.clock.Now()
			c.lists[i].Title = title
			c.lists[i].Etag = c.etag()
			c.lists[i].Updated = &now
			cp := c.lists[i]
			return &cp, nil
		}
	}
	return nil, errors.New("not found")
}

func (c *fakeClient) DeleteTasklist(_ context.Context, listID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["DeleteTasklist"]++
	return nil
}

type fakeCredentials struct {
	err   error
	calls int
}

func (f *fakeCredentials) GetAccessToken(_ context.Context, userID uint, provider string) (*AccessToken, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &AccessToken{
		Token:       "access-token",
		Integration: &models.ExternalIntegration{UserID: userID, Provider: provider},
	}, nil
}

type fakeArchiver struct {
	archived int
	err      error
}

func (a *fakeArchiver) Archive(context.Context, uint, string, time.Time, *Snapshot) error {
	a.archived++
	return a.err
}
