package tasksync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"go.uber.org/multierr"

	"github.com/ManuelReschke/TaskFox/app/models"
)

const defaultLockStaleAfter = 30 * time.Minute

type options struct {
	now        func() time.Time
	archiver   SnapshotArchiver
	staleAfter time.Duration
	observer   RunObserver
}

// RunObserver is called once with the outcome of every run, including skipped
// and aborted ones.
type RunObserver func(userID uint, provider string, res RunResult)

// Option configures an Engine or Service.
type Option func(*options)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithArchiver stores every fetched snapshot through a.
func WithArchiver(a SnapshotArchiver) Option {
	return func(o *options) { o.archiver = a }
}

// WithLockStaleAfter sets how long a syncing status blocks other runs.
func WithLockStaleAfter(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.staleAfter = d
		}
	}
}

// WithRunObserver reports every finished run to fn.
func WithRunObserver(fn RunObserver) Option {
	return func(o *options) { o.observer = fn }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, staleAfter: defaultLockStaleAfter}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Engine runs pull/push reconciliation for one (user, provider) pair at a time.
type Engine struct {
	repo        Repository
	entities    *EntityMap
	credentials CredentialResolver
	newClient   ClientFactory
	opts        options
}

// NewEngine creates a reconciliation engine from its collaborators.
func NewEngine(repo Repository, credentials CredentialResolver, newClient ClientFactory, opts ...Option) *Engine {
	o := buildOptions(opts)
	return &Engine{
		repo:        repo,
		entities:    NewEntityMap(repo, o.now),
		credentials: credentials,
		newClient:   newClient,
		opts:        o,
	}
}

// run carries the state of one reconciliation pass.
type run struct {
	e          *Engine
	client     Client
	userID     uint
	provider   string
	start      time.Time
	lastSynced time.Time
	snap       *Snapshot

	// external list id -> local list id for every list whose tasks are reconciled
	lists map[string]uint

	stats RunStats
	errs  error
}

// Run performs one sync run. Failures are reported in the result, never returned.
func (e *Engine) Run(ctx context.Context, userID uint, provider string) RunResult {
	res := e.run(ctx, userID, provider)
	if e.opts.observer != nil {
		e.opts.observer(userID, provider, res)
	}
	return res
}

func (e *Engine) run(ctx context.Context, userID uint, provider string) RunResult {
	start := e.opts.now().UTC()

	acquired, state, err := e.repo.AcquireSyncLock(ctx, userID, provider, start, e.opts.staleAfter)
	if err != nil {
		log.Errorf("[TaskSync] user=%d provider=%s: acquire lock: %v", userID, provider, err)
		return errorResult(start, fmt.Errorf("acquire sync lock: %w", err))
	}
	if !acquired {
		log.Infof("[TaskSync] user=%d provider=%s: run skipped, another run is active", userID, provider)
		return errorResult(start, ErrSyncInProgress)
	}

	r := &run{
		e:        e,
		userID:   userID,
		provider: provider,
		start:    start,
		lists:    make(map[string]uint),
	}
	if state.LastSyncedAt != nil {
		r.lastSynced = state.LastSyncedAt.UTC()
	}

	token, err := e.credentials.GetAccessToken(ctx, userID, provider)
	if err != nil {
		return e.abort(ctx, state, start, fmt.Errorf("resolve credentials: %w", err))
	}
	client, err := e.newClient(token.Token, token.Integration)
	if err != nil {
		return e.abort(ctx, state, start, fmt.Errorf("build client: %w", err))
	}
	snap, err := FetchSnapshot(ctx, client)
	if err != nil {
		return e.abort(ctx, state, start, fmt.Errorf("fetch snapshot: %w", err))
	}
	r.client = client
	r.snap = snap

	if e.opts.archiver != nil {
		if err := e.opts.archiver.Archive(ctx, userID, provider, start, snap); err != nil {
			log.Warnf("[TaskSync] user=%d provider=%s: archive snapshot: %v", userID, provider, err)
		}
	}

	log.Infof("[TaskSync] user=%d provider=%s: reconciling %d lists, %d tasks", userID, provider, len(snap.TaskLists), snap.TaskCount())
	r.reconcileLists(ctx)
	r.reconcileTasks(ctx)

	errs := multierr.Errors(r.errs)
	r.stats.Errors = len(errs)
	if len(errs) > 0 {
		log.Warnf("[TaskSync] user=%d provider=%s: %d entities skipped after errors: %v", userID, provider, len(errs), r.errs)
	}

	state.Status = models.SyncStatusIdle
	state.LastSyncedAt = &start
	state.LastError = ""
	state.RunStartedAt = nil
	if b, err := json.Marshal(r.stats); err == nil {
		state.LastRunStats = b
	}
	if err := e.repo.SaveSyncState(ctx, state); err != nil {
		log.Errorf("[TaskSync] user=%d provider=%s: save sync state: %v", userID, provider, err)
		return errorResult(start, fmt.Errorf("save sync state: %w", err))
	}

	finished := e.opts.now().UTC()
	log.Infof("[TaskSync] user=%d provider=%s: run finished in %s: %+v", userID, provider, finished.Sub(start), r.stats)
	return RunResult{Status: RunStatusOK, Stats: r.stats, StartedAt: start, FinishedAt: finished}
}

// abort records a run-level failure. Local data has not been touched yet.
func (e *Engine) abort(ctx context.Context, state *models.ExternalSyncState, start time.Time, cause error) RunResult {
	log.Errorf("[TaskSync] user=%d provider=%s: run aborted: %v", state.UserID, state.Provider, cause)
	state.Status = models.SyncStatusError
	state.LastError = cause.Error()
	state.RunStartedAt = nil
	if err := e.repo.SaveSyncState(ctx, state); err != nil {
		log.Errorf("[TaskSync] user=%d provider=%s: save sync state: %v", state.UserID, state.Provider, err)
	}
	return errorResult(start, cause)
}

func (r *run) record(err error, format string, args ...interface{}) {
	if err == nil {
		return
	}
	wrapped := fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
	log.Warnf("[TaskSync] user=%d provider=%s: %v", r.userID, r.provider, wrapped)
	r.errs = multierr.Append(r.errs, wrapped)
}

// remoteMoved reports whether the provider changed the entity since the last
// successful run and the change is not one this side already recorded.
func (r *run) remoteMoved(m *models.ExternalEntityMap, fp Fingerprint) bool {
	if fp.Updated != nil && !fp.Updated.After(r.lastSynced) {
		return false
	}
	return fp.Differs(m)
}

func (r *run) localMoved(updatedAt time.Time) bool {
	return updatedAt.After(r.lastSynced)
}

// pin picks the updated_at written for rows changed by a pull. The remote
// timestamp, capped at run start, keeps the write from looking like a local
// edit on the next run.
func (r *run) pin(remoteUpdated *time.Time) time.Time {
	if remoteUpdated == nil || remoteUpdated.After(r.start) {
		return r.start
	}
	return remoteUpdated.UTC()
}

func (r *run) upsert(ctx context.Context, entityType string, localID uint, externalID, parent string, fp Fingerprint) error {
	id := localID
	_, err := r.e.entities.UpsertMapping(ctx, MappingInput{
		UserID:           r.userID,
		Provider:         r.provider,
		EntityType:       entityType,
		LocalID:          &id,
		ExternalID:       externalID,
		ParentExternalID: parent,
		Fingerprint:      fp,
	})
	return err
}
