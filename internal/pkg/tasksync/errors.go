package tasksync

import "errors"

var (
	// ErrNoIntegration is returned when the user has not connected the provider.
	ErrNoIntegration = errors.New("tasksync: no integration for provider")
	// ErrUnauthorized is returned when the provider rejects the credentials.
	ErrUnauthorized = errors.New("tasksync: provider rejected credentials")
	// ErrSyncInProgress is returned when another run holds the sync lock.
	ErrSyncInProgress = errors.New("tasksync: sync already in progress")
	// ErrConflictNotFound is returned for unknown or foreign conflict ids.
	ErrConflictNotFound = errors.New("tasksync: conflict not found")
	// ErrConflictAlreadyResolved is returned when resolving a non-pending conflict.
	ErrConflictAlreadyResolved = errors.New("tasksync: conflict already resolved")
	// ErrMappingNotFound is returned when no active entity mapping exists.
	ErrMappingNotFound = errors.New("tasksync: entity mapping not found")
	// ErrConflictObsolete is returned when the conflicted task was deleted
	// before a side was chosen. The conflict is closed as deleted.
	ErrConflictObsolete = errors.New("tasksync: conflicted task no longer exists")
	// ErrInvalidResolution is returned for resolutions other than local or remote.
	ErrInvalidResolution = errors.New("tasksync: invalid resolution")
	// ErrProviderRequest wraps failures talking to the provider outside a run.
	ErrProviderRequest = errors.New("tasksync: provider request failed")
	// ErrNotFound is returned by the repository for missing rows.
	ErrNotFound = errors.New("tasksync: record not found")
)
