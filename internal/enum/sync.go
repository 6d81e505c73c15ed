package enum

// SyncStatus is the account-level sync state machine.
// Pending -> Seeding -> Syncing -> Completed, with Failed reachable from any
// non-terminal state. Completed is a steady state: the forward crawler keeps
// running against it. Leaving Failed requires an external re-authentication.
type SyncStatus string

const (
	SyncStatusPending   SyncStatus = "pending"
	SyncStatusSeeding   SyncStatus = "seeding"
	SyncStatusSyncing   SyncStatus = "syncing"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusFailed    SyncStatus = "failed"
)

func (t SyncStatus) String() string {
	return string(t)
}

// CanTransitionTo enforces the legal edges of the state machine.
func (t SyncStatus) CanTransitionTo(next SyncStatus) bool {
	if t == next {
		return true
	}
	switch next {
	case SyncStatusFailed:
		return t != SyncStatusFailed
	case SyncStatusSeeding:
		return t == SyncStatusPending
	case SyncStatusSyncing:
		return t == SyncStatusSeeding
	case SyncStatusCompleted:
		return t == SyncStatusSyncing
	case SyncStatusPending:
		// only an external reset re-enters Pending
		return t == SyncStatusFailed
	}
	return false
}

// AllowsForwardCrawl reports whether new-mail crawling may run in this
// state. Pending accounts have not been seeded and Failed accounts wait for
// an external re-authentication.
func (t SyncStatus) AllowsForwardCrawl() bool {
	switch t {
	case SyncStatusSeeding, SyncStatusSyncing, SyncStatusCompleted:
		return true
	}
	return false
}

// SyncPhase is the aggregate progress view derived from both cursor systems.
type SyncPhase string

const (
	SyncPhasePending       SyncPhase = "pending"
	SyncPhaseBootstrapping SyncPhase = "bootstrapping"
	SyncPhaseBackfilling   SyncPhase = "backfilling"
	SyncPhaseFullWalk      SyncPhase = "full_walk"
	SyncPhaseComplete      SyncPhase = "complete"
)

func (t SyncPhase) String() string {
	return string(t)
}
