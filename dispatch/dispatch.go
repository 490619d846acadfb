// Package dispatch assigns per-chunk work to active participants and
// writes uploaded contribution artifacts to durable storage.
package dispatch

import (
	"github.com/trusted-setup/phase1-coordinator/ceremony"
	"github.com/trusted-setup/phase1-coordinator/crypto"
	"github.com/trusted-setup/phase1-coordinator/storage"
)

// Dispatcher tracks each active participant's pending and completed
// tasks, and the set of chunks awaiting verification.
type Dispatcher struct {
	pending            map[string][]ceremony.Task
	completed          map[string][]ceremony.Task
	pendingVerification map[ceremony.RoundHeight]map[uint64]bool
}

// NewDispatcher builds an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		pending:             make(map[string][]ceremony.Task),
		completed:           make(map[string][]ceremony.Task),
		pendingVerification: make(map[ceremony.RoundHeight]map[uint64]bool),
	}
}

// EnqueueTasks populates participant's pending task list with one Task
// per chunk, on promotion into an active round. nextContributionID
// reports the contribution id the participant is expected to produce
// for a given chunk, accounting for contributions already accepted.
func (d *Dispatcher) EnqueueTasks(participant ceremony.Participant, numberOfChunks uint64, nextContributionID func(chunkID uint64) uint64) {
	tasks := make([]ceremony.Task, numberOfChunks)
	for c := uint64(0); c < numberOfChunks; c++ {
		tasks[c] = ceremony.Task{ChunkID: c, ContributionID: nextContributionID(c)}
	}
	d.pending[participant.ID] = tasks
	d.completed[participant.ID] = nil
}

// HeadTask returns the next pending task for participant, if any.
func (d *Dispatcher) HeadTask(participant ceremony.Participant) (ceremony.Task, bool) {
	tasks := d.pending[participant.ID]
	if len(tasks) == 0 {
		return ceremony.Task{}, false
	}
	return tasks[0], true
}

// TasksLeft returns the number of pending tasks remaining for
// participant.
func (d *Dispatcher) TasksLeft(participant ceremony.Participant) int {
	return len(d.pending[participant.ID])
}

// TryLock attempts to acquire the chunk lock for participant's head
// pending task and, on success, returns the current (verified) and next
// (unverified) locators for that chunk.
func (d *Dispatcher) TryLock(round *ceremony.Round, height ceremony.RoundHeight, participant ceremony.Participant) (*ceremony.LockedLocators, error) {
	task, ok := d.HeadTask(participant)
	if !ok {
		return nil, ceremony.NewError(ceremony.ErrInvalidParticipant, "no pending task")
	}
	if err := round.TryLockChunk(task.ChunkID, participant); err != nil {
		return nil, err
	}

	current := ceremony.NewLocator(height, task.ChunkID, task.ContributionID-1).Verify()
	next := ceremony.NewLocator(height, task.ChunkID, task.ContributionID)
	return &ceremony.LockedLocators{
		CurrentContribution: current,
		NextContribution:    next,
	}, nil
}

// WriteContribution persists an uploaded artifact and its companion
// signature atomically, returning the content hash of the artifact.
func WriteContribution(store *storage.Store, locator ceremony.Locator, bytes, signature []byte) ([]byte, error) {
	if err := store.PutArtifact(locator.Path(), bytes); err != nil {
		return nil, err
	}
	if err := store.PutArtifact(locator.SignaturePath(), signature); err != nil {
		return nil, err
	}
	return crypto.Keccak256(bytes), nil
}

// TryContribute finalizes participant's contribution to chunk_id:
// advances the Round's chunk contributions, moves the task from pending
// to completed, and marks the chunk awaiting verification.
func (d *Dispatcher) TryContribute(round *ceremony.Round, height ceremony.RoundHeight, participant ceremony.Participant, chunkID uint64, locator ceremony.Locator) error {
	locked, err := round.IsChunkLockedBy(chunkID, participant)
	if err != nil {
		return err
	}
	if !locked {
		return ceremony.NewError(ceremony.ErrChunkNotLockedOrByWrongParticipant, "participant does not hold the chunk lock")
	}

	chunk, err := round.GetChunk(chunkID)
	if err != nil {
		return err
	}
	contributionID := chunk.NextContributionID()
	if err := round.AddContribution(chunkID, contributionID, participant, locator); err != nil {
		return err
	}

	d.completeTaskFor(participant, chunkID)
	d.markAwaitingVerification(height, chunkID)
	return nil
}

func (d *Dispatcher) completeTaskFor(participant ceremony.Participant, chunkID uint64) {
	tasks := d.pending[participant.ID]
	for i, tsk := range tasks {
		if tsk.ChunkID == chunkID {
			d.completed[participant.ID] = append(d.completed[participant.ID], tsk)
			d.pending[participant.ID] = append(tasks[:i], tasks[i+1:]...)
			return
		}
	}
}

func (d *Dispatcher) markAwaitingVerification(height ceremony.RoundHeight, chunkID uint64) {
	set, ok := d.pendingVerification[height]
	if !ok {
		set = make(map[uint64]bool)
		d.pendingVerification[height] = set
	}
	set[chunkID] = true
}

// ClearVerification removes chunkID from the pending-verification set
// for height once the engine's verifier has processed it.
func (d *Dispatcher) ClearVerification(height ceremony.RoundHeight, chunkID uint64) {
	if set, ok := d.pendingVerification[height]; ok {
		delete(set, chunkID)
	}
}

// ChunksAwaitingVerification returns the chunk ids at height that have
// an accepted but not-yet-verified contribution.
func (d *Dispatcher) ChunksAwaitingVerification(height ceremony.RoundHeight) []uint64 {
	set := d.pendingVerification[height]
	out := make([]uint64, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// Reassign moves old's remaining pending and completed task
// bookkeeping to replacement. Used by the dropout-backfill policy: a
// freshly promoted participant steps into an evicted one's unfinished
// chunk assignments instead of that work being dropped (or the round
// stalling if drop-outs aren't backfilled at all).
func (d *Dispatcher) Reassign(old, replacement ceremony.Participant) {
	d.pending[replacement.ID] = d.pending[old.ID]
	d.completed[replacement.ID] = d.completed[old.ID]
	delete(d.pending, old.ID)
	delete(d.completed, old.ID)
}

// DiscardPendingTasks removes all pending (but not completed) tasks for
// participant, used by the eviction path (§4.3: "eviction ... discards
// pending tasks").
func (d *Dispatcher) DiscardPendingTasks(participant ceremony.Participant) {
	delete(d.pending, participant.ID)
}
