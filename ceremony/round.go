package ceremony

import (
	"fmt"
	"time"
)

// NewRound constructs a Round with number_of_chunks empty chunks, enforcing
// invariant R2 (non-empty contributors).
func NewRound(height RoundHeight, startedAt time.Time, contributors, verifiers, chunkVerifiers []Participant, numberOfChunks uint64) (*Round, error) {
	if len(contributors) == 0 {
		return nil, NewError(ErrInvalidParticipant, "round must have at least one contributor")
	}
	if uint64(len(chunkVerifiers)) != numberOfChunks {
		return nil, NewError(ErrInvalidParticipant, "chunk_verifiers length must equal number_of_chunks")
	}
	chunks := make([]Chunk, numberOfChunks)
	for i := range chunks {
		chunks[i] = Chunk{ChunkID: uint64(i)}
	}
	return &Round{
		Height:         height,
		StartedAt:      startedAt,
		Contributors:   contributors,
		Verifiers:      verifiers,
		ChunkVerifiers: chunkVerifiers,
		Chunks:         chunks,
	}, nil
}

// NumberOfChunks returns the fixed chunk count for this round.
func (r *Round) NumberOfChunks() int { return len(r.Chunks) }

// IsAuthorizedContributor reports whether p is an authorized contributor
// for this round.
func (r *Round) IsAuthorizedContributor(p Participant) bool {
	if !p.IsContributor() {
		return false
	}
	for _, c := range r.Contributors {
		if c == p {
			return true
		}
	}
	return false
}

// IsAuthorizedVerifier reports whether p is an authorized verifier for
// this round.
func (r *Round) IsAuthorizedVerifier(p Participant) bool {
	if !p.IsVerifier() {
		return false
	}
	for _, v := range r.Verifiers {
		if v == p {
			return true
		}
	}
	return false
}

// GetChunk returns the chunk at id, or an error if id is out of range.
func (r *Round) GetChunk(id uint64) (*Chunk, error) {
	if id >= uint64(len(r.Chunks)) {
		return nil, NewError(ErrInvalidChunkID, fmt.Sprintf("chunk %d out of range", id))
	}
	return &r.Chunks[id], nil
}

// IsChunkLockedBy reports whether p holds the lock on chunk id.
func (r *Round) IsChunkLockedBy(id uint64, p Participant) (bool, error) {
	chunk, err := r.GetChunk(id)
	if err != nil {
		return false, err
	}
	return chunk.LockedBy(p), nil
}

// TryLockChunk attempts to acquire the exclusive write lock on chunk id for
// participant p. Succeeds only if no lock_holder is set, the participant's
// role matches the pending task slot (contributor for an unverified next
// contribution, verifier for an already-contributed one awaiting
// verification), and the participant is authorized for that role.
func (r *Round) TryLockChunk(id uint64, p Participant) error {
	chunk, err := r.GetChunk(id)
	if err != nil {
		return err
	}
	if chunk.LockHolder != nil {
		return NewError(ErrChunkLockAlreadyAcquired, fmt.Sprintf("chunk %d already locked", id))
	}

	expectingVerifier := len(chunk.Contributions) > 0 && !chunk.Contributions[len(chunk.Contributions)-1].Verified
	if expectingVerifier {
		if !p.IsVerifier() {
			return NewError(ErrUnauthorizedChunkContributor, "pending task awaits verification")
		}
		if !r.IsAuthorizedVerifier(p) && !r.isChunkVerifier(id, p) {
			return NewError(ErrUnauthorizedChunkVerifier, "participant not authorized as verifier")
		}
	} else {
		if !p.IsContributor() {
			return NewError(ErrUnauthorizedChunkVerifier, "pending task awaits contribution")
		}
		if !r.IsAuthorizedContributor(p) {
			return NewError(ErrUnauthorizedChunkContributor, "participant not authorized as contributor")
		}
	}

	holder := p
	chunk.LockHolder = &holder
	return nil
}

func (r *Round) isChunkVerifier(id uint64, p Participant) bool {
	if id >= uint64(len(r.ChunkVerifiers)) {
		return false
	}
	return r.ChunkVerifiers[id] == p
}

// ReleaseLock clears the lock on chunk id unconditionally (used by the
// queue's eviction path).
func (r *Round) ReleaseLock(id uint64) error {
	chunk, err := r.GetChunk(id)
	if err != nil {
		return err
	}
	chunk.LockHolder = nil
	return nil
}

// ReleaseLocksHeldBy clears any chunk lock currently held by p. Used by
// the queue's eviction path (spec.md §4.3: "Eviction releases all held
// chunk locks") when a participant goes silent mid-lock, before ever
// reaching add_contribution/verify_contribution.
func (r *Round) ReleaseLocksHeldBy(p Participant) {
	for i := range r.Chunks {
		if r.Chunks[i].LockedBy(p) {
			r.Chunks[i].LockHolder = nil
		}
	}
}

// ReplaceContributor swaps old for replacement in the round's
// authorized contributor list. Used by the dropout-backfill policy
// (Config.Queue.AllowDropouts, SPEC_FULL.md §10) so a freshly promoted
// participant can take over an evicted one's remaining chunk
// assignments without losing a required contribution slot. Returns
// false if old is not currently an authorized contributor for this
// round.
func (r *Round) ReplaceContributor(old, replacement Participant) bool {
	for i, c := range r.Contributors {
		if c == old {
			r.Contributors[i] = replacement
			return true
		}
	}
	return false
}

// AddContribution appends a new contribution to chunk_id if id matches the
// expected next_contribution_id; otherwise ContributionIdMismatch.
func (r *Round) AddContribution(chunkID uint64, id uint64, participant Participant, locator Locator) error {
	chunk, err := r.GetChunk(chunkID)
	if err != nil {
		return err
	}
	if !chunk.LockedBy(participant) {
		return NewError(ErrChunkNotLockedOrByWrongParticipant, "participant does not hold the chunk lock")
	}
	if id != chunk.NextContributionID() {
		return NewError(ErrContributionIdMismatch, fmt.Sprintf("expected contribution id %d, got %d", chunk.NextContributionID(), id))
	}

	pid := participant.ID
	loc := locator
	chunk.Contributions = append(chunk.Contributions, Contribution{
		ContributorID:       &pid,
		ContributedLocation: &loc,
	})
	chunk.LockHolder = nil
	return nil
}

// VerifyContribution marks contribution_id of chunk_id verified, recording
// the verifier and verified_location, and releases the chunk lock.
// Requires that verifier currently holds the lock.
func (r *Round) VerifyContribution(chunkID, contributionID uint64, verifier Participant, verifiedLocation Locator) error {
	chunk, err := r.GetChunk(chunkID)
	if err != nil {
		return err
	}
	if !chunk.LockedBy(verifier) {
		return NewError(ErrChunkNotLockedOrByWrongParticipant, "verifier does not hold the chunk lock")
	}
	if contributionID >= uint64(len(chunk.Contributions)) {
		return NewError(ErrContributionLocatorMissing, "no such contribution")
	}

	contrib := &chunk.Contributions[contributionID]
	vid := verifier.ID
	loc := verifiedLocation
	contrib.VerifierID = &vid
	contrib.VerifiedLocation = &loc
	contrib.Verified = true
	chunk.LockHolder = nil
	return nil
}

// ExpectedContributions is the number of contributions required per chunk
// to complete this round: one per authorized contributor, plus the
// coordinator-produced initialization contribution 0.
func (r *Round) ExpectedContributions() int {
	return len(r.Contributors) + 1
}

// IsComplete reports whether every chunk has ExpectedContributions()
// accepted contributions, each verified (invariant R3).
func (r *Round) IsComplete() bool {
	expected := r.ExpectedContributions()
	for i := range r.Chunks {
		c := &r.Chunks[i]
		if len(c.Contributions) != expected {
			return false
		}
		for _, contrib := range c.Contributions {
			if !contrib.Verified {
				return false
			}
		}
	}
	return true
}
