// Package engine drives the round lifecycle: initialization of Round 0,
// transition into each public round, the per-chunk verification loop,
// and aggregation/transition into the next round. Every step is
// sequenced lock → verify → release → advance, matching
// original_source/phase1-coordinator/src/coordinator.rs.
package engine

import (
	"time"

	"github.com/trusted-setup/phase1-coordinator/adapters"
	"github.com/trusted-setup/phase1-coordinator/ceremony"
	"github.com/trusted-setup/phase1-coordinator/dispatch"
	"github.com/trusted-setup/phase1-coordinator/storage"
)

const (
	coordinatorContributorID = "coordinator"
	coordinatorVerifierID    = "coordinator"
)

// Engine sequences round lifecycle operations over a Store. It holds no
// in-memory round state of its own; every call reads and writes through
// store, per the "coordinator is forbidden from caching state" rule the
// original source follows.
type Engine struct {
	store *storage.Store
	env   adapters.Environment
}

// New builds an Engine over store, driving adapters under env.
func New(store *storage.Store, env adapters.Environment) *Engine {
	return &Engine{store: store, env: env}
}

func coordinatorParticipants(numberOfChunks uint64) (contributors, verifiers, chunkVerifiers []ceremony.Participant) {
	contributors = []ceremony.Participant{ceremony.Contributor(coordinatorContributorID)}
	verifiers = []ceremony.Participant{ceremony.Verifier(coordinatorVerifierID)}
	chunkVerifiers = make([]ceremony.Participant, numberOfChunks)
	for i := range chunkVerifiers {
		chunkVerifiers[i] = ceremony.Verifier(coordinatorVerifierID)
	}
	return
}

// Initialize builds Round(0) if it does not already exist: a
// coordinator-only round whose per-chunk Initialization output seeds
// both the round-0 and round-1 starting challenges.
func (e *Engine) Initialize(startedAt time.Time, numberOfChunks uint64) error {
	if exists, err := e.store.ContainsRound(0); err != nil {
		return err
	} else if exists {
		return nil
	}

	contributors, verifiers, chunkVerifiers := coordinatorParticipants(numberOfChunks)
	round, err := ceremony.NewRound(0, startedAt, contributors, verifiers, chunkVerifiers, numberOfChunks)
	if err != nil {
		return err
	}

	for c := uint64(0); c < numberOfChunks; c++ {
		challenge, _, err := (adapters.Initialization{}).Run(e.env, 0, c)
		if err != nil {
			return err
		}
		round0Locator := ceremony.NewLocator(0, c, 0).Verify()
		round1Locator := ceremony.NewLocator(1, c, 0).Verify()
		if err := e.store.PutArtifact(round0Locator.Path(), challenge); err != nil {
			return err
		}
		if err := e.store.PutArtifact(round1Locator.Path(), challenge); err != nil {
			return err
		}
		if !e.store.HasArtifact(round0Locator.Path()) || !e.store.HasArtifact(round1Locator.Path()) {
			return ceremony.NewError(ceremony.ErrContributionLocatorMissing, "initialization did not produce both starting challenges")
		}

		vid := coordinatorVerifierID
		round.Chunks[c].Contributions = []ceremony.Contribution{{
			ContributedLocation: &round0Locator,
			VerifierID:          &vid,
			VerifiedLocation:    &round0Locator,
			Verified:            true,
		}}
	}

	if err := e.store.PutRound(round); err != nil {
		return err
	}
	if err := e.store.SetHeight(0); err != nil {
		return err
	}
	return e.store.Save()
}

// NextRound transitions into a new public round: aggregating the
// current round first if it is not height 0, then constructing
// Round(currentHeight+1) with the supplied participants.
func (e *Engine) NextRound(startedAt time.Time, contributors, verifiers, chunkVerifiers []ceremony.Participant) (ceremony.RoundHeight, error) {
	height, ok, err := e.store.Height()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ceremony.NewError(ceremony.ErrRoundNotComplete, "ceremony has not been initialized")
	}

	if height != 0 {
		current, ok, err := e.store.Round(height)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, ceremony.NewError(ceremony.ErrRoundNotComplete, "current round missing from storage")
		}
		if !current.IsComplete() {
			return 0, ceremony.NewError(ceremony.ErrRoundNotComplete, "current round is not fully verified")
		}
		if err := e.Aggregate(current); err != nil {
			return 0, err
		}
	}

	nextHeight := height + 1
	numberOfChunks := uint64(len(chunkVerifiers))
	round, err := ceremony.NewRound(nextHeight, startedAt, contributors, verifiers, chunkVerifiers, numberOfChunks)
	if err != nil {
		return 0, err
	}

	for c := uint64(0); c < numberOfChunks; c++ {
		startLocator := ceremony.NewLocator(nextHeight, c, 0).Verify()
		if !e.store.HasArtifact(startLocator.Path()) {
			return 0, ceremony.NewError(ceremony.ErrContributionLocatorMissing, "starting challenge missing for next round")
		}
		// The starting challenge is recorded as the round's own verified
		// contribution 0, matching the coordinator-seeded entry Initialize
		// writes for round 0; public contributors begin at contribution 1.
		vid := coordinatorVerifierID
		round.Chunks[c].Contributions = []ceremony.Contribution{{
			ContributedLocation: &startLocator,
			VerifierID:          &vid,
			VerifiedLocation:    &startLocator,
			Verified:            true,
		}}
	}

	if err := e.store.PutRound(round); err != nil {
		return 0, err
	}
	if err := e.store.SetHeight(nextHeight); err != nil {
		return 0, err
	}
	if err := e.store.Save(); err != nil {
		return 0, err
	}
	return nextHeight, nil
}

// VerifyChunk runs the verifier's half of the lock → verify → release
// → advance sequence for the given accepted-but-unverified contribution.
// dispatcher's pending-verification bookkeeping for (height, chunkID) is
// cleared on success or permanent failure.
func (e *Engine) VerifyChunk(d *dispatch.Dispatcher, round *ceremony.Round, height ceremony.RoundHeight, chunkID uint64, verifier ceremony.Participant) error {
	chunk, err := round.GetChunk(chunkID)
	if err != nil {
		return err
	}
	n := len(chunk.Contributions)
	if n == 0 || chunk.Contributions[n-1].Verified {
		return ceremony.NewError(ceremony.ErrContributionLocatorMissing, "no accepted contribution awaiting verification")
	}
	contributionID := uint64(n - 1)

	if err := round.TryLockChunk(chunkID, verifier); err != nil {
		return err
	}

	prevLocator := ceremony.NewLocator(height, chunkID, contributionID-1).Verify()
	curLocator := ceremony.NewLocator(height, chunkID, contributionID)
	verifiedLocator := curLocator.Verify()

	isFinal := contributionID+1 == uint64(round.ExpectedContributions())

	prev, err := e.store.Artifact(prevLocator.Path())
	if err != nil {
		round.ReleaseLock(chunkID)
		return err
	}
	response, err := e.store.Artifact(curLocator.Path())
	if err != nil {
		round.ReleaseLock(chunkID)
		return err
	}

	// next is the post-verification canonical state: the challenge the
	// following contributor (or the next round, if this was the final
	// contribution of the round) builds on.
	next, verr := (adapters.Verification{}).Run(e.env, prev, response)
	if verr != nil {
		round.ReleaseLock(chunkID)
		d.ClearVerification(height, chunkID)
		return verr
	}

	if err := e.store.PutArtifact(verifiedLocator.Path(), next); err != nil {
		round.ReleaseLock(chunkID)
		return err
	}
	if isFinal {
		nextRoundLocator := ceremony.NewLocator(height+1, chunkID, 0).Verify()
		if err := e.store.PutArtifact(nextRoundLocator.Path(), next); err != nil {
			round.ReleaseLock(chunkID)
			return err
		}
	}
	if err := round.VerifyContribution(chunkID, contributionID, verifier, verifiedLocator); err != nil {
		return err
	}
	d.ClearVerification(height, chunkID)

	if err := e.store.PutRound(round); err != nil {
		return err
	}
	return e.store.Save()
}

// Aggregate combines round's verified per-chunk final contributions
// into the round-level artifact and verifies it is present afterward.
func (e *Engine) Aggregate(round *ceremony.Round) error {
	if !round.IsComplete() {
		return ceremony.NewError(ceremony.ErrRoundNotComplete, "round is not fully verified")
	}

	chunkFinals := make([][]byte, round.NumberOfChunks())
	for c := 0; c < round.NumberOfChunks(); c++ {
		chunk := &round.Chunks[c]
		final := &chunk.Contributions[len(chunk.Contributions)-1]
		data, err := e.store.Artifact(final.VerifiedLocation.Path())
		if err != nil {
			return err
		}
		chunkFinals[c] = data
	}

	aggregated, err := (adapters.Aggregation{}).Run(e.env, chunkFinals)
	if err != nil {
		return err
	}

	roundLocatorKey := ceremony.RoundLocator(round.Height)
	if err := e.store.PutArtifact(roundLocatorKey, aggregated); err != nil {
		return err
	}
	if !e.store.HasArtifact(roundLocatorKey) {
		return ceremony.NewError(ceremony.ErrContributionLocatorMissing, "round aggregate artifact missing after write")
	}
	return nil
}
