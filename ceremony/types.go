package ceremony

import "time"

// RoundHeight is a non-negative round index. Height 0 is the pre-ceremony
// initialization round populated by the coordinator itself; 1 is the first
// public round.
type RoundHeight = uint64

// ParticipantRole distinguishes the two roles a public key may hold in a
// round. A Participant's equality is structural: same Role and same ID.
type ParticipantRole int

const (
	RoleContributor ParticipantRole = iota
	RoleVerifier
)

// Participant is a tagged variant: Contributor(id) or Verifier(id). id is a
// public key string.
type Participant struct {
	Role ParticipantRole
	ID   string
}

// Contributor builds a Participant in the contributor role.
func Contributor(id string) Participant { return Participant{Role: RoleContributor, ID: id} }

// Verifier builds a Participant in the verifier role.
func Verifier(id string) Participant { return Participant{Role: RoleVerifier, ID: id} }

func (p Participant) IsContributor() bool { return p.Role == RoleContributor }
func (p Participant) IsVerifier() bool    { return p.Role == RoleVerifier }

func (p Participant) String() string {
	if p.IsVerifier() {
		return "verifier:" + p.ID
	}
	return "contributor:" + p.ID
}

// Locator addresses a binary artifact on durable storage. It is stable
// across restarts and encodes (round, chunk, contribution, verified) rather
// than a bare string (Design Notes §9).
type Locator struct {
	RoundHeight    RoundHeight
	ChunkID        uint64
	ContributionID uint64
	Verified       bool
}

// NewLocator builds a Locator for the unverified (contributor) artifact.
func NewLocator(h RoundHeight, chunk, contribution uint64) Locator {
	return Locator{RoundHeight: h, ChunkID: chunk, ContributionID: contribution}
}

// Verify returns the Locator for the verified copy of the same artifact.
func (l Locator) Verify() Locator {
	l.Verified = true
	return l
}

// Path renders the on-disk layout path for this locator:
//
//	round_<h>/chunk_<c>/contribution_<i>[.verified]
func (l Locator) Path() string {
	base := fmtPath(l.RoundHeight, l.ChunkID, l.ContributionID)
	if l.Verified {
		return base + ".verified"
	}
	return base
}

// SignaturePath renders the path of the companion ContributionFileSignature
// for this locator: round_<h>/chunk_<c>/contribution_<i>.signature
func (l Locator) SignaturePath() string {
	return fmtPath(l.RoundHeight, l.ChunkID, l.ContributionID) + ".signature"
}

func fmtPath(h RoundHeight, chunk, contribution uint64) string {
	return "round_" + itoa(h) + "/chunk_" + itoa(chunk) + "/contribution_" + itoa(contribution)
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// RoundLocator is the path of the aggregated round artifact: round_<h>.verified
func RoundLocator(h RoundHeight) string {
	return "round_" + itoa(h) + ".verified"
}

// Contribution is a single participant's update to a chunk's running
// parameter (or the coordinator's initialization output at index 0).
type Contribution struct {
	ContributorID       *string
	ContributedLocation *Locator
	VerifierID          *string
	VerifiedLocation    *Locator
	Verified            bool
}

// IsInitialization reports whether this is the coordinator-produced
// contribution 0.
func (c *Contribution) IsInitialization() bool {
	return c.ContributorID == nil
}

// Chunk is a partition of the parameter set contributed to independently.
type Chunk struct {
	ChunkID       uint64
	LockHolder    *Participant
	Contributions []Contribution
}

// LockedBy reports whether p currently holds the chunk lock.
func (c *Chunk) LockedBy(p Participant) bool {
	return c.LockHolder != nil && *c.LockHolder == p
}

// NextContributionID returns the id the next appended contribution must
// carry, per invariant C4: dense unless the final contribution exists and
// is unverified, in which case a verifier may lock without incrementing.
func (c *Chunk) NextContributionID() uint64 {
	n := len(c.Contributions)
	if n > 0 && !c.Contributions[n-1].Verified {
		return uint64(n - 1)
	}
	return uint64(n)
}

// Round is the per-height aggregate of all chunks, contributors, and
// verifiers authorized for that height.
type Round struct {
	Height         RoundHeight
	StartedAt      time.Time
	Contributors   []Participant
	Verifiers      []Participant
	ChunkVerifiers []Participant
	Chunks         []Chunk
}

// ContributionState is the canonical payload signed by a contributor or
// verifier over a contribution artifact.
type ContributionState struct {
	ChallengeHash    []byte
	ResponseHash     []byte
	NewChallengeHash []byte // optional, set only for the final chunk of a round
}

// ContributionFileSignature pairs a ContributionState with the signature
// computed over its canonical encoding.
type ContributionFileSignature struct {
	State     ContributionState
	Signature string
}

// LockedLocators is returned to a client on lock acquisition.
type LockedLocators struct {
	CurrentContribution       Locator
	NextContribution          Locator
	NextContributionSignature string
}

// ContributionInfo is metadata submitted alongside a contribution artifact.
type ContributionInfo struct {
	FullName                 *string
	Email                    *string
	JoinedQueueAt            time.Time
	ChallengeLockedAt        time.Time
	ChallengeDownloadedAt    time.Time
	StartComputationAt       time.Time
	EndComputationAt         time.Time
	EndContributionAt        time.Time
	CeremonyRound            RoundHeight
	ContributionFileHash     string
	ContributionFileSignature string
	ContributionHash         string
	ContributionSignature    string
	PublicKey                string
}

// Task is a unit of pending work assigned to an active participant.
type Task struct {
	ChunkID        uint64
	ContributionID uint64
}
