package api

import (
	"github.com/trusted-setup/phase1-coordinator/ceremony"
	"github.com/trusted-setup/phase1-coordinator/queue"
)

// joinQueueRequest is the body of POST /contributor/join_queue.
type joinQueueRequest struct {
	PublicKey string `json:"pubkey"`
}

// lockChunkRequest is the body of POST /contributor/lock_chunk.
type lockChunkRequest struct {
	PublicKey string `json:"pubkey"`
}

// postChunkRequest is the body of POST /upload/chunk.
type postChunkRequest struct {
	ContributionLocator              ceremony.Locator `json:"contribution_locator"`
	Contribution                     []byte           `json:"contribution"`
	ContributionFileSignatureLocator ceremony.Locator `json:"contribution_file_signature_locator"`
	ContributionFileSignature        []byte           `json:"contribution_file_signature"`
}

// contributeChunkRequest is the body of POST /contributor/contribute_chunk.
type contributeChunkRequest struct {
	PublicKey string `json:"pubkey"`
	ChunkID   uint64 `json:"chunk_id"`
}

// contributeChunkResponse echoes the locator the contribution was
// committed under.
type contributeChunkResponse struct {
	ContributionLocator ceremony.Locator `json:"contribution_locator"`
}

// heartbeatRequest is the body of POST /contributor/heartbeat.
type heartbeatRequest struct {
	PublicKey string `json:"pubkey"`
}

// queueStatusResponse is the polling variant returned to a contributor.
type queueStatusResponse struct {
	Status   string `json:"status"`
	Position int    `json:"position,omitempty"`
	Size     int    `json:"size,omitempty"`
}

func statusName(kind queue.QueueStatusKind) string {
	switch kind {
	case queue.KindQueue:
		return "Queue"
	case queue.KindRound:
		return "Round"
	case queue.KindFinished:
		return "Finished"
	case queue.KindBanned:
		return "Banned"
	default:
		return "Other"
	}
}
