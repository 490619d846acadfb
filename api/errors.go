package api

import (
	"encoding/json"
	"net/http"

	"github.com/trusted-setup/phase1-coordinator/ceremony"
)

// errorBody is the {error: string} wire shape every non-2xx response
// carries.
type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps a CoordinatorError kind to its HTTP status, per the
// kind -> status table.
func statusFor(kind ceremony.ErrorKind) int {
	switch kind {
	case ceremony.ErrUnauthorizedChunkContributor, ceremony.ErrUnauthorizedChunkVerifier:
		return http.StatusForbidden
	case ceremony.ErrChunkLockAlreadyAcquired,
		ceremony.ErrChunkNotLockedOrByWrongParticipant,
		ceremony.ErrContributionIdMismatch,
		ceremony.ErrRoundHeightMismatch,
		ceremony.ErrRoundNotComplete:
		return http.StatusConflict
	case ceremony.ErrContributionLocatorMissing, ceremony.ErrContributionLocatorAlreadyExists:
		return http.StatusInternalServerError
	case ceremony.ErrContributionVerificationFailed:
		return http.StatusUnprocessableEntity
	case ceremony.ErrStorageFailed:
		return http.StatusInternalServerError
	case ceremony.ErrNetwork:
		return http.StatusBadGateway
	case ceremony.ErrInvalidChunkID, ceremony.ErrInvalidParticipant:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := ceremony.KindOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(kind))
	json.NewEncoder(w).Encode(errorBody{Error: kind.String()})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
