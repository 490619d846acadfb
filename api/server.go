// Package api serves the ceremony coordinator's REST surface: the
// contributor-facing endpoints of spec.md §6, the public audit
// endpoint, and the bearer-token-gated admin endpoints, grounded on
// the teacher's net/http + http.ServeMux dispatch pattern.
package api

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trusted-setup/phase1-coordinator/ceremony"
	"github.com/trusted-setup/phase1-coordinator/coordinator"
)

// Server is the HTTP front for a Coordinator.
type Server struct {
	coord      *coordinator.Coordinator
	mux        *http.ServeMux
	adminToken string
	verifier   ceremony.Participant
}

// NewServer builds a Server dispatching onto coord. verifier
// identifies the coordinator's own verifier identity, used when an
// admin /verify call runs a sweep.
func NewServer(coord *coordinator.Coordinator, adminToken string, verifier ceremony.Participant) *Server {
	s := &Server{coord: coord, mux: http.NewServeMux(), adminToken: adminToken, verifier: verifier}

	s.mux.HandleFunc("/contributor/join_queue", s.handleJoinQueue)
	s.mux.HandleFunc("/contributor/queue_status", s.handleQueueStatus)
	s.mux.HandleFunc("/contributor/lock_chunk", s.handleLockChunk)
	s.mux.HandleFunc("/contributor/challenge", s.handleChallenge)
	s.mux.HandleFunc("/upload/chunk", s.handleUploadChunk)
	s.mux.HandleFunc("/contributor/contribute_chunk", s.handleContributeChunk)
	s.mux.HandleFunc("/contributor/heartbeat", s.handleHeartbeat)
	s.mux.HandleFunc("/contributor/contribution_info", s.handleContributionInfo)
	s.mux.HandleFunc("/contributor/get_tasks_left", s.handleTasksLeft)
	s.mux.HandleFunc("/contributions", s.handleContributions)
	s.mux.HandleFunc("/update", s.adminGuard(s.handleUpdate))
	s.mux.HandleFunc("/verify", s.adminGuard(s.handleVerify))
	s.mux.HandleFunc("/stop", s.adminGuard(s.handleStop))
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.Handle("/metrics", promhttp.HandlerFor(coord.Metrics(), promhttp.HandlerOpts{}))

	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// adminGuard requires a bearer token equal to s.adminToken, compared
// in constant time, before invoking next.
func (s *Server) adminGuard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			writeError(w, ceremony.NewError(ceremony.ErrUnauthorizedChunkVerifier, "invalid admin token"))
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

func (s *Server) handleJoinQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req joinQueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, ceremony.NewError(ceremony.ErrInvalidParticipant, "invalid request body"))
		return
	}
	ip := r.RemoteAddr
	if err := s.coord.JoinQueue(req.PublicKey, ip); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	pubkey := r.URL.Query().Get("pubkey")
	status := s.coord.QueueStatus(pubkey)
	writeJSON(w, queueStatusResponse{Status: statusName(status.Kind), Position: status.Position, Size: status.Size})
}

func (s *Server) handleLockChunk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req lockChunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, ceremony.NewError(ceremony.ErrInvalidParticipant, "invalid request body"))
		return
	}
	locked, err := s.coord.LockChunk(req.PublicKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, locked)
}

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	locator, err := locatorFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	data, err := s.coord.Challenge(locator)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	io.Copy(w, bytes.NewReader(data))
}

func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req postChunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, ceremony.NewError(ceremony.ErrInvalidParticipant, "invalid request body"))
		return
	}
	if _, err := s.coord.UploadChunk(req.ContributionLocator, req.Contribution, req.ContributionFileSignature); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleContributeChunk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req contributeChunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, ceremony.NewError(ceremony.ErrInvalidParticipant, "invalid request body"))
		return
	}
	locator, err := s.coord.ContributeChunk(req.PublicKey, req.ChunkID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, contributeChunkResponse{ContributionLocator: locator})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, ceremony.NewError(ceremony.ErrInvalidParticipant, "invalid request body"))
		return
	}
	if err := s.coord.Heartbeat(req.PublicKey); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleContributionInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var info ceremony.ContributionInfo
	if err := json.NewDecoder(r.Body).Decode(&info); err != nil {
		writeError(w, ceremony.NewError(ceremony.ErrInvalidParticipant, "invalid request body"))
		return
	}
	if err := s.coord.SubmitContributionInfo(info); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleTasksLeft(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	pubkey := r.URL.Query().Get("pubkey")
	writeJSON(w, s.coord.TasksLeft(pubkey))
}

func (s *Server) handleContributions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.coord.Contributions())
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	s.coord.ForceUpdate()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.ForceVerify(s.verifier); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	go s.coord.Stop()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.coord.HealthReport())
}

func locatorFromQuery(r *http.Request) (ceremony.Locator, error) {
	q := r.URL.Query()
	height, err := strconv.ParseUint(q.Get("round"), 10, 64)
	if err != nil {
		return ceremony.Locator{}, ceremony.NewError(ceremony.ErrInvalidChunkID, "invalid round")
	}
	chunk, err := strconv.ParseUint(q.Get("chunk"), 10, 64)
	if err != nil {
		return ceremony.Locator{}, ceremony.NewError(ceremony.ErrInvalidChunkID, "invalid chunk")
	}
	contribution, err := strconv.ParseUint(q.Get("contribution"), 10, 64)
	if err != nil {
		return ceremony.Locator{}, ceremony.NewError(ceremony.ErrInvalidChunkID, "invalid contribution")
	}
	loc := ceremony.NewLocator(height, chunk, contribution)
	if q.Get("verified") == "true" {
		loc = loc.Verify()
	}
	return loc, nil
}
