// Package queue implements the participant queue: admission, position
// tracking, liveness, promotion, eviction, and banning ahead of a round.
package queue

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/trusted-setup/phase1-coordinator/ceremony"
)

// Status is the lifecycle state of a queued or active participant.
type Status int

const (
	StatusQueued Status = iota
	StatusActive
	StatusFinished
	StatusBanned
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "Queued"
	case StatusActive:
		return "Active"
	case StatusFinished:
		return "Finished"
	case StatusBanned:
		return "Banned"
	default:
		return "Unknown"
	}
}

// QueueStatusKind tags the variant returned by ContributorQueueStatus.
type QueueStatusKind int

const (
	KindQueue QueueStatusKind = iota
	KindRound
	KindFinished
	KindBanned
	KindOther
)

// QueueStatus is the sum type reported to a polling contributor.
type QueueStatus struct {
	Kind     QueueStatusKind
	Position int
	Size     int
}

// entry is the queue's internal record for one participant.
type entry struct {
	participant      ceremony.Participant
	ip               string
	position         int
	joinedAt         time.Time
	lastHeartbeat    time.Time
	status           Status
	evictionCount    int
	hasContributed   bool
}

// Queue admits, tracks, promotes, and evicts contributors ahead of a
// round. It is safe for concurrent use, though in this module all
// mutating calls are additionally made under the coordinator's single
// lock (§4.9); the internal mutex here guards against any direct,
// lock-free metrics/status reads.
type Queue struct {
	mu               sync.RWMutex
	entries          map[string]*entry // keyed by participant id (pubkey)
	order            []string          // FIFO join order, used to compute positions
	perIPCount       map[string]int
	capacity         int
	heartbeatTimeout time.Duration
	maxEvictions     int

	gaugeQueueSize  prometheus.Gauge
	gaugeActive     prometheus.Gauge
}

// NewQueue builds a Queue admitting up to perIPCapacity contributors per
// IP address, evicting active participants idle for more than
// heartbeatTimeout, and banning a participant after maxEvictions
// eviction cycles without a subsequent accepted contribution.
func NewQueue(perIPCapacity int, heartbeatTimeout time.Duration, maxEvictions int) *Queue {
	return &Queue{
		entries:          make(map[string]*entry),
		perIPCount:       make(map[string]int),
		capacity:         perIPCapacity,
		heartbeatTimeout: heartbeatTimeout,
		maxEvictions:     maxEvictions,
		gaugeQueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ceremony_queue_size",
			Help: "Number of contributors currently waiting in the queue.",
		}),
		gaugeActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ceremony_active_participants",
			Help: "Number of contributors currently holding an active task.",
		}),
	}
}

// Collectors returns the prometheus collectors for registration with a
// metrics registry.
func (q *Queue) Collectors() []prometheus.Collector {
	return []prometheus.Collector{q.gaugeQueueSize, q.gaugeActive}
}

// AddToQueue admits participant at ip, enforcing the per-IP capacity and
// rejecting duplicate joins idempotently (a second join_queue for an
// already-known participant is a no-op, not an error).
func (q *Queue) AddToQueue(participant ceremony.Participant, ip string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.entries[participant.ID]; exists {
		return nil
	}
	if q.perIPCount[ip] >= q.capacity {
		return ceremony.NewError(ceremony.ErrInvalidParticipant, "IP capacity exceeded")
	}

	now := time.Now()
	e := &entry{
		participant:   participant,
		ip:            ip,
		position:      len(q.order) + 1,
		joinedAt:      now,
		lastHeartbeat: now,
		status:        StatusQueued,
	}
	q.entries[participant.ID] = e
	q.order = append(q.order, participant.ID)
	q.perIPCount[ip]++
	q.refreshMetricsLocked()
	return nil
}

// ContributorQueueStatus reports the variant the polling client should
// see for participant.
func (q *Queue) ContributorQueueStatus(participant ceremony.Participant) QueueStatus {
	q.mu.RLock()
	defer q.mu.RUnlock()

	e, ok := q.entries[participant.ID]
	if !ok {
		return QueueStatus{Kind: KindOther}
	}
	switch e.status {
	case StatusQueued:
		return QueueStatus{Kind: KindQueue, Position: e.position, Size: q.queuedSizeLocked()}
	case StatusActive:
		return QueueStatus{Kind: KindRound}
	case StatusFinished:
		return QueueStatus{Kind: KindFinished}
	case StatusBanned:
		return QueueStatus{Kind: KindBanned}
	default:
		return QueueStatus{Kind: KindOther}
	}
}

func (q *Queue) queuedSizeLocked() int {
	n := 0
	for _, id := range q.order {
		if e := q.entries[id]; e != nil && e.status == StatusQueued {
			n++
		}
	}
	return n
}

// Heartbeat updates last_heartbeat for an active participant.
func (q *Queue) Heartbeat(participant ceremony.Participant) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[participant.ID]
	if !ok {
		return ceremony.NewError(ceremony.ErrInvalidParticipant, "unknown participant")
	}
	e.lastHeartbeat = time.Now()
	return nil
}

// MarkContributed records that participant successfully completed a
// contribution this cycle, resetting their eviction count.
func (q *Queue) MarkContributed(participant ceremony.Participant) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.entries[participant.ID]; ok {
		e.hasContributed = true
		e.evictionCount = 0
	}
}

// MarkFinished transitions participant to Finished, freeing their IP
// capacity slot.
func (q *Queue) MarkFinished(participant ceremony.Participant) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.entries[participant.ID]; ok {
		e.status = StatusFinished
		q.releaseIPSlotLocked(e)
	}
}

func (q *Queue) releaseIPSlotLocked(e *entry) {
	if q.perIPCount[e.ip] > 0 {
		q.perIPCount[e.ip]--
	}
}

// EvictionResult reports the outcome of an eviction sweep for a single
// participant, so the caller (engine/dispatcher) can release locks and
// discard pending tasks.
type EvictionResult struct {
	Participant ceremony.Participant
	Banned      bool
}

// Update promotes queued contributors into active slots while capacity
// allows, and evicts active participants that have gone silent past
// heartbeatTimeout. An evicted participant who has already been evicted
// maxEvictions times without an intervening contribution is banned
// instead of re-queued.
func (q *Queue) Update(activeCapacity int) []EvictionResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	var evicted []EvictionResult
	now := time.Now()

	activeCount := 0
	for _, id := range q.order {
		if e := q.entries[id]; e != nil && e.status == StatusActive {
			activeCount++
		}
	}

	// Promotion runs before eviction so a participant evicted this tick
	// is not immediately handed a fresh slot in the same call; they
	// compete for promotion again on the next tick. Promotion resets
	// last_heartbeat, since the clock on a new active slot starts now.
	for _, id := range q.order {
		if activeCount >= activeCapacity {
			break
		}
		e := q.entries[id]
		if e == nil || e.status != StatusQueued {
			continue
		}
		e.status = StatusActive
		e.lastHeartbeat = now
		activeCount++
	}

	for _, id := range q.order {
		e := q.entries[id]
		if e == nil || e.status != StatusActive {
			continue
		}
		if now.Sub(e.lastHeartbeat) <= q.heartbeatTimeout {
			continue
		}
		e.evictionCount++
		if e.evictionCount > q.maxEvictions {
			e.status = StatusBanned
			q.releaseIPSlotLocked(e)
			evicted = append(evicted, EvictionResult{Participant: e.participant, Banned: true})
			continue
		}
		e.status = StatusQueued
		e.position = len(q.order)
		evicted = append(evicted, EvictionResult{Participant: e.participant, Banned: false})
	}

	q.renumberLocked()
	q.refreshMetricsLocked()
	return evicted
}

func (q *Queue) renumberLocked() {
	pos := 0
	for _, id := range q.order {
		e := q.entries[id]
		if e == nil || e.status != StatusQueued {
			continue
		}
		pos++
		e.position = pos
	}
}

func (q *Queue) refreshMetricsLocked() {
	queued, active := 0, 0
	for _, id := range q.order {
		switch q.entries[id].status {
		case StatusQueued:
			queued++
		case StatusActive:
			active++
		}
	}
	q.gaugeQueueSize.Set(float64(queued))
	q.gaugeActive.Set(float64(active))
}

// PromoteNext promotes the head-of-line queued participant into an
// active slot immediately, outside the normal capacity-gated Update()
// pass. Used by the coordinator's dropout-backfill policy
// (Config.Queue.AllowDropouts) to fill a slot an eviction just freed within
// the same tick, rather than waiting for the next Update(). Returns
// false if no one is waiting.
func (q *Queue) PromoteNext() (ceremony.Participant, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range q.order {
		e := q.entries[id]
		if e != nil && e.status == StatusQueued {
			e.status = StatusActive
			e.lastHeartbeat = time.Now()
			q.renumberLocked()
			q.refreshMetricsLocked()
			return e.participant, true
		}
	}
	return ceremony.Participant{}, false
}

// IsActive reports whether participant currently holds an active slot.
func (q *Queue) IsActive(participant ceremony.Participant) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	e, ok := q.entries[participant.ID]
	return ok && e.status == StatusActive
}
