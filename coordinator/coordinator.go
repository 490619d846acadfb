package coordinator

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/trusted-setup/phase1-coordinator/adapters"
	"github.com/trusted-setup/phase1-coordinator/ceremony"
	"github.com/trusted-setup/phase1-coordinator/dispatch"
	"github.com/trusted-setup/phase1-coordinator/engine"
	clog "github.com/trusted-setup/phase1-coordinator/log"
	"github.com/trusted-setup/phase1-coordinator/node"
	"github.com/trusted-setup/phase1-coordinator/queue"
	"github.com/trusted-setup/phase1-coordinator/storage"
)

// Coordinator is the single entry point for the ceremony: one
// sync.RWMutex guards the in-memory current round plus the queue and
// dispatcher, mirroring the teacher's node.Node single-mutex
// convention. Every exported method documents which side of the lock
// it takes.
type Coordinator struct {
	mu sync.RWMutex

	cfg Config
	log *clog.Logger

	store      *storage.Store
	queue      *queue.Queue
	dispatcher *dispatch.Dispatcher
	engine     *engine.Engine

	round  *ceremony.Round
	height ceremony.RoundHeight

	contributions []ceremony.ContributionInfo

	services *node.ServiceRegistry
	recovery *node.RecoveryPolicy
	health   *node.HealthChecker
	events   *node.EventBus
	metrics  *prometheus.Registry

	adminToken string
}

// Open builds a Coordinator from cfg: opens storage, runs Initialize if
// this is the first start, and loads the current round into memory.
func Open(cfg Config) (*Coordinator, error) {
	store, err := storage.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	env := adapters.NewEnvironment("phase1-ceremony")
	e := engine.New(store, env)
	if err := e.Initialize(time.Now(), cfg.Round.NumberOfChunks); err != nil {
		store.Close()
		return nil, err
	}

	height, ok, err := store.Height()
	if err != nil {
		store.Close()
		return nil, err
	}
	var round *ceremony.Round
	if ok {
		round, ok, err = store.Round(height)
		if err != nil {
			store.Close()
			return nil, err
		}
		if !ok {
			store.Close()
			return nil, ceremony.NewError(ceremony.ErrStorageFailed, "current round missing from storage")
		}
	}

	c := &Coordinator{
		cfg:        cfg,
		log:        clog.Default().Module("coordinator"),
		store:      store,
		queue:      queue.NewQueue(cfg.Queue.PerIPCapacity, cfg.HeartbeatTimeout(), cfg.Queue.MaxEvictions),
		dispatcher: dispatch.NewDispatcher(),
		engine:     e,
		round:      round,
		height:     height,
		services:   node.NewServiceRegistry(0),
		recovery:   node.NewRecoveryPolicy(),
		health:     node.NewHealthChecker(),
		events:     node.NewEventBus(256),
		metrics:    prometheus.NewRegistry(),
		adminToken: cfg.HTTP.AdminToken,
	}
	c.health.SetStartTime(time.Now().Unix())
	c.health.RegisterSubsystem("storage", subsystemCheckerFunc(c.storageHealth))
	c.health.RegisterSubsystem("queue", subsystemCheckerFunc(c.queueHealth))
	for _, collector := range c.queue.Collectors() {
		c.metrics.MustRegister(collector)
	}
	return c, nil
}

// Metrics returns the Prometheus registry backing GET /metrics.
func (c *Coordinator) Metrics() *prometheus.Registry {
	return c.metrics
}

// Close shuts down background services and storage. Services are
// stopped in reverse-registration order through a node.GracefulShutdown
// bounded by a timeout, rather than directly through the registry, so a
// wedged service can't hang the coordinator's shutdown indefinitely.
func (c *Coordinator) Close() error {
	gs := node.NewGracefulShutdown(c.cfg.UpdateInterval() * 5)
	for _, name := range c.services.Names() {
		desc, err := c.services.GetService(name)
		if err != nil {
			continue
		}
		gs.RegisterService(name, desc.Service, desc.Dependencies, c.services.GetState(name) == node.StateRunning)
	}
	for _, err := range gs.Execute() {
		c.log.Error("graceful shutdown", "err", err)
	}
	c.events.Close()
	return c.store.Close()
}

type subsystemCheckerFunc func() *node.SubsystemHealth

func (f subsystemCheckerFunc) Check() *node.SubsystemHealth { return f() }

func (c *Coordinator) storageHealth() *node.SubsystemHealth {
	now := time.Now().Unix()
	if _, _, err := c.store.Height(); err != nil {
		return &node.SubsystemHealth{Name: "storage", Status: node.StatusUnhealthy, Message: err.Error(), LastCheck: now}
	}
	return &node.SubsystemHealth{Name: "storage", Status: node.StatusHealthy, LastCheck: now}
}

func (c *Coordinator) queueHealth() *node.SubsystemHealth {
	return &node.SubsystemHealth{Name: "queue", Status: node.StatusHealthy, LastCheck: time.Now().Unix()}
}

// HealthReport returns the aggregate health of the coordinator's
// subsystems, served at GET /healthz.
func (c *Coordinator) HealthReport() *node.HealthReport {
	return c.health.CheckAll()
}

// JoinQueue admits a contributor into the participant queue. Write
// handler: takes c.mu for writing.
func (c *Coordinator) JoinQueue(pubkey, ip string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	participant := ceremony.Contributor(pubkey)
	if err := c.queue.AddToQueue(participant, ip); err != nil {
		return err
	}
	c.events.PublishAsync(node.EventContributorJoined, participant)
	return nil
}

// QueueStatus reports the polling variant for pubkey. Read handler:
// takes c.mu for reading.
func (c *Coordinator) QueueStatus(pubkey string) queue.QueueStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.queue.ContributorQueueStatus(ceremony.Contributor(pubkey))
}

// LockChunk attempts to acquire the lock for pubkey's next pending task
// and returns the locators for the challenge to download and the
// response to upload. Write handler: takes c.mu for writing, since it
// mutates chunk lock state.
func (c *Coordinator) LockChunk(pubkey string) (*ceremony.LockedLocators, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.round == nil {
		return nil, ceremony.NewError(ceremony.ErrRoundNotComplete, "no active round")
	}
	participant := ceremony.Contributor(pubkey)
	if !c.round.IsAuthorizedContributor(participant) {
		return nil, ceremony.NewError(ceremony.ErrUnauthorizedChunkContributor, "not authorized for current round")
	}
	if !c.queue.IsActive(participant) {
		return nil, ceremony.NewError(ceremony.ErrUnauthorizedChunkContributor, "participant is not an active queue slot")
	}
	return c.dispatcher.TryLock(c.round, c.height, participant)
}

// Challenge reads the artifact bytes addressed by locator. Read
// handler: takes c.mu for reading.
func (c *Coordinator) Challenge(locator ceremony.Locator) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.Artifact(locator.Path())
}

// UploadChunk persists an uploaded response artifact and its
// signature at locator, without finalizing the contribution. Write
// handler: takes c.mu for writing (durable storage mutation).
func (c *Coordinator) UploadChunk(locator ceremony.Locator, bytes, signature []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return dispatch.WriteContribution(c.store, locator, bytes, signature)
}

// ContributeChunk finalizes pubkey's contribution to chunkID: the
// locator is derived from the lock the participant already holds (set
// up by LockChunk and written to by UploadChunk), not supplied by the
// caller, so a client cannot smuggle a mismatched locator in. Advances
// the round's bookkeeping and marks the chunk awaiting verification.
// Write handler: takes c.mu for writing.
func (c *Coordinator) ContributeChunk(pubkey string, chunkID uint64) (ceremony.Locator, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.round == nil {
		return ceremony.Locator{}, ceremony.NewError(ceremony.ErrRoundNotComplete, "no active round")
	}
	participant := ceremony.Contributor(pubkey)
	chunk, err := c.round.GetChunk(chunkID)
	if err != nil {
		return ceremony.Locator{}, err
	}
	locator := ceremony.NewLocator(c.height, chunkID, chunk.NextContributionID())

	if err := c.dispatcher.TryContribute(c.round, c.height, participant, chunkID, locator); err != nil {
		return ceremony.Locator{}, err
	}
	if err := c.store.PutRound(c.round); err != nil {
		return ceremony.Locator{}, err
	}
	if err := c.store.Save(); err != nil {
		return ceremony.Locator{}, err
	}
	c.queue.MarkContributed(participant)
	if c.dispatcher.TasksLeft(participant) == 0 {
		c.queue.MarkFinished(participant)
	}
	return locator, nil
}

// Heartbeat refreshes pubkey's liveness timestamp. Write handler:
// takes c.mu for writing.
func (c *Coordinator) Heartbeat(pubkey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Heartbeat(ceremony.Contributor(pubkey))
}

// TasksLeft returns the number of pending tasks remaining for pubkey.
// Read handler: takes c.mu for reading.
func (c *Coordinator) TasksLeft(pubkey string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dispatcher.TasksLeft(ceremony.Contributor(pubkey))
}

// ForceUpdate runs one queue-tick: promotes queued contributors into
// active slots and evicts silent ones. Admin write handler: takes
// c.mu for writing.
func (c *Coordinator) ForceUpdate() []queue.EvictionResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.forceUpdateLocked()
}

// forceUpdateLocked runs one queue tick. An evicted participant always
// has its held chunk lock released immediately (spec.md §4.3). What
// happens to their unfinished chunk assignments then depends on
// Config.Queue.AllowDropouts (SPEC_FULL.md §10): when enabled, the
// coordinator immediately backfills the freed active slot from the
// queue and hands the evicted participant's remaining tasks to their
// replacement; when disabled (the default), the tasks are simply
// discarded and the round will not complete until an operator
// restarts it with a corrected contributor set, per spec.md §5's
// "round fails and is restarted by operator action".
func (c *Coordinator) forceUpdateLocked() []queue.EvictionResult {
	activeCapacity := 0
	if c.round != nil {
		activeCapacity = len(c.round.Contributors)
	}
	evicted := c.queue.Update(activeCapacity)
	for _, ev := range evicted {
		if ev.Banned {
			c.events.PublishAsync(node.EventContributorBanned, ev.Participant)
		}
		if c.round != nil {
			c.round.ReleaseLocksHeldBy(ev.Participant)
		}

		backfilled := false
		if c.cfg.Queue.AllowDropouts && c.round != nil {
			if replacement, ok := c.queue.PromoteNext(); ok {
				if c.round.ReplaceContributor(ev.Participant, replacement) {
					c.dispatcher.Reassign(ev.Participant, replacement)
					if err := c.store.PutRound(c.round); err != nil {
						c.log.Error("persist dropout backfill failed", "err", err)
					} else if err := c.store.Save(); err != nil {
						c.log.Error("persist dropout backfill failed", "err", err)
					}
					c.events.PublishAsync(node.EventContributorJoined, replacement)
					backfilled = true
				} else {
					// replacement was promoted but ev.Participant was never
					// an authorized contributor (e.g. a verifier eviction);
					// the promotion itself still stands, it just doesn't
					// inherit anyone's tasks.
					c.dispatcher.EnqueueTasks(replacement, uint64(c.round.NumberOfChunks()), func(chunkID uint64) uint64 {
						chunk, err := c.round.GetChunk(chunkID)
						if err != nil {
							return 0
						}
						return chunk.NextContributionID()
					})
				}
			}
		}
		if !backfilled {
			c.dispatcher.DiscardPendingTasks(ev.Participant)
		}
	}
	return evicted
}

// ForceVerify runs one verification sweep over every chunk at the
// current height awaiting verification. Admin write handler: takes
// c.mu for writing.
func (c *Coordinator) ForceVerify(verifier ceremony.Participant) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.round == nil {
		return nil
	}
	for _, chunkID := range c.dispatcher.ChunksAwaitingVerification(c.height) {
		if err := c.engine.VerifyChunk(c.dispatcher, c.round, c.height, chunkID, verifier); err != nil {
			c.log.Error("verify chunk failed", "chunk", chunkID, "err", err)
			continue
		}
		c.events.PublishAsync(node.EventChunkVerified, chunkID)
	}
	if c.round.IsComplete() {
		c.events.PublishAsync(node.EventRoundCompleted, c.height)
	}
	return nil
}

// Stop shuts down the coordinator's background services. Admin write
// handler.
func (c *Coordinator) Stop() error {
	return c.Close()
}

// NextRound aggregates the current round (if complete) and opens the
// next one with the given participant set, refreshing the in-memory
// round cache. Admin write handler: takes c.mu for writing.
func (c *Coordinator) NextRound(startedAt time.Time, contributors, verifiers, chunkVerifiers []ceremony.Participant) (ceremony.RoundHeight, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	height, err := c.engine.NextRound(startedAt, contributors, verifiers, chunkVerifiers)
	if err != nil {
		return 0, err
	}
	round, ok, err := c.store.Round(height)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ceremony.NewError(ceremony.ErrStorageFailed, "round missing immediately after NextRound")
	}
	c.round = round
	c.height = height

	for i, contributor := range contributors {
		assignedID := uint64(i + 1)
		c.dispatcher.EnqueueTasks(contributor, uint64(round.NumberOfChunks()), func(chunkID uint64) uint64 { return assignedID })
	}
	c.events.PublishAsync(node.EventRoundStarted, height)
	return height, nil
}

// CurrentRound returns the in-memory current round and its height.
// Read handler: takes c.mu for reading.
func (c *Coordinator) CurrentRound() (*ceremony.Round, ceremony.RoundHeight) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.round, c.height
}

// SubmitContributionInfo persists metadata submitted alongside a
// contribution artifact and appends it to the public audit list.
// Write handler: takes c.mu for writing.
func (c *Coordinator) SubmitContributionInfo(info ceremony.ContributionInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	encoded, err := json.Marshal(info)
	if err != nil {
		return ceremony.WrapError(ceremony.ErrUnknown, "encode contribution info", err)
	}
	key := contributionInfoKey(info.CeremonyRound, info.PublicKey)
	if err := c.store.PutArtifact(key, encoded); err != nil {
		return err
	}
	c.contributions = append(c.contributions, info)
	return nil
}

// Contributions returns every submitted ContributionInfo record, in
// submission order, for the public audit endpoint. Read handler:
// takes c.mu for reading.
func (c *Coordinator) Contributions() []ceremony.ContributionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ceremony.ContributionInfo, len(c.contributions))
	copy(out, c.contributions)
	return out
}

func contributionInfoKey(height ceremony.RoundHeight, publicKey string) string {
	return "contribution_info/round_" + strconv.FormatUint(height, 10) + "/" + publicKey
}

