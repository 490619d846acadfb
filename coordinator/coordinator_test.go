package coordinator

import (
	"testing"
	"time"

	"github.com/trusted-setup/phase1-coordinator/adapters"
	"github.com/trusted-setup/phase1-coordinator/ceremony"
)

func openTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Round.NumberOfChunks = 1
	c, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestJoinQueueAndStatus(t *testing.T) {
	c := openTestCoordinator(t)

	if err := c.JoinQueue("alice", "10.0.0.1"); err != nil {
		t.Fatalf("JoinQueue: %v", err)
	}
	status := c.QueueStatus("alice")
	if status.Kind != 0 { // KindQueue
		t.Fatalf("expected KindQueue, got %v", status.Kind)
	}

	// Duplicate join is a no-op.
	if err := c.JoinQueue("alice", "10.0.0.1"); err != nil {
		t.Fatalf("duplicate JoinQueue: %v", err)
	}
}

func TestLockChunkRejectsUnauthorizedContributor(t *testing.T) {
	c := openTestCoordinator(t)
	if _, err := c.LockChunk("stranger"); err == nil {
		t.Fatal("expected error for unauthorized contributor")
	}
}

func TestFullContributionCycleThroughCoordinator(t *testing.T) {
	c := openTestCoordinator(t)

	alice := ceremony.Contributor("alice")
	verifier := ceremony.Verifier("v1")

	if err := c.JoinQueue("alice", "10.0.0.1"); err != nil {
		t.Fatalf("JoinQueue: %v", err)
	}

	height, err := c.NextRound(time.Unix(1, 0),
		[]ceremony.Participant{alice},
		[]ceremony.Participant{verifier},
		[]ceremony.Participant{verifier})
	if err != nil {
		t.Fatalf("NextRound: %v", err)
	}
	if height != 1 {
		t.Fatalf("expected height 1, got %d", height)
	}
	c.ForceUpdate() // promotes alice into the active slot

	locked, err := c.LockChunk("alice")
	if err != nil {
		t.Fatalf("LockChunk: %v", err)
	}

	challenge, err := c.Challenge(locked.CurrentContribution)
	if err != nil {
		t.Fatalf("Challenge: %v", err)
	}

	response, err := (adapters.Computation{}).ContributeMasp(adapters.NewEnvironment("test"), challenge, "alice", 1, adapters.EntropySource("alice"))
	if err != nil {
		t.Fatalf("ContributeMasp: %v", err)
	}

	if _, err := c.UploadChunk(locked.NextContribution, response, []byte("sig")); err != nil {
		t.Fatalf("UploadChunk: %v", err)
	}
	if _, err := c.ContributeChunk("alice", 0); err != nil {
		t.Fatalf("ContributeChunk: %v", err)
	}

	if err := c.ForceVerify(verifier); err != nil {
		t.Fatalf("ForceVerify: %v", err)
	}

	round, _ := c.CurrentRound()
	if !round.IsComplete() {
		t.Fatal("round should be complete after verification")
	}
	if left := c.TasksLeft("alice"); left != 0 {
		t.Fatalf("expected 0 tasks left, got %d", left)
	}
}

func TestStartServicesAndCloseShutsDownCleanly(t *testing.T) {
	c := openTestCoordinator(t)
	if err := c.StartServices(ceremony.Verifier("v1")); err != nil {
		t.Fatalf("StartServices: %v", err)
	}
	if got := c.services.RunningCount(); got != 2 {
		t.Fatalf("expected 2 running services, got %d", got)
	}
	// t.Cleanup (registered by openTestCoordinator) exercises Close.
}

func TestForceUpdateKeepsContributorQueuedWithoutRound(t *testing.T) {
	c := openTestCoordinator(t)
	if err := c.JoinQueue("bob", "10.0.0.2"); err != nil {
		t.Fatalf("JoinQueue: %v", err)
	}
	// No active round yet: activeCapacity is 0, so bob stays queued.
	c.ForceUpdate()
	status := c.QueueStatus("bob")
	if status.Kind != 0 {
		t.Fatalf("expected bob to remain queued with no active round, got %v", status.Kind)
	}
}

func TestForceUpdateBackfillsDropoutWhenAllowed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Round.NumberOfChunks = 1
	cfg.Queue.AllowDropouts = true
	cfg.Timeouts.HeartbeatSeconds = 0
	c, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	alice := ceremony.Contributor("alice")
	verifier := ceremony.Verifier("v1")
	if err := c.JoinQueue("alice", "10.0.0.1"); err != nil {
		t.Fatalf("JoinQueue alice: %v", err)
	}
	if _, err := c.NextRound(time.Unix(1, 0),
		[]ceremony.Participant{alice},
		[]ceremony.Participant{verifier},
		[]ceremony.Participant{verifier}); err != nil {
		t.Fatalf("NextRound: %v", err)
	}
	c.ForceUpdate() // promotes alice into the single active slot

	if err := c.JoinQueue("carol", "10.0.0.2"); err != nil {
		t.Fatalf("JoinQueue carol: %v", err)
	}

	time.Sleep(2 * time.Millisecond) // exceed the zero heartbeat timeout
	c.ForceUpdate()                  // evicts alice, backfills from carol

	round, _ := c.CurrentRound()
	if !round.IsAuthorizedContributor(ceremony.Contributor("carol")) {
		t.Fatal("expected carol to replace alice as an authorized contributor")
	}
	if round.IsAuthorizedContributor(alice) {
		t.Fatal("expected alice to be removed as an authorized contributor")
	}
	if left := c.TasksLeft("carol"); left != 1 {
		t.Fatalf("expected carol to inherit alice's 1 pending task, got %d", left)
	}
	if left := c.TasksLeft("alice"); left != 0 {
		t.Fatalf("expected alice to have no pending tasks left, got %d", left)
	}
}

func TestForceUpdateDiscardsDropoutWhenDisallowed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Round.NumberOfChunks = 1
	cfg.Timeouts.HeartbeatSeconds = 0
	c, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	alice := ceremony.Contributor("alice")
	verifier := ceremony.Verifier("v1")
	if err := c.JoinQueue("alice", "10.0.0.1"); err != nil {
		t.Fatalf("JoinQueue alice: %v", err)
	}
	if _, err := c.NextRound(time.Unix(1, 0),
		[]ceremony.Participant{alice},
		[]ceremony.Participant{verifier},
		[]ceremony.Participant{verifier}); err != nil {
		t.Fatalf("NextRound: %v", err)
	}
	c.ForceUpdate()

	if err := c.JoinQueue("carol", "10.0.0.2"); err != nil {
		t.Fatalf("JoinQueue carol: %v", err)
	}

	time.Sleep(2 * time.Millisecond)
	c.ForceUpdate()

	round, _ := c.CurrentRound()
	if !round.IsAuthorizedContributor(alice) {
		t.Fatal("expected alice to remain the authorized contributor when dropouts are disallowed")
	}
	if left := c.TasksLeft("alice"); left != 0 {
		t.Fatalf("expected alice's pending task to be discarded, got %d", left)
	}
}

func TestHealthReportReflectsStorage(t *testing.T) {
	c := openTestCoordinator(t)
	report := c.HealthReport()
	if report.OverallStatus != "healthy" {
		t.Fatalf("expected healthy report, got %s", report.OverallStatus)
	}
}
