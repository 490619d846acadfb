package client

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/trusted-setup/phase1-coordinator/adapters"
	"github.com/trusted-setup/phase1-coordinator/ceremony"
)

// computeJob is one contributor's request to run the CPU-heavy
// Computation.ContributeMasp step.
type computeJob struct {
	env           adapters.Environment
	challenge     []byte
	participantID string
	round         int
	rand          adapters.RandomSource
	result        chan computeResult
}

type computeResult struct {
	out []byte
	err error
}

// computePool runs compute jobs on a bounded set of workers so a
// contributor's status-polling and heartbeat goroutines are never
// starved by the pairing arithmetic in ContributeMasp (SPEC_FULL.md
// §4.8). Sized once per process at runtime.NumCPU(), shared by every
// Runner in the process — grounded on the teacher's pattern of
// offloading heavy work behind a channel rather than running it
// inline on a caller's goroutine.
type computePool struct {
	jobs chan computeJob
}

var (
	sharedPool     *computePool
	sharedPoolOnce sync.Once
)

func getComputePool() *computePool {
	sharedPoolOnce.Do(func() {
		workers := runtime.NumCPU()
		if workers < 1 {
			workers = 1
		}
		sharedPool = &computePool{jobs: make(chan computeJob, workers*2)}
		for i := 0; i < workers; i++ {
			go sharedPool.worker()
		}
	})
	return sharedPool
}

func (p *computePool) worker() {
	var comp adapters.Computation
	for job := range p.jobs {
		out, err := comp.ContributeMasp(job.env, job.challenge, job.participantID, job.round, job.rand)
		job.result <- computeResult{out: out, err: err}
	}
}

func (p *computePool) submit(env adapters.Environment, challenge []byte, participantID string, round int, rand adapters.RandomSource) ([]byte, error) {
	result := make(chan computeResult, 1)
	p.jobs <- computeJob{env: env, challenge: challenge, participantID: participantID, round: round, rand: rand, result: result}
	r := <-result
	return r.out, r.err
}

// computeInProcess runs the contribution step on the shared worker
// pool rather than blocking the caller's own goroutine.
func (r *Runner) computeInProcess(challenge []byte, round int) ([]byte, error) {
	return getComputePool().submit(r.env, challenge, r.pubkey, round, r.rand)
}

// computeOffline implements the "offline" branch of spec.md §4.8:
// writes the challenge to a fixed local file, waits for an external
// process (or a human) to produce the matching contribution file, and
// enforces the 15-minute offline window locally (Open Questions §9
// recommends enforcing it server-side via the heartbeat timeout; this
// is the client-side half of that same enforcement, surfaced as an
// explicit timeout rather than waiting forever).
func (r *Runner) computeOffline(challenge []byte) ([]byte, error) {
	challengePath := filepath.Join(r.workDir, "challenge.params")
	contribPath := filepath.Join(r.workDir, "contribution.params")

	os.Remove(contribPath)
	if err := os.WriteFile(challengePath, challenge, 0644); err != nil {
		return nil, ceremony.WrapError(ceremony.ErrUnknown, "write challenge.params", err)
	}
	r.log.Info("offline mode: write your contribution",
		"challenge", challengePath, "contribution", contribPath, "window", r.offlineWindow)

	deadline := time.Now().Add(r.offlineWindow)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		if info, err := os.Stat(contribPath); err == nil && info.Size() > 0 {
			return os.ReadFile(contribPath)
		}
		if time.Now().After(deadline) {
			return nil, ceremony.NewError(ceremony.ErrNetwork, "offline contribution window elapsed")
		}
		<-ticker.C
	}
}
