package coordinator

import (
	"sync"
	"time"

	"github.com/trusted-setup/phase1-coordinator/ceremony"
	"github.com/trusted-setup/phase1-coordinator/node"
)

// tickerService runs fn on every tick of interval until Stop is
// called, satisfying node.Service so it can be driven by the
// coordinator's ServiceRegistry. A failing fn is backed off through
// recovery rather than retried on the very next tick.
type tickerService struct {
	name        string
	interval    time.Duration
	fn          func() error
	recovery    *node.RecoveryPolicy
	stop        chan struct{}
	done        chan struct{}
	stopOnce    sync.Once
	pausedUntil time.Time
}

func newTickerService(name string, interval time.Duration, recovery *node.RecoveryPolicy, fn func() error) *tickerService {
	recovery.Register(name, node.DefaultRecoveryConfig())
	return &tickerService{name: name, interval: interval, fn: fn, recovery: recovery}
}

func (t *tickerService) Name() string { return t.name }

func (t *tickerService) Start() error {
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	go func() {
		defer close(t.done)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-ticker.C:
				t.tick()
			}
		}
	}()
	return nil
}

// tick runs fn once, unless a prior failure's backoff hasn't elapsed
// yet. A fresh failure schedules the next allowed tick via the
// recovery policy; once retries are exhausted every further failure
// pauses ticks for MaxRetries+1 intervals before fn is tried again.
func (t *tickerService) tick() {
	if time.Now().Before(t.pausedUntil) {
		return
	}
	if err := t.fn(); err != nil {
		backoff, rerr := t.recovery.RecordFailure(t.name, err)
		if rerr != nil {
			t.pausedUntil = time.Now().Add(t.interval * time.Duration(node.DefaultRecoveryConfig().MaxRetries+1))
			return
		}
		t.pausedUntil = time.Now().Add(backoff)
		return
	}
	t.recovery.RecordSuccess(t.name)
}

func (t *tickerService) Stop() error {
	if t.stop == nil {
		return nil
	}
	t.stopOnce.Do(func() {
		close(t.stop)
		<-t.done
	})
	return nil
}

// StartServices registers and starts the queue-tick and verification-
// sweep background services, driven by the coordinator's
// node.ServiceRegistry and backed off through its node.RecoveryPolicy.
// verifier identifies the coordinator itself when it signs off on
// chunk verification.
func (c *Coordinator) StartServices(verifier ceremony.Participant) error {
	queueTick := newTickerService("queue-tick", c.cfg.UpdateInterval(), c.recovery, func() error {
		c.ForceUpdate()
		return nil
	})
	verifySweep := newTickerService("verify-sweep", c.cfg.UpdateInterval(), c.recovery, func() error {
		return c.ForceVerify(verifier)
	})

	if err := c.services.Register(&node.ServiceDescriptor{Name: queueTick.Name(), Service: queueTick, Priority: 0}); err != nil {
		return err
	}
	if err := c.services.Register(&node.ServiceDescriptor{Name: verifySweep.Name(), Service: verifySweep, Priority: 1}); err != nil {
		return err
	}
	if errs := c.services.Start(); len(errs) > 0 {
		return errs[0]
	}
	return nil
}
