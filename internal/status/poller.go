// Package status polls the backend health probe on a fixed interval.
package status

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"docchat/internal/session"
)

// Poller probes the backend immediately on Start and then on a fixed
// repeating interval. A failed probe is logged and leaves the previously
// observed value stale; there is no backoff or retry.
type Poller struct {
	source   session.StatusService
	interval time.Duration
	cron     *cron.Cron
	ctx      context.Context
	cancel   context.CancelFunc

	mu       sync.RWMutex
	last     session.Status
	observed bool
	onUpdate func(session.Status)
}

func New(source session.StatusService, interval time.Duration) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		source:   source,
		interval: interval,
		cron:     cron.New(cron.WithLocation(time.UTC)),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetOnUpdate registers a callback invoked after every successful probe.
// Must be called before Start.
func (p *Poller) SetOnUpdate(f func(session.Status)) {
	p.onUpdate = f
}

// Start issues an immediate probe and schedules the repeating ones.
func (p *Poller) Start() error {
	p.poll()

	spec := fmt.Sprintf("@every %s", p.interval)
	if _, err := p.cron.AddFunc(spec, p.poll); err != nil {
		return err
	}
	p.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running probe to finish.
func (p *Poller) Stop() {
	if p.cron != nil {
		ctx := p.cron.Stop()
		<-ctx.Done()
	}
	if p.cancel != nil {
		p.cancel()
	}
}

// Last returns the most recently observed status. ok is false until the
// first successful probe.
func (p *Poller) Last() (st session.Status, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last, p.observed
}

func (p *Poller) poll() {
	ctx, cancel := context.WithTimeout(p.ctx, p.interval)
	defer cancel()

	st, err := p.source.Status(ctx)
	if err != nil {
		log.Printf("⚠️ status probe failed: %v", err)
		return
	}

	p.mu.Lock()
	p.last = st
	p.observed = true
	f := p.onUpdate
	p.mu.Unlock()

	if f != nil {
		f(st)
	}
}
