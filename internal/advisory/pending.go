package advisory

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/smart-import/internal/metrics"
	"github.com/ignite/smart-import/internal/pkg/logger"
)

// Pending is an advisory check running in the background. The caller's
// context is never used for the call itself, so returning a response to
// the user does not cancel it.
type Pending struct {
	req    Request
	done   chan struct{}
	once   sync.Once
	report *Report
	cancel context.CancelFunc
}

// Start runs advisor.Analyze with its own timeout. onDone, if set, is
// called once with the final report (remote or fallback).
func Start(advisor Advisor, req Request, timeout time.Duration, onDone func(*Report)) *Pending {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	p := &Pending{req: req, done: make(chan struct{}), cancel: cancel}

	go func() {
		defer cancel()
		report, err := advisor.Analyze(ctx, req)
		fallback := err != nil || report == nil
		if fallback {
			logger.Warn("advisory check unavailable, using local summary",
				"provider", advisor.Name(), "client_id", req.ClientID, "platform", req.Platform, "error", err)
			report = LocalAdvisor{}.Report(req)
		}
		metrics.ObserveAdvisory(advisor.Name(), fallback)
		p.finish(report)
		if onDone != nil {
			onDone(report)
		}
	}()
	return p
}

func (p *Pending) finish(r *Report) {
	p.once.Do(func() {
		p.report = r
		close(p.done)
	})
}

// Done is closed once a report is available.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait returns the provider's report, or the local report if ctx ends
// first. It never returns nil.
func (p *Pending) Wait(ctx context.Context) *Report {
	select {
	case <-p.done:
		return p.report
	case <-ctx.Done():
		return LocalAdvisor{}.Report(p.req)
	}
}

// Cancel abandons the remote call; the pending check resolves to the
// local report.
func (p *Pending) Cancel() { p.cancel() }
