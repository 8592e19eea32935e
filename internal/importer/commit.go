package importer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/smart-import/internal/advisory"
	"github.com/ignite/smart-import/internal/datanorm"
	"github.com/ignite/smart-import/internal/metrics"
	"github.com/ignite/smart-import/internal/pkg/logger"
	"github.com/ignite/smart-import/internal/storage"
)

// PendingAdvisory collects the background advisory checks of one import,
// one per platform.
type PendingAdvisory struct {
	checks []*advisory.Pending
}

// Wait blocks until every check has a report or ctx ends; checks still
// running at that point resolve to the local report.
func (p *PendingAdvisory) Wait(ctx context.Context) []*advisory.Report {
	if p == nil {
		return nil
	}
	out := make([]*advisory.Report, 0, len(p.checks))
	for _, c := range p.checks {
		out = append(out, c.Wait(ctx))
	}
	return out
}

// Cancel stops every remote call still in flight.
func (p *PendingAdvisory) Cancel() {
	if p == nil {
		return
	}
	for _, c := range p.checks {
		c.Cancel()
	}
}

type platformTally struct {
	imported int
	failed   int
	kinds    map[datanorm.ContentKind]bool
	files    map[string]bool
}

// Proceed reconciles and commits an import awaiting proceed. Commit
// failures are reported per group on the outcome, never as an error. The
// advisory checks run in the background and are returned unresolved.
func (o *Orchestrator) Proceed(ctx context.Context, im *Import) (*Outcome, *PendingAdvisory, error) {
	if im.State != StateAwaitingProceed {
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidState, im.State)
	}
	if im.HasBlockingErrors() {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnresolvedErrors, strings.Join(im.BlockingFiles(), ", "))
	}

	o.setState(im, StateReconciling)
	start := time.Now()
	records, summary := datanorm.Reconcile(im.Files)
	metrics.ObserveStage(string(StateReconciling), time.Since(start))

	o.setState(im, StateCommitting)
	start = time.Now()
	groups, tallies := o.commit(ctx, im, records)
	metrics.ObserveStage(string(StateCommitting), time.Since(start))

	out := &Outcome{
		ImportID:     im.ID,
		State:        StateDone,
		DateRange:    summary.DateRange,
		ContentKinds: summary.ContentKinds,
		Groups:       groups,
		Totals:       summary.Totals,
	}
	for _, r := range im.Files {
		if !r.Skipped {
			out.FilesProcessed++
		}
		out.PerFileResults = append(out.PerFileResults, summarizeFile(r))
	}
	for _, g := range groups {
		out.RecordsImported += g.Succeeded
		out.RecordsFailed += g.Failed
	}
	im.Outcome = out
	o.setState(im, StateDone)

	logger.Info("import committed", "import_id", im.ID, "client_id", im.ClientID,
		"records_imported", out.RecordsImported, "records_failed", out.RecordsFailed, "groups", len(groups))

	return out, o.startAdvisory(im, out, tallies), nil
}

// commit writes each kind group concurrently; records inside a group go
// in reconciled order. Per-platform tallies feed the advisory requests.
func (o *Orchestrator) commit(ctx context.Context, im *Import, records []datanorm.NormalizedRecord) ([]GroupResult, map[datanorm.Platform]*platformTally) {
	byKind := map[datanorm.ContentKind][]datanorm.NormalizedRecord{}
	var kinds []datanorm.ContentKind
	for _, rec := range records {
		if _, ok := byKind[rec.Kind]; !ok {
			kinds = append(kinds, rec.Kind)
		}
		byKind[rec.Kind] = append(byKind[rec.Kind], rec)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	var (
		mu      sync.Mutex
		tallies = map[datanorm.Platform]*platformTally{}
	)
	tally := func(p datanorm.Platform) *platformTally {
		t, ok := tallies[p]
		if !ok {
			t = &platformTally{kinds: map[datanorm.ContentKind]bool{}, files: map[string]bool{}}
			tallies[p] = t
		}
		return t
	}

	results := make([]GroupResult, len(kinds))
	var g errgroup.Group
	for i, kind := range kinds {
		g.Go(func() error {
			group := byKind[kind]
			gr := GroupResult{Kind: kind, Table: group[0].Table}
			for _, part := range splitByPlatform(group) {
				res, err := storage.Commit(ctx, o.store, part)
				gr.Succeeded += res.Succeeded
				gr.Failed += res.Failed
				if err != nil {
					gr.Failed += len(part) - res.Succeeded - res.Failed
					res.Failed = len(part) - res.Succeeded
					if res.FirstError == nil {
						res.FirstError = err
					}
				}
				if res.FirstError != nil && gr.Error == "" {
					gr.Error = res.FirstError.Error()
				}

				mu.Lock()
				t := tally(part[0].Platform)
				t.imported += res.Succeeded
				t.failed += res.Failed
				t.kinds[kind] = true
				for _, rec := range part {
					t.files[rec.SourceFile] = true
				}
				mu.Unlock()
			}
			results[i] = gr
			metrics.ObserveCommit(kind, gr.Succeeded, gr.Failed)
			logger.Info("commit group", "import_id", im.ID, "kind", string(kind),
				"succeeded", gr.Succeeded, "failed", gr.Failed)
			if gr.Error != "" {
				logger.Warn("commit group had failures", "import_id", im.ID, "kind", string(kind), "error", gr.Error)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, tallies
}

// splitByPlatform partitions a group while keeping record order.
func splitByPlatform(records []datanorm.NormalizedRecord) [][]datanorm.NormalizedRecord {
	index := map[datanorm.Platform]int{}
	var out [][]datanorm.NormalizedRecord
	for _, rec := range records {
		i, ok := index[rec.Platform]
		if !ok {
			i = len(out)
			index[rec.Platform] = i
			out = append(out, nil)
		}
		out[i] = append(out[i], rec)
	}
	return out
}

func (o *Orchestrator) startAdvisory(im *Import, out *Outcome, tallies map[datanorm.Platform]*platformTally) *PendingAdvisory {
	if o.advisor == nil {
		return nil
	}
	platforms := make([]datanorm.Platform, 0, len(tallies))
	for p := range tallies {
		platforms = append(platforms, p)
	}
	sort.Slice(platforms, func(i, j int) bool { return platforms[i] < platforms[j] })

	pending := &PendingAdvisory{}
	for _, p := range platforms {
		t := tallies[p]
		req := advisory.Request{
			ClientID:      im.ClientID,
			Platform:      p,
			ImportedCount: t.imported,
			FailedCount:   t.failed,
			DateRange:     out.DateRange,
			FileName:      strings.Join(sortedKeys(t.files), ", "),
			Totals:        map[datanorm.ContentKind]map[string]float64{},
		}
		for _, k := range out.ContentKinds {
			if t.kinds[k] {
				req.ImportTypes = append(req.ImportTypes, k)
				req.Totals[k] = out.Totals[k]
			}
		}
		pending.checks = append(pending.checks, advisory.Start(o.advisor, req, o.opts.AdvisoryTimeout, nil))
	}
	return pending
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
