package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ignite/smart-import/internal/advisory"
	"github.com/ignite/smart-import/internal/datanorm"
	"github.com/ignite/smart-import/internal/metrics"
	"github.com/ignite/smart-import/internal/pkg/logger"
	"github.com/ignite/smart-import/internal/storage"
)

// Options configures an Orchestrator.
type Options struct {
	Workers         int
	ConfidenceFloor float64
	Pipeline        datanorm.Options
	AdvisoryTimeout time.Duration
}

// Orchestrator runs the pipeline stages. It holds only read-only state and
// is safe for concurrent use; each Import must be driven by one caller at
// a time.
type Orchestrator struct {
	classifier *datanorm.Classifier
	opts       Options
	store      storage.RecordStore
	advisor    advisory.Advisor
	newID      func() string
	now        func() time.Time
}

// New builds an orchestrator. A nil advisor disables the advisory check.
func New(store storage.RecordStore, advisor advisory.Advisor, opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.AdvisoryTimeout <= 0 {
		opts.AdvisoryTimeout = 30 * time.Second
	}
	if opts.Pipeline.Now == nil {
		opts.Pipeline.Now = time.Now
	}
	return &Orchestrator{
		classifier: datanorm.NewClassifier(opts.ConfidenceFloor),
		opts:       opts,
		store:      store,
		advisor:    advisor,
		newID:      uuid.NewString,
		now:        time.Now,
	}
}

// Classifier exposes the rule table used for classification.
func (o *Orchestrator) Classifier() *datanorm.Classifier { return o.classifier }

func (o *Orchestrator) workerLimit(n int) int {
	if n < o.opts.Workers {
		return n
	}
	return o.opts.Workers
}

// forEachFile runs fn on the bounded pool. Each call owns its result.
func (o *Orchestrator) forEachFile(ctx context.Context, n int, fn func(i int)) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workerLimit(n))
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			fn(i)
			return nil
		})
	}
	return g.Wait()
}

func (o *Orchestrator) setState(im *Import, s State) {
	im.State = s
	im.UpdatedAt = o.now().UTC()
	logger.Info("import stage", "import_id", im.ID, "client_id", im.ClientID, "stage", string(s), "files", len(im.Files))
}

// stage runs one pipeline step across every file and records its duration.
func (o *Orchestrator) stage(ctx context.Context, im *Import, s State, fn func(r *datanorm.FileValidationResult)) error {
	o.setState(im, s)
	start := time.Now()
	err := o.forEachFile(ctx, len(im.Files), func(i int) { fn(im.Files[i]) })
	metrics.ObserveStage(string(s), time.Since(start))
	if err != nil {
		return fmt.Errorf("%s: %w", s, err)
	}
	return nil
}

// validate takes a fresh import through decode, classify, normalize and
// validate. Failures are reported on the file results; only context
// cancellation returns an error.
func (o *Orchestrator) validate(ctx context.Context, im *Import, files []datanorm.RawFile) error {
	if len(files) == 0 {
		return ErrNoFiles
	}
	im.Files = make([]*datanorm.FileValidationResult, len(files))

	o.setState(im, StateDecoding)
	start := time.Now()
	err := o.forEachFile(ctx, len(files), func(i int) {
		r := datanorm.NewFileResult(im.ClientID, files[i], i)
		datanorm.DecodeFile(r, files[i].Data)
		im.Files[i] = r
	})
	metrics.ObserveStage(string(StateDecoding), time.Since(start))
	if err != nil {
		return fmt.Errorf("%s: %w", StateDecoding, err)
	}

	if err := o.stage(ctx, im, StateClassifying, func(r *datanorm.FileValidationResult) {
		if len(r.Headers) > 0 {
			datanorm.ClassifyFile(r, o.classifier)
		}
	}); err != nil {
		return err
	}
	if err := o.stage(ctx, im, StateNormalizing, func(r *datanorm.FileValidationResult) {
		if err := datanorm.NormalizeFile(r); err != nil {
			logger.Warn("normalize failed", "import_id", im.ID, "file", r.SourceFileName, "error", err)
		}
	}); err != nil {
		return err
	}
	if err := o.stage(ctx, im, StateValidating, func(r *datanorm.FileValidationResult) {
		if len(r.Headers) > 0 {
			datanorm.Validate(r, o.opts.Pipeline)
		}
	}); err != nil {
		return err
	}

	markDuplicates(im.Files)
	for _, r := range im.Files {
		metrics.ObserveFile(r)
	}
	return nil
}

// markDuplicates flags later uploads whose bytes match an earlier file.
func markDuplicates(files []*datanorm.FileValidationResult) {
	seen := map[string]string{}
	for _, r := range files {
		if orig, ok := seen[r.Checksum]; ok {
			datanorm.MarkDuplicate(r, orig)
			continue
		}
		seen[r.Checksum] = r.SourceFileName
	}
}

// ValidateFiles runs every validation stage and returns the results
// without creating an import.
func (o *Orchestrator) ValidateFiles(ctx context.Context, clientID string, files []datanorm.RawFile) ([]*datanorm.FileValidationResult, error) {
	im := &Import{ID: "validate-" + o.newID(), ClientID: clientID}
	if err := o.validate(ctx, im, files); err != nil {
		return nil, err
	}
	return im.Files, nil
}

// Run validates files into a new import awaiting proceed.
func (o *Orchestrator) Run(ctx context.Context, clientID string, files []datanorm.RawFile) (*Import, error) {
	now := o.now().UTC()
	im := &Import{ID: o.newID(), ClientID: clientID, CreatedAt: now, UpdatedAt: now}
	if err := o.validate(ctx, im, files); err != nil {
		return nil, err
	}
	o.setState(im, StateAwaitingProceed)
	return im, nil
}

// revalidate wraps a single-file edit on an import awaiting proceed.
func (o *Orchestrator) revalidate(im *Import, fileIdx int, edit func(r *datanorm.FileValidationResult) error) error {
	if im.State != StateAwaitingProceed {
		return fmt.Errorf("%w: %s", ErrInvalidState, im.State)
	}
	r, err := im.File(fileIdx)
	if err != nil {
		return err
	}
	o.setState(im, StateValidating)
	err = edit(r)
	o.setState(im, StateAwaitingProceed)
	if err != nil {
		return err
	}
	metrics.ObserveFile(r)
	return nil
}

// ApplyFix applies the fix offered by an issue on one file.
func (o *Orchestrator) ApplyFix(im *Import, fileIdx int, issueID string) error {
	return o.revalidate(im, fileIdx, func(r *datanorm.FileValidationResult) error {
		return datanorm.ApplyFix(r, issueID, o.opts.Pipeline)
	})
}

// ApplyCorrection sets one raw cell to a user-supplied value.
func (o *Orchestrator) ApplyCorrection(im *Import, fileIdx, row int, column, value string) error {
	return o.revalidate(im, fileIdx, func(r *datanorm.FileValidationResult) error {
		return datanorm.ApplyCorrection(r, row, column, value, o.opts.Pipeline)
	})
}

// ConfirmKind confirms or overrides the detected kind of one file.
func (o *Orchestrator) ConfirmKind(im *Import, fileIdx int, kind datanorm.ContentKind) error {
	return o.revalidate(im, fileIdx, func(r *datanorm.FileValidationResult) error {
		return datanorm.SetKind(r, kind, o.opts.Pipeline)
	})
}

// Cancel abandons an import that has not been committed.
func (o *Orchestrator) Cancel(im *Import) error {
	if im.State.Terminal() || im.State == StateReconciling || im.State == StateCommitting {
		return fmt.Errorf("%w: %s", ErrInvalidState, im.State)
	}
	o.setState(im, StateCancelled)
	return nil
}
