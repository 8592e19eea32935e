package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/smart-import/internal/advisory"
	"github.com/ignite/smart-import/internal/datanorm"
	"github.com/ignite/smart-import/internal/pkg/distlock"
	"github.com/ignite/smart-import/internal/pkg/logger"
	"github.com/ignite/smart-import/internal/session"
)

// Service keeps imports in a session store between requests so that
// validate, fix and proceed can land on different server instances. Every
// mutation holds the distributed lock "import:{id}".
type Service struct {
	orch     *Orchestrator
	sessions session.Store
	locks    distlock.Factory
	ttl      time.Duration
	bg       sync.WaitGroup
}

// NewService wires an orchestrator to session storage and locking.
func NewService(orch *Orchestrator, sessions session.Store, locks distlock.Factory, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{orch: orch, sessions: sessions, locks: locks, ttl: ttl}
}

// Orchestrator returns the underlying pipeline driver.
func (s *Service) Orchestrator() *Orchestrator { return s.orch }

func lockKey(id string) string { return "import:" + id }

// Validate runs the stateless validation pass.
func (s *Service) Validate(ctx context.Context, clientID string, files []datanorm.RawFile) ([]*datanorm.FileValidationResult, error) {
	return s.orch.ValidateFiles(ctx, clientID, files)
}

// Start validates files and stores the import awaiting proceed.
func (s *Service) Start(ctx context.Context, clientID string, files []datanorm.RawFile) (*Import, error) {
	im, err := s.orch.Run(ctx, clientID, files)
	if err != nil {
		return nil, err
	}
	if err := s.save(ctx, im); err != nil {
		return nil, err
	}
	return im, nil
}

// Get loads an import.
func (s *Service) Get(ctx context.Context, id string) (*Import, error) {
	data, err := s.sessions.Get(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var im Import
	if err := json.Unmarshal(data, &im); err != nil {
		return nil, fmt.Errorf("decode import %s: %w", id, err)
	}
	return &im, nil
}

func (s *Service) save(ctx context.Context, im *Import) error {
	data, err := json.Marshal(im)
	if err != nil {
		return fmt.Errorf("encode import %s: %w", im.ID, err)
	}
	return s.sessions.Put(ctx, im.ID, data, s.ttl)
}

// mutate loads the import under its lock, applies fn and saves the result
// whether or not fn failed, so partial edits are never lost. The lock is
// renewed while fn runs, which covers long commits.
func (s *Service) mutate(ctx context.Context, id string, fn func(im *Import) error) (*Import, error) {
	lock := s.locks(lockKey(id))
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, id)
	}
	stop := distlock.KeepAlive(ctx, lock)
	defer func() {
		stop()
		if err := lock.Release(context.Background()); err != nil && !errors.Is(err, distlock.ErrNotHeld) {
			logger.Warn("release import lock", "import_id", id, "error", err)
		}
	}()

	im, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	fnErr := fn(im)
	if err := s.save(ctx, im); err != nil {
		return nil, err
	}
	return im, fnErr
}

// ApplyFix applies the fix attached to issueID on file fileIdx.
func (s *Service) ApplyFix(ctx context.Context, id string, fileIdx int, issueID string) (*Import, error) {
	return s.mutate(ctx, id, func(im *Import) error {
		return s.orch.ApplyFix(im, fileIdx, issueID)
	})
}

// ApplyCorrection sets one raw cell on file fileIdx.
func (s *Service) ApplyCorrection(ctx context.Context, id string, fileIdx, row int, column, value string) (*Import, error) {
	return s.mutate(ctx, id, func(im *Import) error {
		return s.orch.ApplyCorrection(im, fileIdx, row, column, value)
	})
}

// ConfirmKind confirms or overrides the kind of file fileIdx.
func (s *Service) ConfirmKind(ctx context.Context, id string, fileIdx int, kind datanorm.ContentKind) (*Import, error) {
	return s.mutate(ctx, id, func(im *Import) error {
		return s.orch.ConfirmKind(im, fileIdx, kind)
	})
}

// Cancel abandons the import.
func (s *Service) Cancel(ctx context.Context, id string) (*Import, error) {
	return s.mutate(ctx, id, s.orch.Cancel)
}

// Proceed commits the import. The advisory reports are attached to the
// stored import when they arrive.
func (s *Service) Proceed(ctx context.Context, id string) (*Outcome, error) {
	var (
		out     *Outcome
		pending *PendingAdvisory
	)
	_, err := s.mutate(ctx, id, func(im *Import) error {
		var err error
		out, pending, err = s.orch.Proceed(ctx, im)
		return err
	})
	if err != nil {
		return nil, err
	}
	if pending != nil {
		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			s.attachAdvisory(id, pending.Wait(context.Background()))
		}()
	}
	return out, nil
}

func (s *Service) attachAdvisory(id string, reports []*advisory.Report) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	im, err := s.Get(ctx, id)
	if err != nil {
		logger.Warn("attach advisory: load import", "import_id", id, "error", err)
		return
	}
	if im.Outcome == nil {
		return
	}
	im.Outcome.Advisory = reports
	if err := s.save(ctx, im); err != nil {
		logger.Warn("attach advisory: save import", "import_id", id, "error", err)
	}
}

// Wait blocks until background advisory work finishes or ctx ends.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
