package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ignite/smart-import/internal/app"
	"github.com/ignite/smart-import/internal/datanorm"
	"github.com/ignite/smart-import/internal/importer"
)

type importOutput struct {
	ImportID   string            `json:"import_id"`
	DurationMS int64             `json:"duration_ms"`
	Files      []fileReport      `json:"files"`
	Outcome    *importer.Outcome `json:"outcome,omitempty"`
}

func newImportCmd(g *globalFlags) *cobra.Command {
	var (
		clientID  string
		platforms []string
		autoFix   bool
		dryRun    bool
	)

	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Validate exports and commit them to the record store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			files, err := loadFiles(args, platforms, cfg.Pipeline.MaxFileBytes())
			if err != nil {
				return err
			}

			deps, err := app.Build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer deps.Close()
			orch := deps.Service.Orchestrator()

			start := time.Now()
			im, err := orch.Run(cmd.Context(), clientID, files)
			if err != nil {
				return err
			}
			if autoFix {
				applied := autoFixAll(orch, im)
				fmt.Fprintf(cmd.ErrOrStderr(), "applied %d fixes\n", applied)
			}

			out := importOutput{ImportID: im.ID}
			if im.HasBlockingErrors() || dryRun {
				out.Files = reports(im)
				out.DurationMS = time.Since(start).Milliseconds()
				if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
					return err
				}
				if dryRun {
					return nil
				}
				return fmt.Errorf("%w: %s", importer.ErrUnresolvedErrors, strings.Join(im.BlockingFiles(), ", "))
			}

			outcome, pending, err := orch.Proceed(cmd.Context(), im)
			if err != nil {
				return err
			}
			waitCtx, cancel := context.WithTimeout(cmd.Context(), cfg.Advisory.Timeout()+5*time.Second)
			outcome.Advisory = pending.Wait(waitCtx)
			cancel()

			out.Files = reports(im)
			out.Outcome = outcome
			out.DurationMS = time.Since(start).Milliseconds()
			if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			if outcome.PartialFailure() {
				return errors.New("some records failed to commit")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&clientID, "client", "", "Client id the records belong to (required)")
	cmd.Flags().StringSliceVar(&platforms, "platform", nil, "Platform, once for all files or once per file (required)")
	cmd.Flags().BoolVar(&autoFix, "auto-fix", false, "Apply every suggested fix on blocking issues before committing")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Stop before committing")
	_ = cmd.MarkFlagRequired("client")
	_ = cmd.MarkFlagRequired("platform")
	return cmd
}

func reports(im *importer.Import) []fileReport {
	out := make([]fileReport, 0, len(im.Files))
	for _, r := range im.Files {
		out = append(out, reportFile(r))
	}
	return out
}

// autoFixAll applies the fix of every blocking issue that offers one and
// returns how many were applied. Each issue is tried once.
func autoFixAll(orch *importer.Orchestrator, im *importer.Import) int {
	applied := 0
	for idx, r := range im.Files {
		tried := map[string]bool{}
		for {
			id, ok := nextFixable(r, tried)
			if !ok {
				break
			}
			tried[id] = true
			if err := orch.ApplyFix(im, idx, id); err == nil {
				applied++
			}
			r = im.Files[idx]
		}
	}
	return applied
}

func nextFixable(r *datanorm.FileValidationResult, tried map[string]bool) (string, bool) {
	if r.Skipped {
		return "", false
	}
	for _, is := range r.Issues {
		if is.Severity == datanorm.SeverityError && is.Fix != nil && !tried[is.ID] {
			return is.ID, true
		}
	}
	return "", false
}
