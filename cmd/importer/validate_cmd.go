package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ignite/smart-import/internal/app"
	"github.com/ignite/smart-import/internal/datanorm"
	"github.com/ignite/smart-import/internal/importer"
)

func newValidateCmd(g *globalFlags) *cobra.Command {
	var (
		clientID  string
		platforms []string
		full      bool
	)

	cmd := &cobra.Command{
		Use:   "validate FILE...",
		Short: "Validate exports without writing anything",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			app.ApplyLogging(cfg.Logging)
			files, err := loadFiles(args, platforms, cfg.Pipeline.MaxFileBytes())
			if err != nil {
				return err
			}

			orch := importer.New(nil, nil, app.Options(cfg))
			results, err := orch.ValidateFiles(cmd.Context(), clientID, files)
			if err != nil {
				return err
			}

			blocking := 0
			for _, r := range results {
				if r.HasBlockingErrors() {
					blocking++
				}
			}
			if full {
				err = writeJSON(cmd.OutOrStdout(), results)
			} else {
				reports := make([]fileReport, 0, len(results))
				for _, r := range results {
					reports = append(reports, reportFile(r))
				}
				err = writeJSON(cmd.OutOrStdout(), reports)
			}
			if err != nil {
				return err
			}
			if blocking > 0 {
				return fmt.Errorf("%d of %d files have blocking errors", blocking, len(results))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&clientID, "client", "cli", "Client id recorded on the results")
	cmd.Flags().StringSliceVar(&platforms, "platform", nil, "Platform, once for all files or once per file (required)")
	cmd.Flags().BoolVar(&full, "full", false, "Print full results including raw and normalized rows")
	_ = cmd.MarkFlagRequired("platform")
	return cmd
}

func newClassifyCmd(g *globalFlags) *cobra.Command {
	var platform string

	cmd := &cobra.Command{
		Use:   "classify FILE",
		Short: "Show the classifier candidates for one export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			files, err := loadFiles(args, []string{platform}, cfg.Pipeline.MaxFileBytes())
			if err != nil {
				return err
			}
			table, err := datanorm.Decode(files[0].Data, files[0].Format)
			if err != nil {
				return err
			}
			c := datanorm.NewClassifier(cfg.Pipeline.ConfidenceFloor)
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"headers":        table.Headers,
				"floor":          c.Floor(),
				"classification": c.Classify(files[0].Platform, table.Headers),
				"candidates":     c.Candidates(files[0].Platform, table.Headers),
			})
		},
	}

	cmd.Flags().StringVar(&platform, "platform", "", "Platform of the export (required)")
	_ = cmd.MarkFlagRequired("platform")
	return cmd
}

func newKindsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List the supported content kinds",
		RunE: func(cmd *cobra.Command, args []string) error {
			type kindLine struct {
				Kind  datanorm.ContentKind `json:"kind"`
				Table string               `json:"table"`
				Daily bool                 `json:"daily"`
			}
			var out []kindLine
			for _, k := range datanorm.Kinds() {
				if s, ok := datanorm.SchemaFor(k); ok {
					out = append(out, kindLine{Kind: k, Table: s.Table, Daily: s.Daily})
				}
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
}
