package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ignite/smart-import/internal/config"
	"github.com/ignite/smart-import/internal/datanorm"
	"github.com/ignite/smart-import/internal/source"
)

type globalFlags struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "importer",
		Short:         "Validate and import social analytics exports",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&g.configPath, "config", "config/config.yaml", "Config file (defaults apply when it does not exist)")

	cmd.AddCommand(newValidateCmd(g))
	cmd.AddCommand(newImportCmd(g))
	cmd.AddCommand(newClassifyCmd(g))
	cmd.AddCommand(newKindsCmd())
	return cmd
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// loadConfig reads the config file when present, then the environment.
func (g *globalFlags) loadConfig() (*config.Config, error) {
	_ = godotenv.Load()

	var cfg *config.Config
	if _, err := os.Stat(g.configPath); errors.Is(err, os.ErrNotExist) {
		cfg = config.Defaults()
	} else {
		loaded, err := config.Load(g.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFiles reads local exports. platforms holds one value for every
// file or one per file.
func loadFiles(paths, platforms []string, limit int64) ([]datanorm.RawFile, error) {
	if len(paths) == 0 {
		return nil, errors.New("at least one file is required")
	}
	if len(platforms) != 1 && len(platforms) != len(paths) {
		return nil, fmt.Errorf("got %d --platform values for %d files", len(platforms), len(paths))
	}
	files := make([]datanorm.RawFile, 0, len(paths))
	for i, p := range paths {
		raw := platforms[0]
		if len(platforms) == len(paths) {
			raw = platforms[i]
		}
		platform, err := datanorm.ParsePlatform(raw)
		if err != nil {
			return nil, err
		}
		f, err := source.LoadFile(p, platform, limit)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}
