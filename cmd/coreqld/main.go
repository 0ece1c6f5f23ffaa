// Package main is the coreqld host binary. It only observes the two
// flags spec.md §6 names for the core itself: --data to locate the
// column catalog and segment caches at startup, and --test to run the
// built-in self-tests and exit 0/1. Everything else (ingest
// transport, query HTTP surface, persistence) is the host's own
// concern, layered on top of the coreql library.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/entityql/coreql/config"
	"github.com/entityql/coreql/selftest"
)

func main() {
	var dataDir string
	var runTests bool

	rootCmd := &cobra.Command{
		Use:   "coreqld",
		Short: "coreql host process",
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(dataDir, runTests)
		},
	}

	rootCmd.Flags().StringVar(&dataDir, "data", "", "path to locate the column catalog and segment caches at startup")
	rootCmd.Flags().BoolVar(&runTests, "test", false, "run the built-in self-tests and exit")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(dataDir string, runTests bool) error {
	cfg := config.Default()
	if dataDir != "" {
		cfg.Data.Dir = dataDir
		if loaded, err := config.Load(dataDir + "/coreql.toml"); err == nil {
			cfg = loaded
			cfg.Data.Dir = dataDir
		}
	}

	if runTests {
		ok := selftest.Run(cfg)
		if !ok {
			os.Exit(1)
		}
		os.Exit(0)
	}

	fmt.Printf("coreqld: data=%s workers=%d slice_ms=%d\n", cfg.Data.Dir, cfg.Engine.Workers, cfg.Engine.SliceMs)
	select {}
}
