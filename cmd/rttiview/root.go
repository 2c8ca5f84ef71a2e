package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/spf13/cobra"

	"github.com/skdltmxn/rtti-go/image"
	"github.com/skdltmxn/rtti-go/rtti"
	"github.com/skdltmxn/rtti-go/typedb"
)

var (
	outputFile   string
	output       io.Writer
	verbose      bool
	scanWritable bool
	strictTypes  bool
	maxEntries   int
)

var rootCmd = &cobra.Command{
	Use:   "rttiview",
	Short: "MSVC RTTI recovery for PE images",
	Long: `rttiview recovers C++ run-time type information from 32- and 64-bit
PE images built with Microsoft Visual C++.

It locates complete object locators, rebuilds class hierarchies, finds
their vftables and can emit struct and vftable definitions.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log.SetHandler(cli.New(os.Stderr))
		if verbose {
			log.SetLevel(log.DebugLevel)
		} else {
			log.SetLevel(log.WarnLevel)
		}

		if outputFile != "" {
			f, err := os.Create(outputFile)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			output = f
		} else {
			output = os.Stdout
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if f, ok := output.(*os.File); ok && f != os.Stdout {
			f.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFile, "output", "o", "", "write output to file instead of stdout")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&scanWritable, "scan-writable", false, "also scan writable data sections for locators")
	rootCmd.PersistentFlags().BoolVar(&strictTypes, "strict-type-descriptors", false, "reject type descriptors in writable sections")
	rootCmd.PersistentFlags().IntVar(&maxEntries, "max-entries", rtti.MaxVftableEntries, "maximum number of entries read per vftable")

	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(classesCmd)
	rootCmd.AddCommand(typesCmd)
	rootCmd.AddCommand(dumpCmd)
}

func config() rtti.Config {
	cfg := rtti.DefaultConfig()
	cfg.ScanWritable = scanWritable
	cfg.AllowWritableTypeDescriptors = !strictTypes
	cfg.MaxVftableEntries = maxEntries
	return cfg
}

// analyze opens the image at path and runs the recovery, writing types to
// db when it is not nil.
func analyze(ctx context.Context, path string, db typedb.Database) (*rtti.AnalysisReport, error) {
	f, err := image.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	log.WithFields(log.Fields{
		"file":    path,
		"machine": f.MachineName(),
		"base":    fmt.Sprintf("%#x", f.ImageBase()),
	}).Debug("loaded image")

	report, err := rtti.Analyze(ctx, f, db, config())
	if err != nil {
		return nil, fmt.Errorf("analysis failed: %w", err)
	}
	return report, nil
}
