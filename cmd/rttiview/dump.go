package main

import (
	"fmt"
	"io"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/spf13/cobra"

	"github.com/skdltmxn/rtti-go/rtti"
	"github.com/skdltmxn/rtti-go/typedb"
)

var dumpTypes bool

var dumpCmd = &cobra.Command{
	Use:   "dump <pe-file>",
	Short: "Dump the analysis report as JSON",
	Long: `Dump the full analysis report, including statistics, classes, bases and
vftables, as JSON. With --types the emitted type layouts are included.`,
	Args: cobra.ExactArgs(1),
	RunE: runDump,
}

func init() {
	dumpCmd.Flags().BoolVarP(&dumpTypes, "types", "t", false, "include emitted type layouts")
}

type typeDump struct {
	Handle typedb.Handle `json:"handle"`
	Layout typedb.Layout `json:"layout"`
}

type reportDump struct {
	File   string               `json:"file"`
	Report *rtti.AnalysisReport `json:"report"`
	Types  []typeDump           `json:"types,omitempty"`
}

func runDump(cmd *cobra.Command, args []string) error {
	var db *typedb.Memory
	var sink typedb.Database
	if dumpTypes {
		db = typedb.NewMemory()
		sink = db
	}

	report, err := analyze(cmd.Context(), args[0], sink)
	if err != nil {
		return err
	}

	dump := reportDump{File: args[0], Report: report}
	if db != nil {
		for e := range db.All() {
			dump.Types = append(dump.Types, typeDump{Handle: e.Handle, Layout: e.Layout})
		}
	}

	if err := writeDump(output, dump); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// writeDump writes dump as indented JSON. Decorated names come straight
// from the image and may not be valid UTF-8.
func writeDump(w io.Writer, dump reportDump) error {
	if err := json.MarshalWrite(w, dump, jsontext.WithIndent("  "), jsontext.AllowInvalidUTF8(true)); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}
