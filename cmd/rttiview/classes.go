package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skdltmxn/rtti-go/rtti"
)

var (
	classesLimit  int
	classesFilter string
)

var classesCmd = &cobra.Command{
	Use:   "classes <pe-file>",
	Short: "List recovered classes",
	Long: `List recovered classes with their bases and vftables.

Use --filter to show only classes whose name contains the given text.`,
	Args: cobra.ExactArgs(1),
	RunE: runClasses,
}

func init() {
	classesCmd.Flags().IntVarP(&classesLimit, "limit", "n", 0, "limit number of classes shown (0 = unlimited)")
	classesCmd.Flags().StringVarP(&classesFilter, "filter", "f", "", "filter by class name (case-insensitive substring)")
}

func runClasses(cmd *cobra.Command, args []string) error {
	report, err := analyze(cmd.Context(), args[0], nil)
	if err != nil {
		return err
	}

	filter := strings.ToLower(classesFilter)
	shown := 0
	for _, c := range report.Classes {
		if filter != "" && !strings.Contains(strings.ToLower(c.Name), filter) {
			continue
		}
		if classesLimit > 0 && shown >= classesLimit {
			break
		}
		printClass(c)
		shown++
	}

	fmt.Fprintf(output, "Shown %d of %d classes\n", shown, len(report.Classes))
	return nil
}

func printClass(c rtti.ClassReport) {
	title := c.Kind + " " + classStyle.Render(c.Name)
	if c.Unparsed {
		title += " " + warnStyle.Render("[unparsed]")
	}
	if c.Confidence == rtti.Low {
		title += " " + warnStyle.Render("[low confidence]")
	}
	fmt.Fprintln(output, title)
	fmt.Fprintln(output, mutedStyle.Render(fmt.Sprintf("  %s  hierarchy 0x%X  %s", c.Decorated, c.Descriptor, c.Attributes)))

	for _, b := range c.Bases {
		indent := "  "
		if !b.Direct {
			indent = "    "
		}
		fmt.Fprintf(output, "%s: %s at %d", indent, baseStyle.Render(b.Name.Display), b.Offset)
		if !b.Direct {
			fmt.Fprintf(output, " via %s", b.Parent)
		}
		fmt.Fprintln(output)
	}
	for _, b := range c.VirtualBases {
		fmt.Fprintf(output, "  : virtual %s\n", baseStyle.Render(b.Name.Display))
	}

	for _, v := range c.Vftables {
		name := rtti.VftableTypeName(c.Name, v.ForBase)
		fmt.Fprintf(output, "  %s at 0x%X, %d entries (locator 0x%X, offset %d)\n",
			name, v.Address, len(v.Entries), v.Locator, v.Offset)
	}
	fmt.Fprintln(output)
}
