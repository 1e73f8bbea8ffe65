package main

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/learnertrace/internal/ui"
)

var (
	// Unindented lines ending in ":" ("Ingestion:", "Flags:").
	reSection = regexp.MustCompile(`(?m)^([A-Z][^\n]*:)\s*$`)

	// Two-space indent, a name, then the description column.
	reSubcommand = regexp.MustCompile(`(?m)^(  )([a-z][\w-]*)(  )`)

	reDefault = regexp.MustCompile(`\(default [^)]*\)`)
)

// colorizedHelpFunc styles cobra's usage text when stdout supports color.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		desc := cmd.Long
		if desc == "" {
			desc = cmd.Short
		}

		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(out)

		usage := buf.String()
		if !noColor && ui.ShouldUseColor() {
			usage = colorizeHelp(usage)
		}
		if desc != "" {
			fmt.Fprintf(out, "%s\n\n", strings.TrimSpace(desc))
		}
		fmt.Fprint(out, usage)
	}
}

func colorizeHelp(s string) string {
	s = reSection.ReplaceAllStringFunc(s, func(m string) string {
		return ui.RenderAccent(strings.TrimSpace(m))
	})
	s = reSubcommand.ReplaceAllString(s, "${1}"+ui.RenderCommand("${2}")+"${3}")
	return reDefault.ReplaceAllStringFunc(s, ui.RenderMuted)
}
