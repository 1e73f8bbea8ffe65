package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/learnertrace/internal/archive"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	Short:   "Export stored events as JSONL",
	GroupID: "query",
	Long: `Export events synced in a window as JSONL (a header line, then one event
per line, oldest first). This is the same format the archive scheduler uploads.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		now := time.Now()
		since, _ := cmd.Flags().GetString("since")
		until, _ := cmd.Flags().GetString("until")
		out, _ := cmd.Flags().GetString("output")

		from, err := parseTimeFlag(since, now)
		if err != nil {
			return fmt.Errorf("--since: %w", err)
		}
		to, err := parseTimeFlag(until, now)
		if err != nil {
			return fmt.Errorf("--until: %w", err)
		}
		if from == nil {
			from = &time.Time{}
		}
		if to == nil {
			to = &now
		}

		_, st, err := openReader()
		if err != nil {
			return err
		}
		defer st.Close()

		var w io.Writer = os.Stdout
		if out != "" && out != "-" {
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		bw := bufio.NewWriter(w)

		n, err := archive.ExportJSONL(cmd.Context(), st, *from, *to, bw)
		if err != nil {
			return err
		}
		if err := bw.Flush(); err != nil {
			return err
		}
		if out != "" && out != "-" {
			fmt.Fprintf(os.Stderr, "exported %d events to %s\n", n, out)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().String("since", "", "only events synced after this time (RFC 3339, YYYY-MM-DD, or age)")
	exportCmd.Flags().String("until", "", "only events synced up to this time (default now)")
	exportCmd.Flags().StringP("output", "o", "", "write to this file instead of stdout")
}
