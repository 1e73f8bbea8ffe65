package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/learnertrace/internal/events"
	"github.com/alfredjeanlab/learnertrace/internal/model"
	"github.com/alfredjeanlab/learnertrace/internal/presence"
	"github.com/alfredjeanlab/learnertrace/internal/ui"
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Short:   "Show live learner sessions seen by a running pipeline",
	GroupID: "query",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		body, err := request(cmd.Context(), events.TopicSessions, events.SessionsRequest{IncludeEnded: all})
		if err != nil {
			return err
		}
		var roster []presence.Entry
		if err := decodeReply(body, &roster); err != nil {
			return err
		}
		if jsonOutput {
			if roster == nil {
				roster = []presence.Entry{}
			}
			return printJSON(roster)
		}
		printSessions(os.Stdout, roster)
		return nil
	},
}

func init() {
	sessionsCmd.Flags().BoolP("all", "a", false, "include ended sessions")
}

func printSessions(out io.Writer, roster []presence.Entry) {
	if len(roster) == 0 {
		fmt.Fprintln(out, ui.RenderMuted("no active sessions"))
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tPARTICIPANT\tLAST EVENT\tEVENTS\tIDLE\tSTATE")
	for _, e := range roster {
		state := ui.RenderOK("active")
		if e.Ended {
			state = ui.RenderMuted("ended")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			e.SessionID,
			e.ParticipantID,
			ui.RenderCategory(model.InferCategory(e.LastEvent), string(e.LastEvent)),
			e.EventCount,
			(time.Duration(e.IdleSecs) * time.Second).String(),
			state,
		)
	}
	w.Flush()
}
