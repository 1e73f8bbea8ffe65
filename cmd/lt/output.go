package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/alfredjeanlab/learnertrace/internal/ingest"
	"github.com/alfredjeanlab/learnertrace/internal/model"
	"github.com/alfredjeanlab/learnertrace/internal/ui"
)

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func printEvents(evs []*model.Event) error {
	if jsonOutput {
		if evs == nil {
			evs = []*model.Event{}
		}
		return printJSON(evs)
	}
	if len(evs) == 0 {
		fmt.Println(ui.RenderMuted("no events"))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tPARTICIPANT\tSESSION\tTYPE\tDETAIL")
	for _, e := range evs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			e.ParticipantID,
			e.SessionID,
			e.EventType,
			eventDetail(e),
		)
	}
	w.Flush()
	fmt.Println(ui.RenderMuted(fmt.Sprintf("\n%d events", len(evs))))
	return nil
}

// eventDetail picks the most telling eventData field for the table view.
func eventDetail(e *model.Event) string {
	d := e.Data
	switch {
	case d.Score != nil:
		return "score " + formatFloat(*d.Score)
	case d.ResponseTimeMs != nil:
		return formatFloat(*d.ResponseTimeMs) + "ms"
	case d.ModuleID != "":
		return d.ModuleID
	case d.SearchQuery != "":
		return strconv.Quote(d.SearchQuery)
	case d.ToolName != "":
		return d.ToolName
	case d.PageURL != "":
		return d.PageURL
	}
	return ""
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func printCounts(counts []model.EventCount) {
	if len(counts) == 0 {
		fmt.Println(ui.RenderMuted("no events"))
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tCOUNT")
	for _, c := range counts {
		key := c.Key
		if key == "" {
			key = "(none)"
		}
		fmt.Fprintf(w, "%s\t%d\n", key, c.Count)
	}
	w.Flush()
}

func printSummary(s *model.SummaryStats) {
	avg := "-"
	if s.AvgResponseTimeMs != nil {
		avg = formatFloat(*s.AvgResponseTimeMs) + "ms"
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Events:\t%d\n", s.TotalEvents)
	fmt.Fprintf(w, "Participants:\t%d\n", s.UniqueParticipants)
	fmt.Fprintf(w, "Sessions:\t%d\n", s.UniqueSessions)
	fmt.Fprintf(w, "Event types:\t%d\n", s.EventTypeCount)
	fmt.Fprintf(w, "Avg response:\t%s\n", avg)
	w.Flush()
}

func printBatchResult(r ingest.BatchResult) {
	fmt.Printf("%s %d processed", ui.RenderOK("ok"), r.Processed)
	if r.Failed == 0 {
		fmt.Println()
		return
	}
	fmt.Printf(", %s\n", ui.RenderFail(fmt.Sprintf("%d failed", r.Failed)))
	for _, item := range r.Errors {
		msg := item.Error
		if len(item.Errors) > 0 {
			msg = fmt.Sprint(item.Errors)
		}
		fmt.Printf("  %s %s\n", ui.RenderMuted(describePayload(item.Event)), msg)
	}
}

func describePayload(p model.Payload) string {
	et, _ := p["eventType"].(string)
	pid, _ := p["participantId"].(string)
	if et == "" {
		et = "?"
	}
	if pid == "" {
		pid = "?"
	}
	return pid + "/" + et
}
