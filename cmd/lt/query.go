package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/learnertrace/internal/model"
)

var eventsCmd = &cobra.Command{
	Use:     "events",
	Short:   "List stored events by participant, session or experiment",
	GroupID: "query",
}

var eventsUserCmd = &cobra.Command{
	Use:   "user <participant-id>",
	Short: "List a participant's events, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		now := time.Now()
		start, end, err := windowFlags(cmd, now)
		if err != nil {
			return err
		}
		eventType, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")

		p, st, err := openReader()
		if err != nil {
			return err
		}
		defer st.Close()

		evs, err := p.EventsByUser(cmd.Context(), args[0], model.UserEventOptions{
			Start:     start,
			End:       end,
			EventType: model.EventType(eventType),
			Limit:     limit,
		})
		if err != nil {
			return err
		}
		return printEvents(evs)
	},
}

var eventsSessionCmd = &cobra.Command{
	Use:   "session <session-id>",
	Short: "Show a session's timeline, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, st, err := openReader()
		if err != nil {
			return err
		}
		defer st.Close()

		evs, err := p.EventsBySession(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printEvents(evs)
	},
}

var eventsExperimentCmd = &cobra.Command{
	Use:   "experiment <experiment-id>",
	Short: "List an experiment's events, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		group, _ := cmd.Flags().GetString("group")

		p, st, err := openReader()
		if err != nil {
			return err
		}
		defer st.Close()

		evs, err := p.ExperimentEvents(cmd.Context(), args[0], group)
		if err != nil {
			return err
		}
		return printEvents(evs)
	},
}

var countsCmd = &cobra.Command{
	Use:     "counts",
	Short:   "Count events grouped by a field",
	GroupID: "query",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		start, end, err := windowFlags(cmd, time.Now())
		if err != nil {
			return err
		}
		groupBy, _ := cmd.Flags().GetString("group-by")

		p, st, err := openReader()
		if err != nil {
			return err
		}
		defer st.Close()

		counts, err := p.EventCounts(cmd.Context(), start, end, groupBy)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(counts)
		}
		printCounts(counts)
		return nil
	},
}

var summaryCmd = &cobra.Command{
	Use:     "summary",
	Short:   "Summarize events matching a filter",
	GroupID: "query",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		start, end, err := windowFlags(cmd, time.Now())
		if err != nil {
			return err
		}
		eventType, _ := cmd.Flags().GetString("type")
		category, _ := cmd.Flags().GetString("category")
		participant, _ := cmd.Flags().GetString("participant")
		group, _ := cmd.Flags().GetString("group")

		p, st, err := openReader()
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := p.SummaryStats(cmd.Context(), model.SummaryFilter{
			Start:           start,
			End:             end,
			EventType:       model.EventType(eventType),
			EventCategory:   model.Category(category),
			ParticipantID:   participant,
			ExperimentGroup: group,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(stats)
		}
		printSummary(stats)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{eventsUserCmd, countsCmd, summaryCmd} {
		addWindowFlags(c)
	}

	eventsUserCmd.Flags().StringP("type", "t", "", "only this event type")
	eventsUserCmd.Flags().IntP("limit", "n", model.DefaultUserEventLimit, "maximum number of events")
	eventsExperimentCmd.Flags().String("group", "", "only this experiment group")
	eventsCmd.AddCommand(eventsUserCmd, eventsSessionCmd, eventsExperimentCmd)

	countsCmd.Flags().String("group-by", string(model.GroupByEventType),
		"eventType, eventCategory, participantId, sessionId or experimentGroup")

	summaryCmd.Flags().StringP("type", "t", "", "only this event type")
	summaryCmd.Flags().String("category", "", "only this event category")
	summaryCmd.Flags().String("participant", "", "only this participant")
	summaryCmd.Flags().String("group", "", "only this experiment group")
}

func addWindowFlags(cmd *cobra.Command) {
	cmd.Flags().String("since", "", "start of the window (RFC 3339, YYYY-MM-DD, or age like 24h / 7d)")
	cmd.Flags().String("until", "", "end of the window (same formats as --since)")
}

func windowFlags(cmd *cobra.Command, now time.Time) (start, end *time.Time, err error) {
	since, _ := cmd.Flags().GetString("since")
	until, _ := cmd.Flags().GetString("until")
	if start, err = parseTimeFlag(since, now); err != nil {
		return nil, nil, fmt.Errorf("--since: %w", err)
	}
	if end, err = parseTimeFlag(until, now); err != nil {
		return nil, nil, fmt.Errorf("--until: %w", err)
	}
	if start != nil && end != nil && end.Before(*start) {
		return nil, nil, fmt.Errorf("--until is before --since")
	}
	return start, end, nil
}

// parseTimeFlag accepts an RFC 3339 timestamp, a date, or an age relative to
// now ("90m", "24h", "7d"). Empty means unbounded.
func parseTimeFlag(s string, now time.Time) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return &t, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return &t, nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid age %q", s)
		}
		t := now.Add(-time.Duration(n) * 24 * time.Hour)
		return &t, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return nil, fmt.Errorf("invalid time %q", s)
	}
	t := now.Add(-d)
	return &t, nil
}
