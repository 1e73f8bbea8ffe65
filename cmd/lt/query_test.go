package main

import (
	"strings"
	"testing"
	"time"
)

func TestParseTimeFlag(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in      string
		want    time.Time
		wantNil bool
		wantErr bool
	}{
		{in: "", wantNil: true},
		{in: "2026-06-01T08:30:00Z", want: time.Date(2026, 6, 1, 8, 30, 0, 0, time.UTC)},
		{in: "2026-06-01", want: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)},
		{in: "24h", want: now.Add(-24 * time.Hour)},
		{in: "7d", want: now.Add(-7 * 24 * time.Hour)},
		{in: "90m", want: now.Add(-90 * time.Minute)},
		{in: "yesterday", wantErr: true},
		{in: "-3d", wantErr: true},
		{in: "-1h", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseTimeFlag(tt.in, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if tt.wantNil {
				if got != nil {
					t.Errorf("got %v, want nil", got)
				}
				return
			}
			if got == nil || !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWindowFlags_Order(t *testing.T) {
	t.Cleanup(func() {
		summaryCmd.Flags().Set("since", "")
		summaryCmd.Flags().Set("until", "")
	})
	summaryCmd.Flags().Set("since", "2026-06-10")
	summaryCmd.Flags().Set("until", "2026-06-01")

	_, _, err := windowFlags(summaryCmd, time.Now())
	if err == nil || !strings.Contains(err.Error(), "before") {
		t.Errorf("err = %v, want until-before-since", err)
	}
}

func TestColorizeHelp(t *testing.T) {
	in := "Research data:\n  counts      Count events grouped by a field\n      --group-by string   field (default \"eventType\")\n"
	out := colorizeHelp(in)
	if !strings.Contains(out, "\x1b[") {
		t.Skip("colors disabled in this environment")
	}
	if !strings.Contains(out, "counts") || !strings.Contains(out, "Count events") {
		t.Errorf("colorizeHelp dropped text:\n%s", out)
	}
}
