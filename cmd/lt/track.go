package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/learnertrace/internal/events"
	"github.com/alfredjeanlab/learnertrace/internal/ingest"
	"github.com/alfredjeanlab/learnertrace/internal/model"
	"github.com/alfredjeanlab/learnertrace/internal/ui"
)

const requestTimeout = 10 * time.Second

var trackCmd = &cobra.Command{
	Use:     "track [payload-json]",
	Short:   "Send one event to the pipeline",
	GroupID: "ingest",
	Long: `Send one event to a running pipeline over NATS and print the reply.

The payload is a JSON object; flags set or override its top-level fields.

  lt track --participant p1 --session s1 --type module_start
  lt track '{"participantId":"p1","sessionId":"s1","eventType":"search","searchQuery":"budget"}'`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload := model.Payload{}
		if len(args) == 1 {
			if err := json.Unmarshal([]byte(args[0]), &payload); err != nil {
				return fmt.Errorf("invalid payload: %w", err)
			}
		}
		for flag, key := range map[string]string{
			"participant": "participantId",
			"session":     "sessionId",
			"type":        "eventType",
			"category":    "eventCategory",
		} {
			if v, _ := cmd.Flags().GetString(flag); v != "" {
				payload[key] = v
			}
		}
		if raw, _ := cmd.Flags().GetString("data"); raw != "" {
			var data map[string]any
			if err := json.Unmarshal([]byte(raw), &data); err != nil {
				return fmt.Errorf("invalid --data: %w", err)
			}
			payload["eventData"] = data
		}

		body, err := request(cmd.Context(), events.TopicTrack, payload)
		if err != nil {
			return err
		}
		var res ingest.TrackResult
		if err := decodeReply(body, &res); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(res)
		}
		fmt.Printf("%s %s (buffer: %d)\n", ui.RenderOK("queued"), res.EventID, res.BufferSize)
		return nil
	},
}

var trackBatchCmd = &cobra.Command{
	Use:     "track-batch <file>",
	Short:   "Send events from a JSON array or JSONL file",
	GroupID: "ingest",
	Long: `Send events from a file (or - for stdin) in batches of at most 100.

The file holds either a JSON array of event objects or one object per line.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var r io.Reader = os.Stdin
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}
		raw, err := readEvents(r)
		if err != nil {
			return err
		}
		if len(raw) == 0 {
			return ingest.ErrEmptyBatch
		}

		var total ingest.BatchResult
		total.Errors = []ingest.BatchItemError{}
		for _, chunk := range chunkEvents(raw, ingest.MaxBatchEvents) {
			arr, err := json.Marshal(chunk)
			if err != nil {
				return err
			}
			body, err := request(cmd.Context(), events.TopicBatch, events.BatchRequest{Events: arr})
			if err != nil {
				return err
			}
			var res ingest.BatchResult
			if err := decodeReply(body, &res); err != nil {
				return err
			}
			total.Processed += res.Processed
			total.Failed += res.Failed
			total.Errors = append(total.Errors, res.Errors...)
		}

		if jsonOutput {
			return printJSON(total)
		}
		printBatchResult(total)
		return nil
	},
}

func init() {
	trackCmd.Flags().String("participant", "", "participant ID")
	trackCmd.Flags().String("session", "", "session ID")
	trackCmd.Flags().StringP("type", "t", "", "event type")
	trackCmd.Flags().String("category", "", "event category (inferred when omitted)")
	trackCmd.Flags().String("data", "", "eventData as a JSON object")
}

// readEvents reads a JSON array or JSONL stream into raw event objects.
func readEvents(r io.Reader) ([]json.RawMessage, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == '[' {
		var out []json.RawMessage
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("decode JSON array: %w", err)
		}
		return out, nil
	}

	var out []json.RawMessage
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for n := 1; sc.Scan(); n++ {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			return nil, fmt.Errorf("line %d: invalid JSON", n)
		}
		out = append(out, json.RawMessage(bytes.Clone(line)))
	}
	return out, sc.Err()
}

func chunkEvents(raw []json.RawMessage, size int) [][]json.RawMessage {
	var chunks [][]json.RawMessage
	for len(raw) > size {
		chunks = append(chunks, raw[:size])
		raw = raw[size:]
	}
	if len(raw) > 0 {
		chunks = append(chunks, raw)
	}
	return chunks
}

func request(ctx context.Context, subject string, payload any) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	pub, err := events.NewNATSPublisher(natsURL)
	if err != nil {
		return nil, err
	}
	defer pub.Close()

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	return pub.Request(ctx, subject, payload)
}

// decodeReply unwraps an events.Reply into out, turning a failed reply into
// an error that lists the field errors.
func decodeReply(body []byte, out any) error {
	var r events.Reply
	if err := json.Unmarshal(body, &r); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	if !r.Success {
		if len(r.Errors) == 0 {
			return errors.New(r.Error)
		}
		return &model.ValidationError{Errors: r.Errors}
	}
	if out == nil || len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, out)
}
