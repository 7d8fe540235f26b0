package client

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// PushRequest represents the ingest API request.
type PushRequest struct {
	Source         string          `json:"source"`
	Action         string          `json:"action"`
	OccurredAt     time.Time       `json:"occurred_at"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Payload        json.RawMessage `json:"payload"`
}

// PushResponse represents the ingest API response.
type PushResponse struct {
	EventID    string `json:"event_id"`
	Duplicate  bool   `json:"duplicate"`
	DidChange  bool   `json:"did_change"`
	DocumentID string `json:"document_id,omitempty"`
	Version    int64  `json:"version,omitempty"`
}

// PushCmd creates the push command.
func PushCmd() *cobra.Command {
	var (
		source         string
		action         string
		payloadFile    string
		idempotencyKey string
	)

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Push one source event",
		Long:  "Pushes a source event payload into the ingestion pipeline. The payload is read from --file, or stdin when --file is '-'.",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runPush(cmd, source, action, payloadFile, idempotencyKey, outputJSON)
		},
	}

	cmd.Flags().StringVarP(&source, "source", "s", "generic", "Event source (github, linear, notion, generic)")
	cmd.Flags().StringVarP(&action, "action", "a", "", "Source action, e.g. issues.opened (required)")
	cmd.Flags().StringVarP(&payloadFile, "file", "f", "-", "Payload file, '-' for stdin")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "Explicit idempotency key")
	cmd.MarkFlagRequired("action")

	return cmd
}

func runPush(cmd *cobra.Command, source, action, payloadFile, idempotencyKey string, outputJSON bool) error {
	var payload []byte
	var err error
	if payloadFile == "-" {
		payload, err = io.ReadAll(os.Stdin)
	} else {
		payload, err = os.ReadFile(payloadFile)
	}
	if err != nil {
		return fmt.Errorf("failed to read payload: %w", err)
	}
	if !json.Valid(payload) {
		return fmt.Errorf("payload is not valid JSON")
	}

	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	resp, err := api.Post("/ingest", PushRequest{
		Source:         source,
		Action:         action,
		OccurredAt:     time.Now().UTC(),
		IdempotencyKey: idempotencyKey,
		Payload:        payload,
	})
	if err != nil {
		return fmt.Errorf("push failed: %w", err)
	}

	var pushResp PushResponse
	if err := json.Unmarshal(resp.Data, &pushResp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(pushResp, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if pushResp.Duplicate {
		fmt.Printf("Duplicate delivery acknowledged (event: %s)\n", pushResp.EventID)
		return nil
	}
	if pushResp.DidChange {
		fmt.Printf("Event processed: document %s at v%d (event: %s)\n", pushResp.DocumentID, pushResp.Version, pushResp.EventID)
	} else {
		fmt.Printf("Event processed, content unchanged (event: %s)\n", pushResp.EventID)
	}

	return nil
}
