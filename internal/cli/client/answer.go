package client

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// AnswerRequest represents the answer API request.
type AnswerRequest struct {
	Question string `json:"question"`
}

// AnswerCitation represents one citation in an answer.
type AnswerCitation struct {
	Index      int    `json:"index"`
	Kind       string `json:"kind"`
	ID         string `json:"id"`
	DocumentID string `json:"document_id,omitempty"`
	Title      string `json:"title,omitempty"`
}

// AnswerResponse represents the answer API response.
type AnswerResponse struct {
	Answer     string           `json:"answer"`
	Citations  []AnswerCitation `json:"citations"`
	Mode       string           `json:"mode"`
	Extractive bool             `json:"extractive,omitempty"`
}

// AnswerCmd creates the answer command.
func AnswerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "answer <question>",
		Short: "Ask a question against the knowledge base",
		Long:  "Retrieves supporting passages and synthesizes a cited answer.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runAnswer(cmd, args[0], outputJSON)
		},
	}

	return cmd
}

func runAnswer(cmd *cobra.Command, question string, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	resp, err := api.Post("/answer", AnswerRequest{Question: question})
	if err != nil {
		return fmt.Errorf("answer failed: %w", err)
	}

	var answerResp AnswerResponse
	if err := json.Unmarshal(resp.Data, &answerResp); err != nil {
		return fmt.Errorf("failed to parse answer: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(answerResp, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Println(answerResp.Answer)
	if answerResp.Extractive {
		fmt.Println("\n(extractive: no language model configured, answer stitched from top passages)")
	}
	if len(answerResp.Citations) > 0 {
		fmt.Println("\nSources:")
		for _, c := range answerResp.Citations {
			title := c.Title
			if title == "" {
				title = c.ID
			}
			fmt.Printf("  [%d] %s (%s)\n", c.Index, title, c.Kind)
		}
	}

	return nil
}
