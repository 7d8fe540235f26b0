package client

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// SearchRequest represents the search API request.
type SearchRequest struct {
	Query string `json:"query"`
	Mode  string `json:"mode,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// SearchResult represents one retrieval hit.
type SearchResult struct {
	Kind       string   `json:"kind"`
	ID         string   `json:"id"`
	DocumentID string   `json:"document_id,omitempty"`
	Score      float64  `json:"score"`
	Signals    []string `json:"signals"`
	Title      string   `json:"title,omitempty"`
	Snippet    string   `json:"snippet"`
}

// SearchResponse represents the search API response.
type SearchResponse struct {
	Mode     string         `json:"mode"`
	Results  []SearchResult `json:"results"`
	Degraded bool           `json:"degraded,omitempty"`
}

// SearchCmd creates the search command.
func SearchCmd() *cobra.Command {
	var (
		mode  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the knowledge base",
		Long:  "Searches documents, observations and summaries with hybrid retrieval.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runSearch(cmd, args[0], mode, limit, outputJSON)
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", "", "Retrieval mode (knowledge, neural, hybrid, temporal, actor); default is classified from the query")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of results")

	return cmd
}

func runSearch(cmd *cobra.Command, query, mode string, limit int, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	resp, err := api.Post("/search", SearchRequest{
		Query: query,
		Mode:  mode,
		Limit: limit,
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	var searchResp SearchResponse
	if err := json.Unmarshal(resp.Data, &searchResp); err != nil {
		return fmt.Errorf("failed to parse search results: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(searchResp, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if len(searchResp.Results) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	fmt.Printf("Mode: %s\n", searchResp.Mode)
	if searchResp.Degraded {
		fmt.Println("(degraded: some retrieval signals were unavailable)")
	}
	fmt.Printf("Found %d results:\n\n", len(searchResp.Results))
	for i, result := range searchResp.Results {
		title := result.Title
		if title == "" {
			title = result.ID
		}
		fmt.Printf("%d. [%s] %s (%.3f)\n", i+1, result.Kind, title, result.Score)
		if result.Snippet != "" {
			snippet := result.Snippet
			if len(snippet) > 120 {
				snippet = snippet[:117] + "..."
			}
			fmt.Printf("   %s\n", snippet)
		}
		fmt.Printf("   ID: %s\n", result.ID)
		if i < len(searchResp.Results)-1 {
			fmt.Println()
		}
	}

	return nil
}
