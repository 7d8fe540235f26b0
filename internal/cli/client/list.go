package client

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

// DocumentListResponse represents the list API response.
type DocumentListResponse struct {
	Items []struct {
		ID         string `json:"id"`
		SourceType string `json:"source_type"`
		Title      string `json:"title"`
		Version    int64  `json:"version"`
		UpdatedAt  string `json:"updated_at"`
	} `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

// ListCmd creates the list command.
func ListCmd() *cobra.Command {
	var (
		limit  int
		cursor string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents",
		Long:  "Lists the workspace's documents at their latest versions.",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runList(cmd, limit, cursor, outputJSON)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of results")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Pagination cursor from previous response")

	return cmd
}

func runList(cmd *cobra.Command, limit int, cursor string, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	query := url.Values{}
	query.Set("limit", fmt.Sprintf("%d", limit))
	if cursor != "" {
		query.Set("cursor", cursor)
	}

	resp, err := api.Get("/documents/?" + query.Encode())
	if err != nil {
		return fmt.Errorf("list failed: %w", err)
	}

	var listResp DocumentListResponse
	if err := json.Unmarshal(resp.Data, &listResp); err != nil {
		return fmt.Errorf("failed to parse document list: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(listResp, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if len(listResp.Items) == 0 {
		fmt.Println("No documents found")
		return nil
	}

	for _, d := range listResp.Items {
		fmt.Printf("%s  [%s] %s (v%d, updated: %s)\n", d.ID, d.SourceType, d.Title, d.Version, d.UpdatedAt)
	}
	if listResp.HasMore && listResp.NextCursor != "" {
		fmt.Printf("\nMore results available. Use --cursor %s\n", listResp.NextCursor)
	}

	return nil
}
