package client

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// DocumentDetail represents the fetch API response.
type DocumentDetail struct {
	Document struct {
		ID         string `json:"id"`
		SourceType string `json:"source_type"`
		SourceID   string `json:"source_id"`
		Title      string `json:"title"`
		Version    int64  `json:"version"`
		UpdatedAt  string `json:"updated_at"`
	} `json:"document"`
	Chunks []struct {
		ChunkIndex   int    `json:"chunk_index"`
		Text         string `json:"text"`
		SectionLabel string `json:"section_label,omitempty"`
	} `json:"chunks"`
	Relationships []struct {
		TargetDocID  string  `json:"target_doc_id"`
		RelationType string  `json:"relation_type"`
		Confidence   float64 `json:"confidence"`
		Suggested    bool    `json:"suggested"`
	} `json:"relationships"`
}

// GetCmd creates the get command.
func GetCmd() *cobra.Command {
	var showVersions bool

	cmd := &cobra.Command{
		Use:   "get <document-id>",
		Short: "Fetch one document",
		Long:  "Fetches a document with its chunks and relationships.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			if showVersions {
				return runGetVersions(cmd, args[0], outputJSON)
			}
			return runGet(cmd, args[0], outputJSON)
		},
	}

	cmd.Flags().BoolVar(&showVersions, "versions", false, "Show the document's version history instead of its content")

	return cmd
}

func runGet(cmd *cobra.Command, id string, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	resp, err := api.Get("/documents/" + id)
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}

	var detail DocumentDetail
	if err := json.Unmarshal(resp.Data, &detail); err != nil {
		return fmt.Errorf("failed to parse document: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(detail, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("%s (v%d, %s/%s)\n", detail.Document.Title, detail.Document.Version, detail.Document.SourceType, detail.Document.SourceID)
	fmt.Printf("Updated: %s\n\n", detail.Document.UpdatedAt)
	for _, chunk := range detail.Chunks {
		if chunk.SectionLabel != "" {
			fmt.Printf("## %s\n", chunk.SectionLabel)
		}
		fmt.Println(chunk.Text)
		fmt.Println()
	}
	if len(detail.Relationships) > 0 {
		fmt.Println("Relationships:")
		for _, rel := range detail.Relationships {
			marker := ""
			if rel.Suggested {
				marker = " (suggested)"
			}
			fmt.Printf("  %s -> %s (%.2f)%s\n", rel.RelationType, rel.TargetDocID, rel.Confidence, marker)
		}
	}

	return nil
}

func runGetVersions(cmd *cobra.Command, id string, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	resp, err := api.Get("/documents/" + id + "/versions")
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}

	var versions []struct {
		ID        string `json:"id"`
		Title     string `json:"title"`
		Version   int64  `json:"version"`
		UpdatedAt string `json:"updated_at"`
	}
	if err := json.Unmarshal(resp.Data, &versions); err != nil {
		return fmt.Errorf("failed to parse versions: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(versions, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	for _, v := range versions {
		fmt.Printf("v%d: %s (%s, updated: %s)\n", v.Version, v.Title, v.ID, v.UpdatedAt)
	}

	return nil
}
