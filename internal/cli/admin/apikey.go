package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hivemindhq/hivemind/internal/domain"
	"github.com/hivemindhq/hivemind/internal/repository"
	"github.com/hivemindhq/hivemind/internal/service"
)

func resolveWorkspaceID(ctx context.Context, workspaceRepo *repository.WorkspaceRepository, ref string) (string, error) {
	if _, err := uuid.Parse(ref); err == nil {
		workspace, err := workspaceRepo.GetByID(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("workspace not found: %s", ref)
		}
		return workspace.ID, nil
	}

	workspaces, err := workspaceRepo.List(ctx)
	if err != nil {
		return "", err
	}
	for _, w := range workspaces {
		if w.Name == ref {
			return w.ID, nil
		}
	}
	return "", fmt.Errorf("workspace not found: %s", ref)
}

func APIKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
		Long:  "Create, list, and revoke API keys",
	}

	cmd.AddCommand(APIKeyCreateCmd())
	cmd.AddCommand(APIKeyListCmd())
	cmd.AddCommand(APIKeyRevokeCmd())

	return cmd
}

func APIKeyCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Create a new API key for a workspace",
		RunE:  runAPIKeyCreate,
	}

	cmd.Flags().StringP("workspace", "w", "", "Workspace ID or name (required)")
	cmd.Flags().StringP("name", "n", "", "API key name (required)")
	cmd.Flags().String("output", "text", "Output format (text or json)")
	cmd.MarkFlagRequired("workspace")
	cmd.MarkFlagRequired("name")

	return cmd
}

func runAPIKeyCreate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	workspaceRef, _ := cmd.Flags().GetString("workspace")
	name, _ := cmd.Flags().GetString("name")
	outputFormat, _ := cmd.Flags().GetString("output")

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	workspaceRepo := repository.NewWorkspaceRepository(pool)
	apiKeyRepo := repository.NewAPIKeyRepository(pool)
	uuidGen := &service.DefaultUUIDGenerator{}
	authSvc := service.NewAuthService(workspaceRepo, apiKeyRepo, uuidGen)

	workspaceID, err := resolveWorkspaceID(ctx, workspaceRepo, workspaceRef)
	if err != nil {
		return err
	}

	plaintext, err := authSvc.CreateAPIKey(ctx, workspaceID, name)
	if err != nil {
		return fmt.Errorf("failed to create API key: %w", err)
	}

	if outputFormat == "json" {
		data := map[string]interface{}{
			"name":      name,
			"workspace": workspaceID,
			"token":     plaintext,
		}
		jsonBytes, _ := json.MarshalIndent(data, "", "  ")
		fmt.Println(string(jsonBytes))
	} else {
		fmt.Printf("API key created for workspace %s\n", workspaceID)
		fmt.Printf("Token (store it now, it cannot be retrieved later):\n  %s\n", plaintext)
	}

	return nil
}

func APIKeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		Long:  "List API keys for a workspace",
		RunE:  runAPIKeyList,
	}

	cmd.Flags().StringP("workspace", "w", "", "Workspace ID or name (required)")
	cmd.Flags().String("output", "text", "Output format (text or json)")
	cmd.MarkFlagRequired("workspace")

	return cmd
}

func runAPIKeyList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	workspaceRef, _ := cmd.Flags().GetString("workspace")
	outputFormat, _ := cmd.Flags().GetString("output")

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	workspaceRepo := repository.NewWorkspaceRepository(pool)
	apiKeyRepo := repository.NewAPIKeyRepository(pool)

	workspaceID, err := resolveWorkspaceID(ctx, workspaceRepo, workspaceRef)
	if err != nil {
		return err
	}

	keys, err := apiKeyRepo.ListByWorkspace(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("failed to list API keys: %w", err)
	}

	if outputFormat == "json" {
		data := make([]map[string]interface{}, len(keys))
		for i, k := range keys {
			data[i] = map[string]interface{}{
				"id":         k.ID,
				"name":       k.Name,
				"revoked":    k.Revoked,
				"created_at": k.CreatedAt,
			}
		}
		jsonBytes, _ := json.MarshalIndent(data, "", "  ")
		fmt.Println(string(jsonBytes))
	} else {
		if len(keys) == 0 {
			fmt.Println("No API keys found")
			return nil
		}
		fmt.Println("API keys:")
		for _, k := range keys {
			status := "active"
			if k.Revoked {
				status = "revoked"
			}
			fmt.Printf("  %s: %s (%s, created: %s)\n", k.ID, k.Name, status, k.CreatedAt.Format("2006-01-02 15:04:05"))
		}
	}

	return nil
}

func APIKeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Long:  "Revoke an API key so it can no longer authenticate requests",
		Args:  cobra.ExactArgs(1),
		RunE:  runAPIKeyRevoke,
	}

	return cmd
}

func runAPIKeyRevoke(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	keyID := args[0]

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	apiKeyRepo := repository.NewAPIKeyRepository(pool)
	if err := apiKeyRepo.Revoke(ctx, keyID); err != nil {
		if errors.Is(err, domain.ErrAPIKeyNotFound) {
			return fmt.Errorf("API key not found: %s", keyID)
		}
		return fmt.Errorf("failed to revoke API key: %w", err)
	}

	fmt.Printf("API key revoked: %s\n", keyID)
	return nil
}
