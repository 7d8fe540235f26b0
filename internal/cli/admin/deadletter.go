package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hivemindhq/hivemind/internal/config"
	"github.com/hivemindhq/hivemind/internal/domain"
	"github.com/hivemindhq/hivemind/internal/normalize"
	"github.com/hivemindhq/hivemind/internal/repository"
	"github.com/hivemindhq/hivemind/internal/service"
)

func DeadLetterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deadletter",
		Short: "Inspect and replay dead-lettered events",
		Long:  "List, show, replay, and delete events that exhausted their retry budget",
	}

	cmd.AddCommand(DeadLetterListCmd())
	cmd.AddCommand(DeadLetterShowCmd())
	cmd.AddCommand(DeadLetterReplayCmd())
	cmd.AddCommand(DeadLetterDeleteCmd())

	return cmd
}

func DeadLetterListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent dead-lettered events",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFormat, _ := cmd.Flags().GetString("output")
			return runDeadLetterList(outputFormat, limit)
		},
	}

	cmd.Flags().String("output", "text", "Output format (text or json)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of results")

	return cmd
}

func runDeadLetterList(outputFormat string, limit int) error {
	ctx := context.Background()

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	deadLetterRepo := repository.NewDeadLetterRepository(pool)
	events, err := deadLetterRepo.ListRecent(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list dead-lettered events: %w", err)
	}

	if outputFormat == "json" {
		data := make([]map[string]interface{}, len(events))
		for i, e := range events {
			data[i] = map[string]interface{}{
				"id":          e.ID,
				"reason":      e.Reason,
				"retry_count": e.RetryCount,
				"created_at":  e.CreatedAt,
			}
		}
		jsonBytes, _ := json.MarshalIndent(data, "", "  ")
		fmt.Println(string(jsonBytes))
	} else {
		if len(events) == 0 {
			fmt.Println("No dead-lettered events")
			return nil
		}
		fmt.Println("Dead-lettered events:")
		for _, e := range events {
			fmt.Printf("  %s: %s (retries: %d, at: %s)\n", e.ID, e.Reason, e.RetryCount, e.CreatedAt.Format("2006-01-02 15:04:05"))
		}
	}

	return nil
}

func DeadLetterShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one dead-lettered event including its envelope",
		Args:  cobra.ExactArgs(1),
		RunE:  runDeadLetterShow,
	}

	return cmd
}

func runDeadLetterShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	deadLetterRepo := repository.NewDeadLetterRepository(pool)
	event, err := deadLetterRepo.GetByID(ctx, args[0])
	if err != nil {
		if errors.Is(err, repository.ErrDeadLetterNotFound) {
			return fmt.Errorf("dead-lettered event not found: %s", args[0])
		}
		return err
	}

	out := map[string]interface{}{
		"id":          event.ID,
		"reason":      event.Reason,
		"retry_count": event.RetryCount,
		"created_at":  event.CreatedAt,
		"envelope":    json.RawMessage(event.Envelope),
	}
	jsonBytes, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(jsonBytes))

	return nil
}

func DeadLetterReplayCmd() *cobra.Command {
	var keep bool

	cmd := &cobra.Command{
		Use:   "replay <id>",
		Short: "Replay a dead-lettered event through the pipeline",
		Long:  "Re-run a dead-lettered event's envelope through ingestion. On success the dead letter is deleted unless --keep is set.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeadLetterReplay(args[0], keep)
		},
	}

	cmd.Flags().BoolVar(&keep, "keep", false, "Keep the dead letter after a successful replay")

	return cmd
}

func runDeadLetterReplay(id string, keep bool) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	deadLetterRepo := repository.NewDeadLetterRepository(pool)
	event, err := deadLetterRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrDeadLetterNotFound) {
			return fmt.Errorf("dead-lettered event not found: %s", id)
		}
		return err
	}

	var env domain.Envelope
	if err := json.Unmarshal(event.Envelope, &env); err != nil {
		return fmt.Errorf("stored envelope is not valid JSON: %w", err)
	}

	ingestSvc := service.NewIngestService(
		repository.NewIdempotencyRepository(pool),
		deadLetterRepo,
		repository.NewPipelineRepository(pool),
		normalize.DefaultRegistry(),
		service.NewPersistService(repository.NewTxRunner(pool), nil, cfg.EmbeddingModel),
		nil,
		nil,
		service.DefaultIngestConfig(),
	)

	result, err := ingestSvc.Ingest(ctx, &env)
	if err != nil {
		return fmt.Errorf("replay failed: %w", err)
	}

	if result.Duplicate {
		fmt.Println("Replay acknowledged as duplicate (already processed)")
	} else {
		fmt.Printf("Replay succeeded: event %s\n", result.EventID)
	}

	if !keep {
		if err := deadLetterRepo.Delete(ctx, id); err != nil {
			return fmt.Errorf("replay succeeded but failed to delete dead letter: %w", err)
		}
		fmt.Println("Dead letter deleted")
	}

	return nil
}

func DeadLetterDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a dead-lettered event",
		Args:  cobra.ExactArgs(1),
		RunE:  runDeadLetterDelete,
	}

	return cmd
}

func runDeadLetterDelete(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	deadLetterRepo := repository.NewDeadLetterRepository(pool)
	if err := deadLetterRepo.Delete(ctx, args[0]); err != nil {
		return fmt.Errorf("failed to delete dead letter: %w", err)
	}

	fmt.Printf("Dead letter deleted: %s\n", args[0])
	return nil
}
