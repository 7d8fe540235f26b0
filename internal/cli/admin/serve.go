package admin

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	"github.com/hivemindhq/hivemind/internal/api/handlers"
	"github.com/hivemindhq/hivemind/internal/cache"
	"github.com/hivemindhq/hivemind/internal/config"
	"github.com/hivemindhq/hivemind/internal/database"
	"github.com/hivemindhq/hivemind/internal/domain"
	"github.com/hivemindhq/hivemind/internal/jobs"
	"github.com/hivemindhq/hivemind/internal/llm"
	"github.com/hivemindhq/hivemind/internal/normalize"
	"github.com/hivemindhq/hivemind/internal/repository"
	"github.com/hivemindhq/hivemind/internal/server"
	"github.com/hivemindhq/hivemind/internal/service"
	"github.com/hivemindhq/hivemind/internal/storage"
	"github.com/hivemindhq/hivemind/internal/telemetry"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the hivemind API server and background workers on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")
	cmd.Flags().Bool("no-workers", false, "Serve the API without background workers")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize Sentry with tracing if SENTRY_DSN is set
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		environment := os.Getenv("ENVIRONMENT")
		if environment == "" {
			environment = "development"
		}

		sampleRate := 0.1
		if environment == "development" {
			sampleRate = 1.0
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              dsn,
			Environment:      environment,
			TracesSampleRate: sampleRate,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	pool, err := database.NewPool(ctx, cfg.DatabaseURL, database.PoolOptions{})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Println("connected to database")

	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	documentRepo := repository.NewDocumentRepository(pool)
	chunkRepo := repository.NewChunkRepository(pool)
	observationRepo := repository.NewObservationRepository(pool)
	summaryRepo := repository.NewSummaryRepository(pool)
	profileRepo := repository.NewProfileRepository(pool)
	relationshipRepo := repository.NewRelationshipRepository(pool)
	idempotencyRepo := repository.NewIdempotencyRepository(pool)
	deadLetterRepo := repository.NewDeadLetterRepository(pool)
	leaseRepo := repository.NewLeaseRepository(pool)
	pipelineRepo := repository.NewPipelineRepository(pool)
	embeddingJobRepo := repository.NewEmbeddingJobRepository(pool)
	relationshipJobRepo := repository.NewRelationshipJobRepository(pool)
	searchRepo := repository.NewSearchRepository(pool)
	workspaceRepo := repository.NewWorkspaceRepository(pool)
	apiKeyRepo := repository.NewAPIKeyRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	uuidGen := &service.DefaultUUIDGenerator{}
	authSvc := service.NewAuthService(workspaceRepo, apiKeyRepo, uuidGen)

	if cfg.InitWorkspaceName != "" {
		if err := bootstrapInitialWorkspace(ctx, cfg, workspaceRepo, authSvc); err != nil {
			return fmt.Errorf("failed to bootstrap initial workspace: %w", err)
		}
	}

	var artifactStore service.ArtifactStore
	if cfg.HasS3() {
		s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		artifactStore = s3Client
		log.Printf("payload archive bucket '%s' configured", cfg.S3Bucket)
	}

	hydration, err := cache.NewHydrationCache(chunkRepo, observationRepo, summaryRepo)
	if err != nil {
		return fmt.Errorf("failed to create hydration cache: %w", err)
	}

	var (
		embeddingClient *llm.EmbeddingClient
		chatClient      *llm.ChatClient
	)
	if cfg.HasOpenAI() {
		embeddingClient = llm.NewEmbeddingClientWithConfig(llm.EmbeddingConfig{
			APIKey:         cfg.OpenAIAPIKey,
			EmbeddingModel: openai.EmbeddingModel(cfg.EmbeddingModel),
		})
		chatClient = llm.NewChatClient(llm.ChatConfig{APIKey: cfg.OpenAIAPIKey})
	}

	embeddingModel := cfg.EmbeddingModel
	persistSvc := service.NewPersistService(txRunner, artifactStore, embeddingModel)
	ingestSvc := service.NewIngestService(
		idempotencyRepo,
		deadLetterRepo,
		pipelineRepo,
		normalize.DefaultRegistry(),
		persistSvc,
		hydration,
		nil,
		service.DefaultIngestConfig(),
	)

	var embedder service.Embedder
	if embeddingClient != nil {
		embedder = embeddingClient
	}

	var reranker service.Reranker
	retrieveSvc, err := service.NewRetrieveService(
		searchRepo,
		embedder,
		hydration,
		reranker,
		service.DefaultFusionConfig(),
		service.DefaultRetrieveConfig(),
	)
	if err != nil {
		return fmt.Errorf("failed to create retrieve service: %w", err)
	}

	var synthesizer service.AnswerSynthesizer
	if chatClient != nil {
		synthesizer = chatClient
	}
	answerSvc := service.NewAnswerService(retrieveSvc, synthesizer)

	librarySvc := service.NewLibraryService(
		documentRepo,
		chunkRepo,
		relationshipRepo,
		searchRepo,
		&seedVectorAdapter{chunks: chunkRepo, observations: observationRepo},
	)

	noWorkers, _ := cmd.Flags().GetBool("no-workers")
	var workers []*jobs.Worker
	if !noWorkers {
		workers = startWorkers(ctx, cfg, workerDeps{
			embeddingJobs:    embeddingJobRepo,
			relationshipJobs: relationshipJobRepo,
			chunks:           chunkRepo,
			observations:     observationRepo,
			summaries:        summaryRepo,
			txRunner:         txRunner,
			documents:        documentRepo,
			relationships:    relationshipRepo,
			profiles:         profileRepo,
			leases:           leaseRepo,
			embedder:         embedder,
			chat:             chatClient,
		})
	}

	router := server.NewRouter(server.RouterConfig{
		AuthValidator:   authSvc,
		IngestHandler:   handlers.NewIngestHandler(ingestSvc),
		SearchHandler:   handlers.NewSearchHandler(retrieveSvc, answerSvc),
		DocumentHandler: handlers.NewDocumentHandler(librarySvc),
		AuthHandler:     handlers.NewAuthHandler(authSvc),
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	for _, w := range workers {
		w.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

type workerDeps struct {
	embeddingJobs    *repository.EmbeddingJobRepository
	relationshipJobs *repository.RelationshipJobRepository
	chunks           *repository.ChunkRepository
	observations     *repository.ObservationRepository
	summaries        *repository.SummaryRepository
	txRunner         *repository.TxRunner
	documents        *repository.DocumentRepository
	relationships    *repository.RelationshipRepository
	profiles         *repository.ProfileRepository
	leases           *repository.LeaseRepository
	embedder         service.Embedder
	chat             *llm.ChatClient
}

func startWorkers(ctx context.Context, cfg *config.Config, deps workerDeps) []*jobs.Worker {
	var workers []*jobs.Worker

	if deps.embedder != nil {
		embedSvc := service.NewEmbedService(
			deps.embeddingJobs,
			deps.chunks,
			deps.observations,
			deps.summaries,
			deps.embedder,
			service.DefaultEmbedConfig(),
		)
		w := jobs.NewWorker("embedding", jobs.NewEmbeddingWorker(embedSvc), time.Duration(cfg.EmbedPollSeconds)*time.Second)
		go w.Start(ctx)
		workers = append(workers, w)
		log.Println("embedding worker started")
	} else {
		log.Println("embedding worker disabled: no embedding provider configured")
	}

	var proposer service.RelationProposer
	if deps.chat != nil {
		proposer = &relationProposerAdapter{chat: deps.chat}
	}
	relationSvc := service.NewRelationshipService(
		deps.relationshipJobs,
		deps.relationships,
		deps.documents,
		deps.chunks,
		proposer,
		service.DefaultRelationshipConfig(),
	)
	rw := jobs.NewWorker("relationship", jobs.NewRelationshipWorker(relationSvc), time.Duration(cfg.RelationPollSeconds)*time.Second)
	go rw.Start(ctx)
	workers = append(workers, rw)
	log.Println("relationship worker started")

	var summarizer service.Summarizer
	if deps.chat != nil {
		summarizer = &summarizerAdapter{chat: deps.chat}
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = (&service.DefaultUUIDGenerator{}).NewString()
	}
	consolidateSvc := service.NewConsolidateService(
		deps.observations,
		deps.txRunner,
		deps.profiles,
		&temporalStateAdapter{profiles: deps.profiles},
		deps.leases,
		summarizer,
		service.DefaultConsolidateConfig(),
		hostname,
	)
	cw := jobs.NewWorker("consolidation", jobs.NewConsolidationWorker(consolidateSvc), time.Duration(cfg.ConsolidatePollSeconds)*time.Second)
	go cw.Start(ctx)
	workers = append(workers, cw)
	log.Println("consolidation worker started")

	return workers
}

// summarizerAdapter bridges the chat client's draft type to the
// consolidation service's.
type summarizerAdapter struct {
	chat *llm.ChatClient
}

func (a *summarizerAdapter) Summarize(ctx context.Context, scope string, observations []string) (*service.SummaryDraft, error) {
	draft, err := a.chat.Summarize(ctx, scope, observations)
	if err != nil {
		return nil, err
	}
	return &service.SummaryDraft{
		Content:   draft.Content,
		KeyPoints: draft.KeyPoints,
		Entities:  draft.Entities,
	}, nil
}

type relationProposerAdapter struct {
	chat *llm.ChatClient
}

func (a *relationProposerAdapter) ProposeRelations(ctx context.Context, docText string, candidates []string) ([]service.RelationProposal, error) {
	proposals, err := a.chat.ProposeRelations(ctx, docText, candidates)
	if err != nil {
		return nil, err
	}
	out := make([]service.RelationProposal, 0, len(proposals))
	for _, p := range proposals {
		out = append(out, service.RelationProposal{
			TargetSourceID: p.TargetSourceID,
			RelationType:   p.RelationType,
			Confidence:     p.Confidence,
			Rationale:      p.Rationale,
		})
	}
	return out, nil
}

type seedVectorAdapter struct {
	chunks       *repository.ChunkRepository
	observations *repository.ObservationRepository
}

func (a *seedVectorAdapter) ChunkEmbedding(ctx context.Context, workspaceID, chunkID string) ([]float32, string, error) {
	return a.chunks.GetEmbedding(ctx, workspaceID, chunkID)
}

func (a *seedVectorAdapter) ObservationEmbedding(ctx context.Context, workspaceID, observationID string) ([]float32, string, error) {
	return a.observations.GetEmbedding(ctx, workspaceID, observationID)
}

type temporalStateAdapter struct {
	profiles *repository.ProfileRepository
}

func (a *temporalStateAdapter) Upsert(ctx context.Context, t *domain.TemporalState) error {
	return a.profiles.UpsertTemporalState(ctx, t)
}

func bootstrapInitialWorkspace(ctx context.Context, cfg *config.Config, workspaceRepo *repository.WorkspaceRepository, authSvc *service.AuthService) error {
	workspaces, err := workspaceRepo.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list workspaces: %w", err)
	}

	var workspace *domain.Workspace
	for _, w := range workspaces {
		if w.Name == cfg.InitWorkspaceName {
			workspace = w
			break
		}
	}

	if workspace == nil {
		workspace, err = authSvc.CreateWorkspace(ctx, cfg.InitWorkspaceName)
		if err != nil {
			return fmt.Errorf("failed to create workspace: %w", err)
		}
		log.Printf("bootstrap: created workspace '%s' (id: %s)", workspace.Name, workspace.ID)
	} else {
		log.Printf("bootstrap: workspace '%s' already exists (id: %s)", workspace.Name, workspace.ID)
	}

	if cfg.InitAPIKey != "" {
		if !service.IsValidAPIToken(cfg.InitAPIKey) {
			return fmt.Errorf("invalid HIVEMIND_INIT_API_KEY format (expected 'hvm_<64 hex chars>')")
		}

		existingKey, err := authSvc.GetAPIKeyByHash(ctx, cfg.InitAPIKey)
		if err == nil && existingKey != nil {
			log.Printf("bootstrap: API key already exists (id: %s)", existingKey.ID)
			return nil
		}

		if err := authSvc.CreateAPIKeyWithToken(ctx, workspace.ID, "bootstrap", cfg.InitAPIKey); err != nil {
			return fmt.Errorf("failed to create API key: %w", err)
		}
		log.Printf("bootstrap: created API key")
	}

	return nil
}

func runMigrations(databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if err == migrate.ErrNilVersion {
		log.Println("migrations: database is up to date (no migrations applied)")
	} else if dirty {
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	} else if err == migrate.ErrNoChange {
		log.Printf("migrations: database is up to date (version %d)", version)
	} else {
		log.Printf("migrations: applied successfully (version %d)", version)
	}

	return nil
}
