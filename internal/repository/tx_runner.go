package repository

import (
	"context"

	"github.com/hivemindhq/hivemind/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxRunner provides transactional repositories using a pgx pool.
type TxRunner struct {
	pool *pgxpool.Pool
}

func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

func (r *TxRunner) WithTx(ctx context.Context, fn func(repos service.TxRepositories) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}

	repos := &txRepos{tx: tx}
	if err := fn(repos); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	return tx.Commit(ctx)
}

// WithConsolidationTx wraps one cluster's consolidation writes in a
// transaction, so a failed run never commits a summary whose source
// observations stayed unmarked.
func (r *TxRunner) WithConsolidationTx(ctx context.Context, fn func(repos service.ConsolidationTxRepositories) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}

	repos := &consolidationTxRepos{tx: tx}
	if err := fn(repos); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	return tx.Commit(ctx)
}

type txRepos struct {
	tx pgx.Tx
}

func (r *txRepos) Documents() service.DocumentRepositoryInterface {
	return NewDocumentRepositoryWithTx(r.tx)
}

func (r *txRepos) Chunks() service.ChunkRepositoryInterface {
	return NewChunkRepositoryWithTx(r.tx)
}

func (r *txRepos) Observations() service.ObservationRepositoryInterface {
	return NewObservationRepositoryWithTx(r.tx)
}

func (r *txRepos) EmbeddingJobs() service.EmbeddingJobRepositoryInterface {
	return NewEmbeddingJobRepositoryWithTx(r.tx)
}

func (r *txRepos) RelationshipJobs() service.RelationshipJobRepositoryInterface {
	return NewRelationshipJobRepositoryWithTx(r.tx)
}

type consolidationTxRepos struct {
	tx pgx.Tx
}

func (r *consolidationTxRepos) Summaries() service.SummaryRepositoryInterface {
	return NewSummaryRepositoryWithTx(r.tx)
}

func (r *consolidationTxRepos) EmbeddingJobs() service.EmbeddingJobRepositoryInterface {
	return NewEmbeddingJobRepositoryWithTx(r.tx)
}

func (r *consolidationTxRepos) Observations() service.ObservationConsolidationRepository {
	return NewObservationRepositoryWithTx(r.tx)
}
