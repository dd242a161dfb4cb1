package convoy

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/poiesic/convoy/compaction"
	"github.com/poiesic/convoy/core"
	"github.com/poiesic/convoy/ingestion"
	"github.com/poiesic/convoy/reembed"
)

// PullParams overrides the configured pipeline for one pull. Zero values
// keep the configuration.
type PullParams struct {
	NewOnly         bool
	ChannelCapacity int
	FetchWorkers    int
	MediaWorkers    int
	EmbedWorkers    int

	// Provider limits the pull to the accounts of one provider.
	Provider string
}

func (a *Archive) pipelineConfig(params PullParams) ingestion.Config {
	cfg := a.config.Pipeline
	cfg.NewOnly = cfg.NewOnly || params.NewOnly
	if params.ChannelCapacity > 0 {
		cfg.ChannelCapacity = params.ChannelCapacity
	}
	if params.FetchWorkers > 0 {
		cfg.FetchWorkers = params.FetchWorkers
	}
	if params.MediaWorkers > 0 {
		cfg.MediaWorkers = params.MediaWorkers
	}
	if params.EmbedWorkers > 0 {
		cfg.EmbedWorkers = params.EmbedWorkers
	}
	if a.config.DownloadMedia {
		cfg.MediaDir = filepath.Join(a.config.DataDir, mediaDir)
	}
	return cfg
}

// Pull fetches, embeds, and stores the conversations of every account in
// scope. It holds the data directory lock for the duration of the pipeline,
// records the run in the pull history, and compacts afterwards when
// configured to and the run produced embeddings. A storage failure returns the partial result with the error.
func (a *Archive) Pull(ctx context.Context, params PullParams) (*ingestion.Result, error) {
	if err := a.check(); err != nil {
		return nil, err
	}

	accounts, err := a.catalog.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	if params.Provider != "" {
		if _, err := a.registry.Get(params.Provider); err != nil {
			return nil, err
		}
		selected := accounts[:0]
		for _, acct := range accounts {
			if acct.ProviderID == params.Provider {
				selected = append(selected, acct)
			}
		}
		accounts = selected
	}
	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}

	pipeline, err := ingestion.NewPipeline(a.pipelineConfig(params), a.registry, a.builder, ingestion.Stores{
		Catalog:       a.catalog,
		Conversations: a.conversations,
		Embeddings:    a.embeddings,
		Index:         a.index,
	}, ingestion.WithLogger(a.rootLogger))
	if err != nil {
		return nil, err
	}

	result, err := a.runPipeline(ctx, pipeline, accounts)
	if err != nil {
		return result, err
	}

	if a.config.Compaction.Auto && !result.Canceled && result.Chunks > 0 {
		if err := a.autoCompact(ctx); err != nil {
			a.logger.Warn("automatic compaction failed", "err", err)
		}
	}
	return result, nil
}

func (a *Archive) runPipeline(ctx context.Context, pipeline *ingestion.Pipeline, accounts []*core.Account) (*ingestion.Result, error) {
	if err := a.lock.Acquire(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if err := a.lock.Release(); err != nil {
			a.logger.Warn("failed to release data lock", "err", err)
		}
	}()

	result, runErr := pipeline.Run(ctx, accounts)
	if result != nil {
		// The history is written even for canceled or failed runs.
		if err := a.catalog.RecordPull(context.WithoutCancel(ctx), result.PullRecord()); err != nil {
			a.logger.Error("failed to record pull", "run", result.RunID, "err", err)
			if runErr == nil {
				runErr = err
			}
		}
	}
	return result, runErr
}

// autoCompact compacts every provider once any of them reached the segment
// threshold.
func (a *Archive) autoCompact(ctx context.Context) error {
	status, err := a.compactor.Status(ctx)
	if err != nil {
		return err
	}
	for _, st := range status {
		if st.SegmentCount >= a.config.Compaction.SegmentThreshold {
			a.logger.Info("compacting after pull", "provider", st.Provider, "segments", st.SegmentCount)
			_, err := a.compactor.CompactAll(ctx)
			return err
		}
	}
	return nil
}

// Compact merges every provider's pending segments into its consolidated file.
func (a *Archive) Compact(ctx context.Context) ([]compaction.Result, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	return a.compactor.CompactAll(ctx)
}

// CompactionStatus reports pending segments per provider.
func (a *Archive) CompactionStatus(ctx context.Context) ([]compaction.ProviderStatus, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	return a.compactor.Status(ctx)
}

// Reembed rebuilds the embeddings of every stored conversation, or of one
// provider's, with the configured model. Progress goes to progress.
func (a *Archive) Reembed(ctx context.Context, providerID string, progress io.Writer) (*reembed.Result, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	cfg := a.config.Reembed
	cfg.Provider = providerID

	r, err := reembed.NewReembedder(a.builder, reembed.Stores{
		Conversations: a.conversations,
		Embeddings:    a.embeddings,
		Catalog:       a.catalog,
	}, &cfg, progress, a.rootLogger)
	if err != nil {
		return nil, err
	}

	if err := a.lock.Acquire(ctx); err != nil {
		return nil, err
	}
	defer a.lock.Release()

	result, err := r.Run(ctx)
	if err != nil {
		return result, fmt.Errorf("reembed: %w", err)
	}
	return result, nil
}
