package ingestion

import (
	"context"
	"errors"
	"fmt"

	"github.com/poiesic/convoy/core"
	"github.com/poiesic/convoy/embedding"
)

// embedWorker embeds and persists each conversation, emitting exactly one
// Complete or Error per conversation.
func (r *run) embedWorker(ctx context.Context) {
	logger := r.logger.With("stage", core.StageEmbed)
	for msg := range r.downloaded {
		switch m := msg.(type) {
		case MediaDownloaded:
			r.results <- r.embed(ctx, m)
		default:
			logger.Warn("unexpected message", "type", fmt.Sprintf("%T", msg))
		}
	}
}

func (r *run) embed(ctx context.Context, m MediaDownloaded) PipelineMessage {
	conv := m.Conversation
	if r.halted.Load() {
		return newError(core.StageEmbed, conv.ID, errHalted)
	}

	build, err := r.p.builder.Build(ctx, conv)
	if err != nil {
		r.logger.Warn("embedding failed", "stage", core.StageEmbed, "conversation", conv.ID, "err", err)
		return newError(core.StageEmbed, conv.ID, err)
	}
	for _, a := range build.Anomalies {
		r.errs.record(newError(core.StageEmbed, conv.ID, fmt.Errorf("%s aggregate %s: %w", a.Level, a.MessageID, a.Err)))
	}

	if err := r.persist(ctx, conv, build, m.Downloads); err != nil {
		if errors.Is(err, core.ErrStorageUnavailable) {
			r.fatal(core.StagePersist, err)
		}
		return newError(core.StagePersist, conv.ID, err)
	}

	r.logger.Debug("conversation persisted", "conversation", conv.ID, "chunks", build.Chunks, "records", len(build.Records))
	return Complete{
		ConversationID: conv.ID,
		MessagesCount:  len(conv.Messages),
		ChunksCount:    build.Chunks,
	}
}

// persist writes a conversation's outputs. The record file precedes the
// segment that refers to it, and the sync state is written last so a
// conversation only counts as synced once everything else is on disk.
func (r *run) persist(ctx context.Context, conv *core.Conversation, build *embedding.Build, downloads []core.DownloadedAttachment) error {
	stores := r.p.stores
	if err := stores.Conversations.Put(ctx, conv); err != nil {
		return fmt.Errorf("conversation record: %w", err)
	}
	if err := stores.Embeddings.WriteSegment(ctx, conv.ProviderID, conv.ID, build.Records); err != nil {
		return fmt.Errorf("embedding segment: %w", err)
	}
	if err := stores.Index.IndexConversation(ctx, conv); err != nil {
		return fmt.Errorf("text index: %w", err)
	}
	if len(downloads) > 0 {
		atts := make([]*core.DownloadedAttachment, len(downloads))
		for i := range downloads {
			atts[i] = &downloads[i]
		}
		if err := stores.Catalog.PutAttachments(ctx, atts...); err != nil {
			return fmt.Errorf("attachments: %w", asUnavailable(err))
		}
	}
	state := &core.SyncState{
		ProviderID:     conv.ProviderID,
		ConversationID: conv.ID,
		UpdatedAt:      conv.UpdatedAt,
		MessageCount:   len(conv.Messages),
		ChunkCount:     build.Chunks,
	}
	if err := stores.Catalog.PutSyncState(ctx, state); err != nil {
		return fmt.Errorf("sync state: %w", asUnavailable(err))
	}
	return nil
}
