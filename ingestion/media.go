package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/poiesic/convoy/core"
)

// mediaWorker downloads attachments for each fetched conversation and passes
// it on. A failed download is recorded and the conversation continues without
// that attachment.
func (r *run) mediaWorker(ctx context.Context) {
	logger := r.logger.With("stage", core.StageMedia)
	for msg := range r.fetched {
		switch m := msg.(type) {
		case ConversationFetched:
			out := MediaDownloaded{Account: m.Account, Conversation: m.Conversation}
			if !r.halted.Load() {
				out.Downloads = r.download(ctx, m)
			}
			r.downloaded <- out
		default:
			logger.Warn("unexpected message", "type", fmt.Sprintf("%T", msg))
		}
	}
}

func (r *run) download(ctx context.Context, m ConversationFetched) []core.DownloadedAttachment {
	if r.p.media == nil || len(m.Attachments) == 0 {
		return nil
	}
	conv := m.Conversation
	downloads := make([]core.DownloadedAttachment, 0, len(m.Attachments))
	for i := range m.Attachments {
		att := &m.Attachments[i]
		path, n, err := r.p.media.Save(conv.ProviderID, conv.ID, att, func(w io.Writer) (int64, error) {
			return m.Provider.DownloadAttachment(ctx, m.Account, att, w)
		})
		if err != nil {
			if errors.Is(err, core.ErrStorageUnavailable) {
				r.fatal(core.StageMedia, err)
				return downloads
			}
			r.logger.Warn("attachment download failed",
				"stage", core.StageMedia, "conversation", conv.ID, "attachment", att.ID, "err", err)
			r.errs.record(newError(core.StageMedia, conv.ID, fmt.Errorf("%w: %s: %w", core.ErrMedia, att.ID, err)))
			continue
		}
		downloads = append(downloads, core.DownloadedAttachment{
			AttachmentID:   att.ID,
			ConversationID: conv.ID,
			MessageID:      att.MessageID,
			LocalPath:      path,
			SizeBytes:      n,
		})
	}
	return downloads
}
