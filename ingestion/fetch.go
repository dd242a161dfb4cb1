package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/convoy/core"
	"github.com/poiesic/convoy/provider"
	"github.com/poiesic/convoy/storage"
)

// fetch runs one pool task per account and returns when all have finished
// or ctx is done.
func (r *run) fetch(ctx context.Context, pool *ants.Pool, accounts []*core.Account) {
	var wg sync.WaitGroup
	for _, acct := range accounts {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			r.fetchAccount(ctx, acct)
		})
		if err != nil {
			wg.Done()
			r.errs.record(newError(core.StageFetch, "", fmt.Errorf("%w: account %s: %w", core.ErrFetch, acct.Key(), err)))
		}
	}
	wg.Wait()
}

// fetchAccount lists an account's conversations and emits them into the
// fetched channel in provider-list order.
func (r *run) fetchAccount(ctx context.Context, acct *core.Account) {
	logger := r.logger.With("stage", core.StageFetch, "account", acct.Key())

	prov, err := r.p.registry.Get(acct.ProviderID)
	if err != nil {
		r.errs.record(newError(core.StageFetch, "", fmt.Errorf("%w: account %s: %w", core.ErrFetch, acct.Key(), err)))
		return
	}

	summaries, err := prov.ListConversations(ctx, acct)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Warn("failed to list conversations", "err", err)
		r.errs.record(newError(core.StageFetch, "", fmt.Errorf("%w: list %s: %w", core.ErrFetch, acct.Key(), err)))
		return
	}
	logger.Debug("listed conversations", "count", len(summaries))

	for i := range summaries {
		if ctx.Err() != nil {
			return
		}
		summary := &summaries[i]

		if r.p.config.NewOnly {
			unchanged, err := r.unchanged(ctx, prov.ID(), summary)
			if err != nil {
				r.fatal(core.StageFetch, err)
				return
			}
			if unchanged {
				r.skipped.Add(1)
				continue
			}
		}

		msg, err := r.fetchConversation(ctx, acct, prov, summary.ID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("failed to fetch conversation", "conversation", summary.ID, "err", err)
			r.fetchFailed.Add(1)
			r.errs.record(newError(core.StageFetch, summary.ID, err))
			continue
		}

		select {
		case r.fetched <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// unchanged reports whether the stored sync state is at least as new as the
// remote conversation.
func (r *run) unchanged(ctx context.Context, providerID string, summary *core.ConversationSummary) (bool, error) {
	state, err := r.p.stores.Catalog.GetSyncState(ctx, providerID, summary.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, asUnavailable(err)
	}
	return !summary.UpdatedAt.After(state.UpdatedAt), nil
}

func (r *run) fetchConversation(ctx context.Context, acct *core.Account, prov provider.Provider, id string) (ConversationFetched, error) {
	conv, atts, err := prov.FetchConversation(ctx, acct, id)
	if err != nil {
		return ConversationFetched{}, fmt.Errorf("%w: %w", core.ErrFetch, err)
	}
	if conv.ID == "" {
		conv.ID = id
	}
	if conv.ProviderID == "" {
		conv.ProviderID = prov.ID()
	}
	if conv.AccountID == "" {
		conv.AccountID = acct.ID
	}
	if n := core.SanitizeParents(conv.Messages); n > 0 {
		r.logger.Debug("cleared broken parent links", "conversation", conv.ID, "count", n)
	}
	if err := core.ValidateConversation(conv); err != nil {
		return ConversationFetched{}, fmt.Errorf("%w: %w", core.ErrFetch, err)
	}
	return ConversationFetched{
		Account:      acct,
		Provider:     prov,
		Conversation: conv,
		Attachments:  atts,
	}, nil
}

// asUnavailable marks a store error as storage unavailability.
func asUnavailable(err error) error {
	if errors.Is(err, core.ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", core.ErrStorageUnavailable, err)
}
