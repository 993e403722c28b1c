// Package syncer reconciles the local event log with a remote one. Events
// are immutable and additive, so there is no merge conflict to resolve: a
// cycle pushes unsynced local events, pulls remote events past a
// (timestamp, sequence) cursor, deduplicates by event ID, and advances the
// cursor only after a fully applied page. At-least-once delivery plus
// idempotent apply gives exactly-once behavior from the caller's view.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/envelope-ledger/internal/domain"
	"github.com/dvloznov/envelope-ledger/internal/eventstore"
	"github.com/dvloznov/envelope-ledger/internal/logger"
)

// DefaultPageSize limits one pull page.
const DefaultPageSize = 500

// Coordinator runs sync cycles against one remote. The device cursor is
// passed in explicitly as SyncState, never held as package state.
type Coordinator struct {
	store    LocalStore
	remote   Remote
	pageSize int
	now      func() time.Time
}

// NewCoordinator creates a coordinator with the default page size.
func NewCoordinator(store LocalStore, remote Remote) *Coordinator {
	return &Coordinator{
		store:    store,
		remote:   remote,
		pageSize: DefaultPageSize,
		now:      time.Now,
	}
}

// SetPageSize overrides the pull page size.
func (c *Coordinator) SetPageSize(n int) {
	if n > 0 {
		c.pageSize = n
	}
}

// SetClock overrides the time source used for synthesized cursors. Intended
// for tests.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

// Sync runs one full cycle: push, then pull until the remote reports no more
// pages. The updated state is persisted before returning. Transport failures
// leave local state untouched; the next cycle retries wholesale.
func (c *Coordinator) Sync(ctx context.Context, state *domain.SyncState) error {
	log := logger.FromContext(ctx)

	if !state.Enabled {
		log.Debug().Str("endpoint", state.Endpoint).Msg("Sync disabled, skipping cycle")
		return nil
	}

	if err := c.push(ctx, log); err != nil {
		return fmt.Errorf("sync cycle: %w", err)
	}
	if err := c.pull(ctx, log, state); err != nil {
		return fmt.Errorf("sync cycle: %w", err)
	}

	if err := c.store.SaveSyncState(ctx, state); err != nil {
		return fmt.Errorf("sync cycle: save state: %w", err)
	}
	return nil
}

// push sends all unsynced local events as one unordered batch and marks them
// synced on success. Safe to resend: the remote dedups by event ID.
func (c *Coordinator) push(ctx context.Context, log zerolog.Logger) error {
	unsynced, err := c.store.ListUnsyncedEvents(ctx)
	if err != nil {
		return fmt.Errorf("push: list unsynced: %w", err)
	}
	if len(unsynced) == 0 {
		log.Debug().Msg("Push: nothing to send")
		return nil
	}

	if err := c.remote.Push(ctx, unsynced); err != nil {
		return fmt.Errorf("push %d events: %w", len(unsynced), err)
	}

	ids := make([]string, len(unsynced))
	for i, e := range unsynced {
		ids[i] = e.ID
	}
	if err := c.store.MarkEventsSynced(ctx, ids); err != nil {
		return fmt.Errorf("push: mark synced: %w", err)
	}

	log.Info().Int("pushed", len(unsynced)).Msg("Pushed local events")
	return nil
}

// pull pages through remote events past the state cursor and applies them.
// The cursor advances only after an entire page applied without
// unrecoverable error, so a failed page is re-requested next cycle.
func (c *Coordinator) pull(ctx context.Context, log zerolog.Logger, state *domain.SyncState) error {
	var applied, skipped int

	for {
		resp, err := c.remote.Pull(ctx, state.Cursor(), c.pageSize)
		if err != nil {
			return fmt.Errorf("pull since %s/%d: %w", state.LastSyncedAt.Format(time.RFC3339), state.LastSequence, err)
		}

		if len(resp.Events) == 0 {
			// Empty page: synthesize a cursor from the current time so empty
			// syncs still make progress.
			state.Advance(domain.Cursor{Timestamp: c.now(), Sequence: state.LastSequence})
			break
		}

		pageApplied, pageSkipped, applyErr := c.applyPage(ctx, log, resp.Events)
		applied += pageApplied
		skipped += pageSkipped
		if applyErr != nil {
			// Whatever inserted stays inserted; the un-advanced cursor makes
			// the next cycle re-request the page, and dedup skips the
			// already-applied half.
			return fmt.Errorf("pull: apply page: %w", applyErr)
		}

		state.Advance(domain.EventCursor(resp.Events[len(resp.Events)-1]))

		if !resp.HasMore {
			break
		}
	}

	log.Info().
		Int("applied", applied).
		Int("skipped", skipped).
		Time("cursor_ts", state.LastSyncedAt).
		Int64("cursor_seq", state.LastSequence).
		Msg("Pull completed")
	return nil
}

// applyPage inserts one pulled page. Events already present locally are
// skipped (idempotent; re-applying a page twice is a no-op). A referenced
// bucket missing locally clears the reference instead of failing the batch.
func (c *Coordinator) applyPage(ctx context.Context, log zerolog.Logger, events []domain.Event) (applied, skipped int, err error) {
	var firstErr error

	for _, e := range events {
		exists, herr := c.store.HasEvent(ctx, e.ID)
		if herr != nil {
			return applied, skipped, fmt.Errorf("check event %s: %w", e.ID, herr)
		}
		if exists {
			skipped++
			continue
		}

		prepared, perr := c.resolveBucketRef(ctx, log, e)
		if perr != nil {
			log.Warn().Err(perr).Str("event_id", e.ID).Msg("Failed to prepare pulled event")
			if firstErr == nil {
				firstErr = perr
			}
			continue
		}

		if ierr := c.store.InsertRemoteEvent(ctx, prepared); ierr != nil {
			if errors.Is(ierr, eventstore.ErrDuplicateEvent) {
				skipped++
				continue
			}
			log.Warn().Err(ierr).Str("event_id", e.ID).Msg("Failed to insert pulled event")
			if firstErr == nil {
				firstErr = ierr
			}
			continue
		}
		applied++

		if serr := c.applyMutation(ctx, prepared); serr != nil {
			// The event itself is durable; only the materialized row lagged.
			// The next mutation of the same entity repairs it.
			log.Warn().Err(serr).Str("event_id", e.ID).Msg("Failed to materialize pulled mutation")
		}
	}

	return applied, skipped, firstErr
}

// applyMutation materializes a pulled bucket or rule mutation into the local
// entity tables so configuration changes propagate between devices.
func (c *Coordinator) applyMutation(ctx context.Context, e domain.Event) error {
	switch e.Type {
	case domain.EventBucketMutated:
		m, err := e.BucketMutation()
		if err != nil {
			return err
		}
		if m.Op == domain.OpDelete {
			if err := c.store.DeleteBucket(ctx, m.Bucket.ID); err != nil && !errors.Is(err, eventstore.ErrNotFound) {
				return err
			}
			return nil
		}
		return c.store.SaveBucket(ctx, &m.Bucket)

	case domain.EventRuleMutated:
		m, err := e.RuleMutation()
		if err != nil {
			return err
		}
		if m.Op == domain.OpDelete {
			if err := c.store.DeleteRule(ctx, m.Rule.ID); err != nil && !errors.Is(err, eventstore.ErrNotFound) {
				return err
			}
			return nil
		}
		return c.store.SaveRule(ctx, &m.Rule)
	}
	return nil
}

// resolveBucketRef checks an allocation event's bucket reference against the
// local bucket table and clears it when the bucket is unknown here, so the
// amount projects to the unassigned pool instead of failing the pull.
func (c *Coordinator) resolveBucketRef(ctx context.Context, log zerolog.Logger, e domain.Event) (domain.Event, error) {
	if e.Type != domain.EventAllocation {
		return e, nil
	}
	alloc, err := e.Allocation()
	if err != nil {
		return e, err
	}
	if alloc.BucketID == "" {
		return e, nil
	}

	_, err = c.store.GetBucket(ctx, alloc.BucketID)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, eventstore.ErrNotFound) {
		return e, fmt.Errorf("resolve bucket %s: %w", alloc.BucketID, err)
	}

	log.Debug().
		Str("event_id", e.ID).
		Str("bucket_id", alloc.BucketID).
		Msg("Pulled event references unknown bucket, treating as unassigned")

	alloc.BucketID = ""
	rewrapped, err := domain.NewAllocationEvent(alloc, e.Timestamp, e.DeviceID)
	if err != nil {
		return e, err
	}
	rewrapped.Sequence = e.Sequence
	return rewrapped, nil
}
