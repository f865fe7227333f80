// Package watcher follows item-burn events on the chain and releases the
// matching instance IDs in the signing authority, so a burned item can be
// minted again. Its cursor and processed-burn set live in a local BoltDB
// file, which keeps restarts idempotent.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mintforge/authority"
	"mintforge/observability"
)

// Config tunes the polling loop.
type Config struct {
	PollInterval  time.Duration
	BatchSize     int
	Confirmations uint64
	Logger        *slog.Logger
}

// Watcher polls a chain node for burn events and clears minted instances.
type Watcher struct {
	node          NodeClient
	store         *Store
	auth          *authority.Authority
	pollInterval  time.Duration
	batchSize     int
	confirmations uint64
	logger        *slog.Logger
	metrics       *observability.ForgeMetrics
}

// New constructs a watcher with sane defaults for unset config fields.
func New(node NodeClient, store *Store, auth *authority.Authority, cfg Config) (*Watcher, error) {
	if node == nil {
		return nil, fmt.Errorf("watcher: node client required")
	}
	if store == nil {
		return nil, fmt.Errorf("watcher: store required")
	}
	if auth == nil {
		return nil, fmt.Errorf("watcher: authority required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{
		node:          node,
		store:         store,
		auth:          auth,
		pollInterval:  cfg.PollInterval,
		batchSize:     cfg.BatchSize,
		confirmations: cfg.Confirmations,
		logger:        logger,
		metrics:       observability.Forge(),
	}
	if w.pollInterval <= 0 {
		w.pollInterval = 5 * time.Second
	}
	if w.batchSize <= 0 {
		w.batchSize = 100
	}
	return w, nil
}

// Run starts the polling loop until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Poll(ctx); err != nil {
				w.logger.Error("burn poll failed", "error", err)
			}
		}
	}
}

// Poll fetches one batch of burn events and applies every event that has
// reached the confirmation depth. Events past the depth stop the batch; they
// stay ahead of the cursor and are retried next tick.
func (w *Watcher) Poll(ctx context.Context) error {
	latest, err := w.node.LatestHeight(ctx)
	if err != nil {
		return fmt.Errorf("latest height: %w", err)
	}
	cursor, err := w.store.Cursor()
	if err != nil {
		return err
	}
	events, err := w.node.FetchBurnEvents(ctx, cursor, w.batchSize)
	if err != nil {
		return fmt.Errorf("fetch burn events: %w", err)
	}

	for _, event := range events {
		if event.Sequence <= cursor {
			continue
		}
		if !w.confirmed(event.Height, latest) {
			// Events arrive in sequence order; everything after this
			// one is at least as shallow.
			return nil
		}
		if err := w.apply(event); err != nil {
			return err
		}
		cursor = event.Sequence
	}
	return nil
}

func (w *Watcher) confirmed(eventHeight, latest uint64) bool {
	if latest < eventHeight {
		return false
	}
	return latest-eventHeight >= w.confirmations
}

func (w *Watcher) apply(event BurnEvent) error {
	processed, err := w.store.IsProcessed(event.InstanceID)
	if err != nil {
		return err
	}
	if processed {
		return w.store.SetCursor(event.Sequence)
	}

	id, err := authority.ParseInstanceID(event.InstanceID)
	if err != nil {
		// A malformed instance ID cannot match anything the authority
		// signed; skip it rather than wedging the cursor.
		w.logger.Warn("skipping burn with malformed instance id",
			"instanceId", event.InstanceID, "txHash", event.TxHash, "error", err)
		return w.store.SetCursor(event.Sequence)
	}

	reason := fmt.Sprintf("burned in tx %s at height %d", event.TxHash, event.Height)
	if err := w.auth.ClearMintedInstance(id, reason); err != nil {
		return fmt.Errorf("clear instance %s: %w", event.InstanceID, err)
	}
	if err := w.store.MarkProcessed(event.InstanceID, event.TxHash, event.Sequence); err != nil {
		return err
	}
	w.metrics.RecordBurnProcessed()
	w.logger.Info("burned instance released",
		"instanceId", event.InstanceID, "player", event.Player,
		"txHash", event.TxHash, "height", event.Height)
	return nil
}
