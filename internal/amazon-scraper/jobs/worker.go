package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/maltedev/amazon-product-fetcher/internal/amazon-scraper/events"
	"github.com/maltedev/amazon-product-fetcher/internal/amazon-scraper/scraper"
	"github.com/maltedev/amazon-product-fetcher/internal/database"
)

// StartWorker processes pending jobs until ctx is cancelled. Jobs left
// running by a previous process are requeued first.
func (m *Manager) StartWorker(ctx context.Context) {
	m.logger.Info("job worker started", "poll_interval", m.cfg.PollInterval)

	if n, err := m.store.RequeueRunning(ctx); err != nil {
		m.logger.Error("failed to requeue interrupted jobs", "error", err)
	} else if n > 0 {
		m.logger.Info("requeued interrupted jobs", "count", n)
	}

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("job worker stopping")
			return
		case <-ticker.C:
			for m.processNextJob(ctx) {
			}
		}
	}
}

// processNextJob runs one pending job to completion. It reports whether a
// job was claimed.
func (m *Manager) processNextJob(ctx context.Context) bool {
	job, err := m.store.ClaimNextJob(ctx)
	if errors.Is(err, database.ErrNoPendingJobs) {
		return false
	}
	if err != nil {
		m.logger.Error("failed to claim job", "error", err)
		return false
	}

	m.logger.Info("processing job", "id", job.ID, "items", job.TotalItems)

	if err := m.processJob(ctx, job); err != nil {
		if ctx.Err() != nil {
			// left running; requeued on the next start
			m.logger.Warn("job interrupted", "id", job.ID)
			return false
		}
		m.logger.Error("job failed", "id", job.ID, "error", err)
		if err := m.store.FinishJob(ctx, job.ID, database.JobStatusFailed, err); err != nil {
			m.logger.Error("failed to mark job as failed", "id", job.ID, "error", err)
		}
		return true
	}

	if err := m.store.FinishJob(ctx, job.ID, database.JobStatusCompleted, nil); err != nil {
		m.logger.Error("failed to mark job as completed", "id", job.ID, "error", err)
	}

	m.logger.Info("job completed", "id", job.ID)
	return true
}

// processJob fetches every pending item in order, one at a time.
func (m *Manager) processJob(ctx context.Context, job *database.ImportJob) error {
	items, err := m.store.PendingItems(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to load items: %w", err)
	}

	for _, item := range items {
		if err := m.pacer.Wait(ctx); err != nil {
			return err
		}
		if err := m.processItem(ctx, item); err != nil {
			return fmt.Errorf("item %d: %w", item.Position, err)
		}
	}
	return nil
}

func (m *Manager) processItem(ctx context.Context, item *database.ImportJobItem) error {
	res := m.fetcher.FetchProduct(ctx, item.Input)

	resp, err := json.Marshal(scraper.NewResponse(res))
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	item.Response = resp

	if res.Record.ASIN != "" {
		asin := res.Record.ASIN
		item.ASIN = &asin
	}

	if res.OK() {
		item.Status = database.ItemStatusSucceeded
	} else {
		item.Status = database.ItemStatusFailed
		kind, msg := string(res.Err.Kind), res.Err.Error()
		item.ErrorKind = &kind
		item.ErrorMessage = &msg
	}

	event, err := events.NewProductFetched(item.JobID, item.Position, item.Input, res).OutboxEvent()
	if err != nil {
		return err
	}

	if err := m.store.CompleteItem(ctx, item, event); err != nil {
		return fmt.Errorf("failed to save item: %w", err)
	}

	m.logger.Debug("item processed",
		"job_id", item.JobID,
		"position", item.Position,
		"status", item.Status,
		"asin", res.Record.ASIN)
	return nil
}
