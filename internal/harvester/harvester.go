// Package harvester collects file access events from pull providers
// (auditd logs, M365 audit API, Windows SACLs) and stream providers
// (Pub/Sub change notifications), persists them, and triggers rescans
// of monitored files on observed writes.
package harvester

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/openlabels/scanner/internal/core"
	"github.com/openlabels/scanner/internal/database"
	"github.com/openlabels/scanner/internal/monitoring"
	"github.com/openlabels/scanner/internal/queue"
)

// RawAccessEvent is a provider-shaped event before tenant attribution.
type RawAccessEvent struct {
	FilePath    string
	Action      core.AccessAction
	UserName    string
	ProcessName string
	EventTime   time.Time
}

// PullProvider harvests events newer than since and returns the new
// cursor position. The cursor is committed only after the events are
// persisted, so a crash between harvest and commit re-reads, never
// loses.
type PullProvider interface {
	Name() string
	Harvest(ctx context.Context, since time.Time) ([]RawAccessEvent, time.Time, error)
}

// registration binds a provider to the tenant its events belong to and
// the advisory lock that keeps the harvest single-flight across
// replicas.
type registration struct {
	provider PullProvider
	tenantID uuid.UUID
	lockID   int64
}

// Harvester drives the pull loop and owns the persist path shared with
// stream providers.
type Harvester struct {
	store    *database.Store
	queue    *queue.Queue
	interval time.Duration
	pulls    []registration
	logger   *log.Logger
}

// New builds a harvester. Providers are added with AddPull before Run.
func New(store *database.Store, q *queue.Queue, interval time.Duration) *Harvester {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Harvester{
		store:    store,
		queue:    q,
		interval: interval,
		logger:   log.New(log.Writer(), "[HARVEST] ", log.LstdFlags),
	}
}

// AddPull registers a pull provider for one tenant under an advisory
// lock id.
func (h *Harvester) AddPull(p PullProvider, tenantID uuid.UUID, lockID int64) {
	h.pulls = append(h.pulls, registration{provider: p, tenantID: tenantID, lockID: lockID})
}

// Run polls all pull providers until ctx is cancelled.
func (h *Harvester) Run(ctx context.Context) {
	h.logger.Printf("starting pull loop (%d providers, every %s)", len(h.pulls), h.interval)
	t := time.NewTicker(h.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			h.logger.Printf("pull loop stopped")
			return
		case <-t.C:
			for _, reg := range h.pulls {
				h.harvestOne(ctx, reg)
			}
		}
	}
}

// harvestOne runs one provider's cycle under its advisory lock.
func (h *Harvester) harvestOne(ctx context.Context, reg registration) {
	_, err := h.store.WithAdvisoryLock(ctx, reg.lockID, func(ctx context.Context) error {
		since, err := h.store.GetCheckpoint(ctx, reg.tenantID, reg.provider.Name())
		if err != nil {
			return err
		}
		raw, cursor, err := reg.provider.Harvest(ctx, since)
		if err != nil {
			return err
		}
		if len(raw) == 0 {
			return nil
		}
		if err := h.Persist(ctx, reg.tenantID, reg.provider.Name(), raw); err != nil {
			return err
		}
		monitoring.EventsHarvested.WithLabelValues(reg.provider.Name()).Add(float64(len(raw)))
		return h.store.CommitCheckpoint(ctx, reg.tenantID, reg.provider.Name(), cursor)
	})
	if err != nil {
		h.logger.Printf("%s harvest failed: %v", reg.provider.Name(), err)
	}
}

// Persist writes a batch of raw events for one tenant and fires the
// monitored-file rescan hook. Shared by pull and stream paths.
func (h *Harvester) Persist(ctx context.Context, tenantID uuid.UUID, source string, raw []RawAccessEvent) error {
	events := make([]core.FileAccessEvent, len(raw))
	for i, r := range raw {
		events[i] = core.FileAccessEvent{
			TenantID:    tenantID,
			FilePath:    r.FilePath,
			Action:      r.Action,
			UserName:    r.UserName,
			ProcessName: r.ProcessName,
			EventTime:   r.EventTime.UTC(),
			EventSource: source,
		}
	}
	if err := h.store.InsertAccessEvents(ctx, events); err != nil {
		return err
	}
	h.triggerRescans(ctx, tenantID, raw)
	return nil
}

// triggerRescans enqueues a high-priority single-file rescan for every
// write or create that touched a registered monitored file. Hook
// failures are logged, never propagated; event persistence already
// succeeded.
func (h *Harvester) triggerRescans(ctx context.Context, tenantID uuid.UUID, raw []RawAccessEvent) {
	seen := map[string]bool{}
	for _, r := range raw {
		if r.Action != core.ActionWrite && r.Action != core.ActionCreate {
			continue
		}
		if seen[r.FilePath] {
			continue
		}
		seen[r.FilePath] = true

		mf, err := h.store.LookupMonitoredFile(ctx, tenantID, r.FilePath)
		if err != nil {
			h.logger.Printf("monitored lookup failed for %s: %v", r.FilePath, err)
			continue
		}
		if mf == nil || !mf.RescanOnWrite {
			continue
		}
		task := core.RescanTask{TargetID: mf.TargetID.String(), FilePath: mf.FilePath}
		if _, err := h.queue.Enqueue(ctx, tenantID, queue.TaskRescanFile, task, queue.PriorityRescan); err != nil {
			h.logger.Printf("rescan enqueue failed for %s: %v", mf.FilePath, err)
			continue
		}
		h.logger.Printf("rescan queued for monitored file %s", mf.FilePath)
	}
}
