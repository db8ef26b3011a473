package export

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/openlabels/scanner/internal/config"
	"github.com/openlabels/scanner/internal/database"
	"github.com/openlabels/scanner/internal/monitoring"
)

const (
	// exportBatchSize caps records per ExportBatch call; Splunk HEC is
	// the tightest sink at 500 events per request.
	exportBatchSize = 500
	// collectLimit caps records gathered per sink per cycle; a backlog
	// drains over consecutive cycles.
	collectLimit = 5000
)

// Engine drives SIEM delivery. Each enabled sink keeps its own
// persisted cursor and its own circuit breaker, so one slow or broken
// platform never blocks the others.
type Engine struct {
	store    *database.Store
	cfg      config.SIEMExportConfig
	sinks    []Sink
	breakers map[string]*breaker
	logger   *log.Logger
}

// NewEngine builds the sinks the config enables.
func NewEngine(store *database.Store, cfg config.SIEMExportConfig) *Engine {
	e := &Engine{
		store:    store,
		cfg:      cfg,
		breakers: map[string]*breaker{},
		logger:   log.New(log.Writer(), "[EXPORT] ", log.LstdFlags),
	}
	if cfg.Splunk.Enabled {
		e.addSink(NewSplunkSink(cfg.Splunk))
	}
	if cfg.Sentinel.Enabled {
		e.addSink(NewSentinelSink(cfg.Sentinel))
	}
	if cfg.QRadar.Enabled {
		e.addSink(NewQRadarSink(cfg.QRadar))
	}
	if cfg.Elastic.Enabled {
		e.addSink(NewElasticSink(cfg.Elastic))
	}
	if cfg.SyslogCEF.Enabled {
		e.addSink(NewCEFSink(cfg.SyslogCEF))
	}
	return e
}

func (e *Engine) addSink(s Sink) {
	e.sinks = append(e.sinks, s)
	e.breakers[s.Name()] = newBreaker(s.Name(), 5, 60*time.Second)
}

// Sinks returns the configured sink names, for the status endpoint.
func (e *Engine) Sinks() []string {
	names := make([]string, 0, len(e.sinks))
	for _, s := range e.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Run is the periodic export loop. One replica exports at a time,
// coordinated by the advisory lock.
func (e *Engine) Run(ctx context.Context) {
	if !e.cfg.Enabled || len(e.sinks) == 0 {
		return
	}
	if e.cfg.Mode != "periodic" && e.cfg.Mode != "both" {
		return
	}
	interval := time.Duration(e.cfg.PeriodicIntervalS) * time.Second
	if interval <= 0 {
		interval = 300 * time.Second
	}
	e.logger.Printf("export loop started (every %s, sinks=%v)", interval, e.Sinks())
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			e.logger.Printf("export loop stopped")
			return
		case <-t.C:
			_, err := e.store.WithAdvisoryLock(ctx, database.LockSIEMExport, func(ctx context.Context) error {
				e.ExportSinceLast(ctx)
				return nil
			})
			if err != nil {
				e.logger.Printf("export cycle failed: %v", err)
			}
		}
	}
}

// PostScan exports one finished job's results. Wired as the
// orchestrator's post-scan hook; cursors are untouched, the periodic
// loop remains the source of truth for incremental delivery.
func (e *Engine) PostScan(ctx context.Context, tenantID, jobID uuid.UUID) {
	if !e.cfg.Enabled || len(e.sinks) == 0 {
		return
	}
	if e.cfg.Mode != "post_scan" && e.cfg.Mode != "both" {
		return
	}
	offset := 0
	for {
		rows, err := e.store.QueryScanResults(ctx, tenantID, database.ResultFilter{
			JobID:  &jobID,
			Limit:  exportBatchSize,
			Offset: offset,
		})
		if err != nil {
			e.logger.Printf("post-scan export job=%s: %v", jobID, err)
			return
		}
		if len(rows) == 0 {
			return
		}
		records := make([]Record, len(rows))
		for i, r := range rows {
			records[i] = FromScanResult(r)
		}
		for _, s := range e.sinks {
			if _, err := e.send(ctx, s, records); err != nil {
				e.logger.Printf("post-scan export job=%s sink=%s: %v", jobID, s.Name(), err)
			}
		}
		if len(rows) < exportBatchSize {
			return
		}
		offset += len(rows)
	}
}

// ExportSinceLast runs one incremental cycle: each sink picks up where
// its cursor left off. Failures are isolated per sink.
func (e *Engine) ExportSinceLast(ctx context.Context) {
	for _, s := range e.sinks {
		if err := e.exportSink(ctx, s); err != nil {
			e.logger.Printf("sink=%s export failed: %v", s.Name(), err)
		}
	}
}

// ExportFull replays everything after since to every sink, without
// moving cursors. Backfill after onboarding a new SIEM.
func (e *Engine) ExportFull(ctx context.Context, since time.Time, recordTypes []string) error {
	if len(recordTypes) == 0 {
		recordTypes = e.cfg.RecordTypes
	}
	var firstErr error
	for _, s := range e.sinks {
		cursor := since
		for {
			records, err := e.collect(ctx, recordTypes, cursor)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				break
			}
			if err := e.deliver(ctx, s, records); err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("sink %s: %w", s.Name(), err)
				}
				break
			}
			cursor = records[len(records)-1].Time
			if len(records) < collectLimit {
				break
			}
		}
	}
	return firstErr
}

// exportSink drains one sink from its persisted cursor. The cursor
// advances only after the final chunk of a batch is fully acknowledged,
// so a partial delivery is re-sent next cycle rather than lost.
func (e *Engine) exportSink(ctx context.Context, s Sink) error {
	for {
		cursor, err := e.store.GetExportCursor(ctx, s.Name())
		if err != nil {
			return err
		}
		records, err := e.collect(ctx, e.cfg.RecordTypes, cursor)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		if err := e.deliver(ctx, s, records); err != nil {
			return err
		}
		if err := e.store.CommitExportCursor(ctx, s.Name(), records[len(records)-1].Time); err != nil {
			return err
		}
		if len(records) < collectLimit {
			return nil
		}
	}
}

// deliver pushes one gathered batch through a sink in wire-sized
// chunks, failing the whole batch if any chunk falls short.
func (e *Engine) deliver(ctx context.Context, s Sink, records []Record) error {
	for start := 0; start < len(records); start += exportBatchSize {
		end := start + exportBatchSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]
		sent, err := e.send(ctx, s, chunk)
		if err != nil {
			return err
		}
		if sent != len(chunk) {
			return fmt.Errorf("short delivery: sent %d of %d", sent, len(chunk))
		}
	}
	return nil
}

// send runs one ExportBatch through the sink's breaker with
// exponential-backoff retries. An open breaker aborts immediately.
func (e *Engine) send(ctx context.Context, s Sink, records []Record) (int, error) {
	b := e.breakers[s.Name()]
	var sent int

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 2 * time.Minute

	err := backoff.Retry(func() error {
		err := b.Execute(func() error {
			n, err := s.ExportBatch(ctx, records)
			sent = n
			return err
		})
		if errors.Is(err, errBreakerOpen) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(bo, ctx))

	if err != nil {
		monitoring.ExportBatches.WithLabelValues(s.Name(), "error").Inc()
		return sent, err
	}
	monitoring.ExportBatches.WithLabelValues(s.Name(), "ok").Inc()
	return sent, nil
}

// collect gathers records of the requested types across all tenants,
// strictly after since, in event-time order.
func (e *Engine) collect(ctx context.Context, recordTypes []string, since time.Time) ([]Record, error) {
	tenants, err := e.store.ListTenantIDs(ctx)
	if err != nil {
		return nil, err
	}
	var records []Record
	for _, t := range recordTypes {
		switch t {
		case RecordScanResult:
			for _, tenantID := range tenants {
				rows, err := e.store.ResultsSince(ctx, tenantID, since, collectLimit)
				if err != nil {
					return nil, err
				}
				for _, r := range rows {
					records = append(records, FromScanResult(r))
				}
			}
		case RecordAccessEvent:
			for _, tenantID := range tenants {
				rows, err := e.store.AccessEventsSince(ctx, tenantID, since, collectLimit)
				if err != nil {
					return nil, err
				}
				for _, ev := range rows {
					records = append(records, FromAccessEvent(ev))
				}
			}
		default:
			return nil, fmt.Errorf("unknown export record type %q", t)
		}
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].Time.Before(records[j].Time) })
	if len(records) > collectLimit {
		records = records[:collectLimit]
	}
	return records, nil
}

// TestSinks probes every configured sink, for the connection-test
// endpoint.
func (e *Engine) TestSinks(ctx context.Context) map[string]string {
	out := make(map[string]string, len(e.sinks))
	for _, s := range e.sinks {
		if err := s.TestConnection(ctx); err != nil {
			out[s.Name()] = err.Error()
		} else {
			out[s.Name()] = "ok"
		}
	}
	return out
}
