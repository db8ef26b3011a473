package orchestrator

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/openlabels/scanner/internal/adapters"
	"github.com/openlabels/scanner/internal/core"
	"github.com/openlabels/scanner/internal/detect"
	"github.com/openlabels/scanner/internal/monitoring"
	"github.com/openlabels/scanner/internal/risk"
)

// resultBatchSize is how many files accumulate before results, job
// counters and the resume cursor are flushed together.
const resultBatchSize = 100

// cancelPollEvery is how many files pass between Postgres cancellation
// checks when Redis is unavailable.
const cancelPollEvery = 100

// scanRun carries everything one scan (job or partition) needs.
type scanRun struct {
	tenantID uuid.UUID
	jobID    uuid.UUID
	adapter  adapters.StorageAdapter

	// filter limits the run to one partition's slice; nil scans all.
	filter func(adapters.FileInfo) bool
	// partitionID enables per-partition resume bookkeeping.
	partitionID uuid.UUID
	startCursor string

	concurrency  int
	memoryBudget int64
	policies     []core.Policy
}

// scanStats is the outcome of one run.
type scanStats struct {
	FilesScanned  int64
	FilesWithPII  int64
	TotalEntities int64
	LastCursor    string
}

var errCancelled = errors.New("scan cancelled")

// runScan enumerates and processes files with bounded concurrency and a
// memory-weighted semaphore; large files wait for budget instead of
// piling up in RAM. Per-file failures become scan_error rows, never run
// failures.
func (o *Orchestrator) runScan(ctx context.Context, run scanRun) (scanStats, error) {
	if run.concurrency <= 0 {
		run.concurrency = 8
	}
	if run.memoryBudget <= 0 {
		run.memoryBudget = 512 << 20
	}
	sem := semaphore.NewWeighted(run.memoryBudget)

	var (
		mu      sync.Mutex
		batch   []core.ScanResult
		stats   scanStats
		pending scanStats // counters not yet flushed to the job row
	)

	flush := func(ctx context.Context) error {
		mu.Lock()
		toWrite := batch
		toAdd := pending
		batch = nil
		pending = scanStats{}
		mu.Unlock()

		if len(toWrite) == 0 && toAdd.FilesScanned == 0 {
			return nil
		}
		if err := o.store.InsertScanResults(ctx, toWrite); err != nil {
			return core.Transient("result batch insert failed", err)
		}
		if err := o.store.AddJobCounters(ctx, run.jobID, toAdd.FilesScanned, toAdd.FilesWithPII, toAdd.TotalEntities); err != nil {
			return core.Transient("job counter update failed", err)
		}
		if run.partitionID != uuid.Nil && toAdd.LastCursor != "" {
			if err := o.store.SavePartitionProgress(ctx, run.partitionID, toAdd.LastCursor); err != nil {
				return core.Transient("partition progress save failed", err)
			}
		}
		return nil
	}

	enumCtx, cancelEnum := context.WithCancel(ctx)
	defer cancelEnum()
	files, errc := run.adapter.Enumerate(enumCtx, run.startCursor)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(run.concurrency)

	var seen int64
	for fi := range files {
		if run.filter != nil && !run.filter(fi) {
			continue
		}
		seen++
		if err := o.checkCancelled(gctx, run.jobID, seen); err != nil {
			cancelEnum()
			_ = g.Wait()
			_ = flush(context.WithoutCancel(ctx))
			return stats, err
		}

		fi := fi
		weight := fi.Size
		if weight < 1<<20 {
			weight = 1 << 20
		}
		if weight > run.memoryBudget {
			weight = run.memoryBudget
		}
		if err := sem.Acquire(gctx, weight); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(weight)
			result := o.scanFile(gctx, run, fi)

			mu.Lock()
			batch = append(batch, result)
			stats.FilesScanned++
			pending.FilesScanned++
			if result.ScanError == "" && !bytes.Equal(result.EntityCounts, []byte("{}")) {
				stats.FilesWithPII++
				pending.FilesWithPII++
			}
			n := entityTotal(result.EntityCounts)
			stats.TotalEntities += n
			pending.TotalEntities += n
			stats.LastCursor = maxString(stats.LastCursor, fi.Cursor)
			pending.LastCursor = stats.LastCursor
			needFlush := len(batch) >= resultBatchSize
			mu.Unlock()

			if needFlush {
				return flush(gctx)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		_ = flush(context.WithoutCancel(ctx))
		return stats, err
	}
	if err := <-errc; err != nil && !errors.Is(err, context.Canceled) {
		_ = flush(context.WithoutCancel(ctx))
		return stats, err
	}
	if err := flush(ctx); err != nil {
		return stats, err
	}
	return stats, nil
}

// scanFile reads, detects, scores and evaluates policy for one file.
// Failures land in ScanError; the returned row is always insertable.
func (o *Orchestrator) scanFile(ctx context.Context, run scanRun, fi adapters.FileInfo) core.ScanResult {
	result := core.ScanResult{
		TenantID:      run.tenantID,
		JobID:         run.jobID,
		FilePath:      fi.Path,
		FileName:      fi.Name,
		FileSize:      fi.Size,
		ExposureLevel: fi.Exposure,
		EntityCounts:  json.RawMessage("{}"),
		RiskTier:      core.TierMinimal,
		ScannedAt:     time.Now().UTC(),
	}

	data, err := run.adapter.Read(ctx, fi)
	if err != nil {
		result.ScanError = err.Error()
		monitoring.FilesErrored.WithLabelValues(run.tenantID.String()).Inc()
		return result
	}
	sum := sha256.Sum256(data)
	result.ContentHash = hex.EncodeToString(sum[:])

	text, ok := extractText(fi.Name, data)
	if !ok {
		// Binary formats without a text extraction path scan clean.
		monitoring.FilesScanned.WithLabelValues(run.tenantID.String()).Inc()
		return result
	}

	entities := o.pipeline.Detect(ctx, text)
	counts := detect.CountByType(entities)
	result.EntityCounts = mustJSON(counts)
	result.RiskScore = risk.Score(counts, fi.Exposure)
	result.RiskTier = risk.TierFor(result.RiskScore)

	if len(run.policies) > 0 && len(counts) > 0 {
		verdict := risk.Evaluate(run.policies, counts, detect.MaxConfidenceByType(entities))
		if verdict.Violated() {
			result.PolicyViolations = mustJSON(verdict.Matches)
			o.remediate(ctx, run, fi, &result, verdict)
		}
	}

	monitoring.FilesScanned.WithLabelValues(run.tenantID.String()).Inc()
	monitoring.EntitiesDetected.WithLabelValues(run.tenantID.String()).Add(float64(entityTotal(result.EntityCounts)))
	return result
}

// checkCancelled consults the Redis fast flag every file and Postgres
// every cancelPollEvery files (always Postgres when Redis is absent).
func (o *Orchestrator) checkCancelled(ctx context.Context, jobID uuid.UUID, seen int64) error {
	if o.redis != nil {
		if cancelled, err := o.redis.IsJobCancelled(ctx, jobID.String()); err == nil && cancelled {
			return errCancelled
		}
		if seen%cancelPollEvery != 0 {
			return nil
		}
	} else if seen%cancelPollEvery != 0 {
		return nil
	}
	cancelled, err := o.store.IsJobCancelled(ctx, jobID)
	if err != nil {
		return nil // cancellation polling never fails a scan
	}
	if cancelled {
		return errCancelled
	}
	return nil
}

func entityTotal(counts json.RawMessage) int64 {
	var m map[string]int64
	if err := json.Unmarshal(counts, &m); err != nil {
		return 0
	}
	var n int64
	for _, v := range m {
		n += v
	}
	return n
}

func maxString(a, b string) string {
	if b > a {
		return b
	}
	return a
}
