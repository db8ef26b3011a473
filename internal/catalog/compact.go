package catalog

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/openlabels/scanner/internal/database"
)

// Compactor merges the small parquet files a flush cadence produces
// into one file per (table, tenant, date) directory. Merging goes
// through DuckDB, which preserves schemas exactly.
type Compactor struct {
	store     *database.Store
	analytics *Analytics
	basePath  string
	minFiles  int
	schedule  cron.Schedule
	logger    *log.Logger
}

// NewCompactor parses the cron expression (weekly by default) and
// returns a compactor sharing the analytics engine.
func NewCompactor(store *database.Store, analytics *Analytics, basePath string, minFiles int, cronExpr string) (*Compactor, error) {
	if minFiles < 2 {
		minFiles = 8
	}
	if cronExpr == "" {
		cronExpr = "0 3 * * 0"
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("compaction cron: %w", err)
	}
	return &Compactor{
		store:     store,
		analytics: analytics,
		basePath:  basePath,
		minFiles:  minFiles,
		schedule:  schedule,
		logger:    log.New(log.Writer(), "[COMPACT] ", log.LstdFlags),
	}, nil
}

// Run sleeps until each cron tick and compacts under the advisory lock.
func (c *Compactor) Run(ctx context.Context) {
	for {
		next := c.schedule.Next(time.Now())
		t := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		held, err := c.store.WithAdvisoryLock(ctx, database.LockCompaction, func(ctx context.Context) error {
			return c.CompactOnce(ctx)
		})
		if err != nil {
			c.logger.Printf("compaction failed: %v", err)
		} else if held {
			c.logger.Printf("compaction cycle done")
		}
	}
}

// CompactOnce walks every partition directory and merges the ones with
// enough small files.
func (c *Compactor) CompactOnce(ctx context.Context) error {
	for _, table := range Tables {
		dirs, err := partitionDirs(filepath.Join(c.basePath, table))
		if err != nil {
			return err
		}
		for _, dir := range dirs {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := c.compactDir(ctx, dir); err != nil {
				c.logger.Printf("compact %s failed: %v", dir, err)
			}
		}
	}
	return nil
}

// compactDir merges one date directory into a single file, then
// removes the originals. A crash between write and remove leaves
// duplicate rows until the next run, never lost rows.
func (c *Compactor) compactDir(ctx context.Context, dir string) error {
	parts, err := parquetFiles(dir)
	if err != nil {
		return err
	}
	if len(parts) < c.minFiles {
		return nil
	}

	// Write outside the part-* glob first so the merge never reads its
	// own output, then rename into place after the originals are gone.
	ts := time.Now().UnixNano()
	tmp := filepath.Join(dir, fmt.Sprintf("merge-%d.parquet.tmp", ts))
	merged := filepath.Join(dir, fmt.Sprintf("part-%d-merged.parquet", ts))
	glob := filepath.ToSlash(filepath.Join(dir, "part-*.parquet"))
	stmt := fmt.Sprintf(
		`COPY (SELECT * FROM read_parquet('%s', union_by_name=1)) TO '%s' (FORMAT PARQUET, COMPRESSION ZSTD)`,
		glob, filepath.ToSlash(tmp))
	if _, err := c.analytics.db.ExecContext(ctx, stmt); err != nil {
		os.Remove(tmp)
		return err
	}
	for _, p := range parts {
		if err := os.Remove(p); err != nil {
			c.logger.Printf("remove %s failed: %v", p, err)
		}
	}
	if err := os.Rename(tmp, merged); err != nil {
		return err
	}
	c.logger.Printf("merged %d files into %s", len(parts), merged)
	return nil
}

// partitionDirs lists {table}/tenant=*/date=* directories.
func partitionDirs(tableDir string) ([]string, error) {
	tenants, err := os.ReadDir(tableDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, t := range tenants {
		if !t.IsDir() || !strings.HasPrefix(t.Name(), "tenant=") {
			continue
		}
		dates, err := os.ReadDir(filepath.Join(tableDir, t.Name()))
		if err != nil {
			return nil, err
		}
		for _, d := range dates {
			if d.IsDir() && strings.HasPrefix(d.Name(), "date=") {
				out = append(out, filepath.Join(tableDir, t.Name(), d.Name()))
			}
		}
	}
	return out, nil
}

// parquetFiles lists the part files in a partition directory. Earlier
// merge outputs count too; they fold into the next merge.
func parquetFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "part-") || !strings.HasSuffix(name, ".parquet") {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}
