// Package store persists a campaign: its configuration record, the ordered
// collection of completed results, and the per-run output directories.
//
// Layout of a campaign directory:
//
//	<campaign_dir>/config.yaml     configuration record
//	<campaign_dir>/results.db      results collection (SQLite)
//	<campaign_dir>/data/<id>/      stdout and stderr of each completed run
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/simulation-campaign/internal/store/migrations"
	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/config"
	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/logger"
	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/models"
	_ "modernc.org/sqlite"
)

const (
	// ResultsFile is the SQLite file holding the results collection.
	ResultsFile = "results.db"
	// DataDirName is the directory holding one subdirectory per run.
	DataDirName = "data"
)

var (
	ErrConfigurationExists = errors.New("campaign directory already exists")
	ErrValidation          = errors.New("invalid result")
)

// Filter selects results by parameter value. A result matches when, for every
// key, its value is one of the listed candidates.
type Filter map[string][]any

// Database is an open campaign.
type Database struct {
	// mu serializes every access to the results collection. The collection is
	// an append-only sequence and is not safe for concurrent append.
	mu  sync.Mutex
	cfg config.Campaign
	dir string
	db  *sql.DB
}

// Create initializes a new campaign at cfg.CampaignDir. It fails with
// ErrConfigurationExists when the directory exists, unless overwrite is set,
// in which case all prior state is discarded.
func Create(ctx context.Context, cfg config.Campaign, overwrite bool) (*Database, error) {
	if strings.TrimSpace(cfg.CampaignDir) == "" {
		return nil, fmt.Errorf("campaign directory is required")
	}
	dir, err := filepath.Abs(cfg.CampaignDir)
	if err != nil {
		return nil, fmt.Errorf("resolve campaign directory: %w", err)
	}

	if err := Available(dir); err != nil {
		if !overwrite || !errors.Is(err, ErrConfigurationExists) {
			return nil, err
		}
		logger.Warn("overwriting existing campaign", "campaign_dir", dir)
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("remove existing campaign: %w", err)
		}
	}

	cfg.CampaignDir = dir
	cfg.Params = slices.Clone(cfg.Params)
	if !slices.Contains(cfg.Params, models.RngRunParam) {
		cfg.Params = append(cfg.Params, models.RngRunParam)
	}

	if err := os.MkdirAll(filepath.Join(dir, DataDirName), 0o755); err != nil {
		return nil, fmt.Errorf("create campaign layout: %w", err)
	}
	if err := config.SaveCampaign(dir, &cfg); err != nil {
		return nil, err
	}

	sqlDB, err := openResults(ctx, dir)
	if err != nil {
		return nil, err
	}
	logger.Info("campaign created", "campaign_dir", dir, "script", cfg.ScriptName, "params", cfg.Params)
	return &Database{cfg: cfg, dir: dir, db: sqlDB}, nil
}

// Available returns ErrConfigurationExists when dir already exists.
func Available(dir string) error {
	_, err := os.Stat(dir)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", ErrConfigurationExists, dir)
	case errors.Is(err, fs.ErrNotExist):
		return nil
	default:
		return fmt.Errorf("stat campaign directory: %w", err)
	}
}

// Load reopens the campaign rooted at dir.
func Load(ctx context.Context, dir string) (*Database, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve campaign directory: %w", err)
	}
	cfg, err := config.LoadCampaign(abs)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(abs, DataDirName), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	sqlDB, err := openResults(ctx, abs)
	if err != nil {
		return nil, err
	}
	return &Database{cfg: *cfg, dir: abs, db: sqlDB}, nil
}

func openResults(ctx context.Context, dir string) (*sql.DB, error) {
	dsn := filepath.Join(dir, ResultsFile) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open results db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping results db: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return sqlDB, nil
}

// Close releases the results collection.
func (d *Database) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Config returns a copy of the campaign configuration.
func (d *Database) Config() config.Campaign {
	cfg := d.cfg
	cfg.Params = slices.Clone(d.cfg.Params)
	return cfg
}

// DeclaredParams returns the campaign's parameter names, RngRun included.
func (d *Database) DeclaredParams() []string {
	return slices.Clone(d.cfg.Params)
}

// Dir returns the campaign directory.
func (d *Database) Dir() string {
	return d.dir
}

// DataDir returns the directory holding per-run output directories.
func (d *Database) DataDir() string {
	return filepath.Join(d.dir, DataDirName)
}

// InsertResult validates r against the declared parameters and appends it.
func (d *Database) InsertResult(ctx context.Context, r models.Result) error {
	if r.Params == nil {
		return fmt.Errorf("%w: missing params", ErrValidation)
	}
	if r.Meta == nil {
		return fmt.Errorf("%w: missing meta", ErrValidation)
	}
	if r.Meta.ID == "" {
		return fmt.Errorf("%w: missing meta id", ErrValidation)
	}
	params, err := models.NewParameterCombination(r.Params)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := d.validateKeys(params); err != nil {
		return err
	}
	if run, ok := params.RngRun(); !ok || run < 0 {
		return fmt.Errorf("%w: %s must be a non-negative integer, got %v",
			ErrValidation, models.RngRunParam, params[models.RngRunParam])
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		"INSERT INTO results (id, elapsed_time, created_at) VALUES (?, ?, ?)",
		r.Meta.ID, r.Meta.ElapsedTime, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert result: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert result: %w", err)
	}
	for _, name := range params.Names() {
		kind, text, num := models.Encode(params[name])
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO result_params (result_seq, name, kind, text_value, num_value) VALUES (?, ?, ?, ?, ?)",
			seq, name, kind, text, num,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert result param %s: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit result: %w", err)
	}
	return nil
}

func (d *Database) validateKeys(params models.ParameterCombination) error {
	for _, name := range d.cfg.Params {
		if _, ok := params[name]; !ok {
			return fmt.Errorf("%w: missing parameter %s", ErrValidation, name)
		}
	}
	for _, name := range params.Names() {
		if !slices.Contains(d.cfg.Params, name) {
			return fmt.Errorf("%w: unexpected parameter %s", ErrValidation, name)
		}
	}
	return nil
}

// Results returns the results matching filter in insertion order. A nil or
// empty filter matches every result.
func (d *Database) Results(ctx context.Context, filter Filter) ([]models.Result, error) {
	where, args, err := buildWhere(filter)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	rows, err := d.db.QueryContext(ctx, `
SELECT r.seq, r.id, r.elapsed_time, p.name, p.kind, p.text_value
FROM results r
JOIN result_params p ON p.result_seq = r.seq
WHERE `+where+`
ORDER BY r.seq, p.name`, args...)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	out := make([]models.Result, 0)
	lastSeq := int64(-1)
	for rows.Next() {
		var (
			seq              int64
			id               string
			elapsed          float64
			name, kind, text string
		)
		if err := rows.Scan(&seq, &id, &elapsed, &name, &kind, &text); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		value, err := models.Decode(kind, text)
		if err != nil {
			return nil, fmt.Errorf("decode result %s param %s: %w", id, name, err)
		}
		if seq != lastSeq {
			out = append(out, models.Result{
				Params: models.ParameterCombination{},
				Meta:   &models.Meta{ID: id, ElapsedTime: elapsed},
			})
			lastSeq = seq
		}
		out[len(out)-1].Params[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}

// CompleteResults is Results with each result's stdout and stderr read back
// from its run directory.
func (d *Database) CompleteResults(ctx context.Context, filter Filter) ([]models.Result, error) {
	results, err := d.Results(ctx, filter)
	if err != nil {
		return nil, err
	}
	for i := range results {
		runDir := filepath.Join(d.DataDir(), results[i].Meta.ID)
		stdout, err := os.ReadFile(filepath.Join(runDir, "stdout"))
		if err != nil {
			return nil, fmt.Errorf("read stdout of %s: %w", results[i].Meta.ID, err)
		}
		stderr, err := os.ReadFile(filepath.Join(runDir, "stderr"))
		if err != nil {
			return nil, fmt.Errorf("read stderr of %s: %w", results[i].Meta.ID, err)
		}
		results[i].Output = &models.Output{Stdout: string(stdout), Stderr: string(stderr)}
	}
	return results, nil
}

// CountResults returns the number of results matching filter.
func (d *Database) CountResults(ctx context.Context, filter Filter) (int, error) {
	where, args, err := buildWhere(filter)
	if err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var n int
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM results r WHERE "+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count results: %w", err)
	}
	return n, nil
}

// CountRepetitions returns how many results exist for fingerprint.
func (d *Database) CountRepetitions(ctx context.Context, fingerprint models.ParameterCombination) (int, error) {
	return d.CountResults(ctx, FilterFor(fingerprint))
}

// NextRngRuns returns the count smallest non-negative repetition indices not
// yet used by results sharing fingerprint. Gaps are filled before indices
// beyond the largest used one are handed out. A nil fingerprint considers
// every result of the campaign.
func (d *Database) NextRngRuns(ctx context.Context, fingerprint models.ParameterCombination, count int) ([]int, error) {
	if count < 0 {
		return nil, fmt.Errorf("count cannot be negative, got %d", count)
	}
	var filter Filter
	if fingerprint != nil {
		filter = FilterFor(fingerprint)
	}
	where, args, err := buildWhere(filter)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	rows, err := d.db.QueryContext(ctx, `
SELECT p.kind, p.text_value
FROM result_params p
JOIN results r ON r.seq = p.result_seq
WHERE p.name = ? AND `+where, append([]any{models.RngRunParam}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("query rng runs: %w", err)
	}
	defer rows.Close()

	used := make(map[int]bool)
	for rows.Next() {
		var kind, text string
		if err := rows.Scan(&kind, &text); err != nil {
			return nil, fmt.Errorf("scan rng run: %w", err)
		}
		value, err := models.Decode(kind, text)
		if err != nil {
			return nil, fmt.Errorf("decode rng run: %w", err)
		}
		if run, ok := (models.ParameterCombination{models.RngRunParam: value}).RngRun(); ok {
			used[run] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rng runs: %w", err)
	}

	return smallestUnused(used, count), nil
}

func smallestUnused(used map[int]bool, count int) []int {
	out := make([]int, 0, count)
	for candidate := 0; len(out) < count; candidate++ {
		if !used[candidate] {
			out = append(out, candidate)
		}
	}
	return out
}

// WipeResults removes every result and its run directory. The configuration
// record is left untouched.
func (d *Database) WipeResults(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin wipe: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM result_params"); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("wipe result params: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM results"); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("wipe results: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit wipe: %w", err)
	}

	if err := os.RemoveAll(d.DataDir()); err != nil {
		return fmt.Errorf("remove data directory: %w", err)
	}
	if err := os.MkdirAll(d.DataDir(), 0o755); err != nil {
		return fmt.Errorf("recreate data directory: %w", err)
	}
	logger.Info("campaign results wiped", "campaign_dir", d.dir)
	return nil
}

// FilterFor turns a fingerprint into a filter matching exactly its values.
// The repetition index is ignored.
func FilterFor(fingerprint models.ParameterCombination) Filter {
	f := make(Filter, len(fingerprint))
	for name, v := range fingerprint {
		if name == models.RngRunParam {
			continue
		}
		f[name] = []any{v}
	}
	return f
}

// buildWhere renders filter as a condition over the results table aliased r.
func buildWhere(filter Filter) (string, []any, error) {
	if len(filter) == 0 {
		return "1", nil, nil
	}

	names := make([]string, 0, len(filter))
	for name := range filter {
		names = append(names, name)
	}
	slices.Sort(names)

	var (
		clauses []string
		args    []any
	)
	for _, name := range names {
		candidates := filter[name]
		if len(candidates) == 0 {
			return "0", nil, nil
		}
		alternatives := make([]string, 0, len(candidates))
		args = append(args, name)
		for _, c := range candidates {
			v, err := models.Normalize(c)
			if err != nil {
				return "", nil, fmt.Errorf("filter on %s: %w", name, err)
			}
			kind, text, num := models.Encode(v)
			if num != nil {
				alternatives = append(alternatives, "num_value = ?")
				args = append(args, num)
				continue
			}
			alternatives = append(alternatives, "(kind = ? AND text_value = ?)")
			args = append(args, kind, text)
		}
		clauses = append(clauses,
			"r.seq IN (SELECT result_seq FROM result_params WHERE name = ? AND ("+strings.Join(alternatives, " OR ")+"))")
	}
	return strings.Join(clauses, " AND "), args, nil
}
