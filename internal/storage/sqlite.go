package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "cronsage/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// busy_timeout is the sqlite analog of the file driver's writer-slot wait.
	ms := cfg.BusyTimeout.Milliseconds()
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// busyErr maps a locked-database failure to ErrBusy so callers retry the
// same way as with the file driver.
func busyErr(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy") {
		return fmt.Errorf("%w: %v", ErrBusy, err)
	}
	return err
}

func (s *sqliteStore) AppendExecution(ctx context.Context, rec ExecutionRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	var usage any
	if len(rec.ResourceUsage) > 0 {
		b, err := json.Marshal(rec.ResourceUsage)
		if err != nil {
			return err
		}
		usage = string(b)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions(job_id, start_time, duration_seconds, success, resource_usage, hour_of_day, day_of_week)
		 VALUES(?,?,?,?,?,?,?)`,
		rec.JobID, rec.StartTime.UTC().Format(time.RFC3339Nano), rec.DurationSeconds,
		boolInt(rec.Success), usage, rec.HourOfDay, rec.DayOfWeek,
	)
	return busyErr(err)
}

func (s *sqliteStore) Executions(ctx context.Context, jobID string) ([]ExecutionRecord, error) {
	q := `SELECT job_id, start_time, duration_seconds, success, resource_usage, hour_of_day, day_of_week
	      FROM executions`
	args := []any{}
	if jobID != "" {
		q += ` WHERE job_id = ?`
		args = append(args, jobID)
	}
	q += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, busyErr(err)
	}
	defer rows.Close()

	var out []ExecutionRecord
	for rows.Next() {
		var (
			rec     ExecutionRecord
			start   string
			success int
			usage   sql.NullString
		)
		if err := rows.Scan(&rec.JobID, &start, &rec.DurationSeconds, &success, &usage, &rec.HourOfDay, &rec.DayOfWeek); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, start)
		if err != nil {
			// Corrupt row: skip, keep the rest of the history usable.
			s.log.Warn("skipping execution row with bad start_time", logx.Err(err))
			continue
		}
		rec.StartTime = t
		rec.Success = success != 0
		if usage.Valid && usage.String != "" {
			if err := json.Unmarshal([]byte(usage.String), &rec.ResourceUsage); err != nil {
				s.log.Warn("skipping unreadable resource_usage", logx.String("job", rec.JobID), logx.Err(err))
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendComparison(ctx context.Context, cmp ExecutionComparison) error {
	if err := cmp.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO comparisons(id, job_id, predicted_duration, actual_duration, prediction_error_percent, at)
		 VALUES(?,?,?,?,?,?)`,
		cmp.ID, cmp.JobID, cmp.PredictedDuration, cmp.ActualDuration,
		cmp.PredictionErrorPercent, cmp.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	return busyErr(err)
}

func (s *sqliteStore) Comparisons(ctx context.Context, jobID string) ([]ExecutionComparison, error) {
	q := `SELECT id, job_id, predicted_duration, actual_duration, prediction_error_percent, at FROM comparisons`
	args := []any{}
	if jobID != "" {
		q += ` WHERE job_id = ?`
		args = append(args, jobID)
	}
	q += ` ORDER BY at ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, busyErr(err)
	}
	defer rows.Close()

	var out []ExecutionComparison
	for rows.Next() {
		var (
			cmp ExecutionComparison
			at  string
		)
		if err := rows.Scan(&cmp.ID, &cmp.JobID, &cmp.PredictedDuration, &cmp.ActualDuration, &cmp.PredictionErrorPercent, &at); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			s.log.Warn("skipping comparison row with bad timestamp", logx.Err(err))
			continue
		}
		cmp.Timestamp = t
		out = append(out, cmp)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveStrategies(ctx context.Context, strategies []StrategyRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return busyErr(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM strategies`); err != nil {
		return busyErr(err)
	}
	for _, st := range strategies {
		hist, err := json.Marshal(st.PerformanceHistory)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO strategies(name, success_weight, duration_weight, conflict_weight, learning_rate, performance_history, last_updated)
			 VALUES(?,?,?,?,?,?,?)`,
			st.Name, st.SuccessWeight, st.DurationWeight, st.ConflictWeight,
			st.LearningRate, string(hist), st.LastUpdated.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return busyErr(err)
		}
	}
	return busyErr(tx.Commit())
}

func (s *sqliteStore) Strategies(ctx context.Context) ([]StrategyRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, success_weight, duration_weight, conflict_weight, learning_rate, performance_history, last_updated
		 FROM strategies ORDER BY name ASC`)
	if err != nil {
		return nil, busyErr(err)
	}
	defer rows.Close()

	var out []StrategyRecord
	for rows.Next() {
		var (
			st      StrategyRecord
			hist    string
			updated string
		)
		if err := rows.Scan(&st.Name, &st.SuccessWeight, &st.DurationWeight, &st.ConflictWeight, &st.LearningRate, &hist, &updated); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(hist), &st.PerformanceHistory); err != nil {
			s.log.Warn("strategy history unreadable; starting empty", logx.String("name", st.Name), logx.Err(err))
			st.PerformanceHistory = nil
		}
		if t, err := time.Parse(time.RFC3339Nano, updated); err == nil {
			st.LastUpdated = t
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
