package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "cronsage/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.executions.jsonl  (append-only JSON Lines)
//   - <prefix>.comparisons.jsonl (append-only JSON Lines)
//   - <prefix>.strategies.json   (snapshot, written temp-then-rename)
//
// A single writer slot serializes appends; acquiring it is bounded by the
// busy timeout so callers see ErrBusy instead of waiting forever. The
// in-memory snapshot is what reads are served from, so loads never touch
// the files after open.
type fileStore struct {
	log logx.Logger

	busyTimeout time.Duration
	writerCh    chan struct{} // writer slot, capacity 1

	execFile *os.File
	compFile *os.File

	strategiesPath string

	mu         sync.RWMutex
	execs      []ExecutionRecord
	comps      []ExecutionComparison
	strategies []StrategyRecord
	closed     bool

	// corrupt-line warnings can be numerous on a damaged file; throttle them.
	warnLimit *rate.Limiter
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	execPath := prefix + ".executions.jsonl"
	compPath := prefix + ".comparisons.jsonl"
	strategiesPath := prefix + ".strategies.json"

	s := &fileStore{
		log:            log,
		busyTimeout:    cfg.BusyTimeout,
		writerCh:       make(chan struct{}, 1),
		strategiesPath: strategiesPath,
		warnLimit:      rate.NewLimiter(rate.Every(time.Second), 5),
	}

	s.execs = loadLines[ExecutionRecord](execPath, s.warnRecord(log, "execution"))
	s.comps = loadLines[ExecutionComparison](compPath, s.warnRecord(log, "comparison"))
	if err := loadSnapshot(strategiesPath, &s.strategies); err != nil && !os.IsNotExist(err) {
		log.Warn("strategy snapshot unreadable; starting empty",
			logx.String("path", strategiesPath), logx.Err(err))
	}

	ef, err := os.OpenFile(execPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	cf, err := os.OpenFile(compPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = ef.Close()
		return nil, err
	}
	s.execFile = ef
	s.compFile = cf
	return s, nil
}

func (s *fileStore) warnRecord(log logx.Logger, kind string) func(line int, err error) {
	return func(line int, err error) {
		if s.warnLimit.Allow() {
			log.Warn("skipping malformed record",
				logx.String("kind", kind), logx.Int("line", line), logx.Err(err))
		}
	}
}

// loadLines replays a JSON Lines file, skipping malformed lines.
// A missing file yields an empty slice; history degrades, never aborts.
func loadLines[T any](path string, warn func(line int, err error)) []T {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var out []T
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(strings.TrimSpace(string(b))) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(b, &v); err != nil {
			warn(line, err)
			continue
		}
		out = append(out, v)
	}
	if err := sc.Err(); err != nil {
		warn(line, err)
	}
	return out
}

func loadSnapshot(path string, out *[]StrategyRecord) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(out)
}

// acquire takes the writer slot or fails with ErrBusy after the busy timeout.
func (s *fileStore) acquire(ctx context.Context) error {
	select {
	case s.writerCh <- struct{}{}:
		return nil
	default:
	}
	t := time.NewTimer(s.busyTimeout)
	defer t.Stop()
	select {
	case s.writerCh <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return ErrBusy
	}
}

func (s *fileStore) release() { <-s.writerCh }

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	ef, cf := s.execFile, s.compFile
	s.execFile, s.compFile = nil, nil
	s.mu.Unlock()

	var err1, err2 error
	if ef != nil {
		err1 = ef.Close()
	}
	if cf != nil {
		err2 = cf.Close()
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) AppendExecution(ctx context.Context, rec ExecutionRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	s.mu.RLock()
	f := s.execFile
	s.mu.RUnlock()
	if f == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(f).Encode(rec); err != nil {
		return err
	}

	s.mu.Lock()
	s.execs = append(s.execs, rec)
	s.mu.Unlock()
	return nil
}

func (s *fileStore) Executions(ctx context.Context, jobID string) ([]ExecutionRecord, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ExecutionRecord, 0, len(s.execs))
	for _, r := range s.execs {
		if jobID == "" || r.JobID == jobID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fileStore) AppendComparison(ctx context.Context, cmp ExecutionComparison) error {
	if err := cmp.Validate(); err != nil {
		return err
	}
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	s.mu.RLock()
	f := s.compFile
	s.mu.RUnlock()
	if f == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(f).Encode(cmp); err != nil {
		return err
	}

	s.mu.Lock()
	s.comps = append(s.comps, cmp)
	s.mu.Unlock()
	return nil
}

func (s *fileStore) Comparisons(ctx context.Context, jobID string) ([]ExecutionComparison, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ExecutionComparison, 0, len(s.comps))
	for _, c := range s.comps {
		if jobID == "" || c.JobID == jobID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fileStore) SaveStrategies(ctx context.Context, strategies []StrategyRecord) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	// Write-to-temp-then-rename so a crash mid-write cannot corrupt the table.
	tmp := s.strategiesPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(strategies); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.strategiesPath); err != nil {
		return err
	}

	s.mu.Lock()
	s.strategies = append([]StrategyRecord(nil), strategies...)
	s.mu.Unlock()
	return nil
}

func (s *fileStore) Strategies(ctx context.Context) ([]StrategyRecord, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]StrategyRecord(nil), s.strategies...), nil
}
