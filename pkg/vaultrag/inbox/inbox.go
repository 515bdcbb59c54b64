// Package inbox imports files dropped into a watched directory on a cron
// schedule. Each run ingests every supported file for the logged-in user
// and moves it to processed/ or failed/.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jholhewres/vaultrag/pkg/vaultrag/embedding"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/session"
)

const (
	ProcessedDir = "processed"
	FailedDir    = "failed"
)

// Config holds inbox settings. An empty Dir disables the inbox.
type Config struct {
	Dir      string `yaml:"dir"`
	Schedule string `yaml:"schedule"`
}

// DefaultConfig returns a disabled inbox polling every minute once enabled.
func DefaultConfig() Config {
	return Config{Schedule: "@every 1m"}
}

// Ingester stores one file for a session.
type Ingester interface {
	Ingest(ctx context.Context, sess *session.Session, path string) (int, error)
}

// Result summarizes one run.
type Result struct {
	Processed int
	Failed    int
	Chunks    int
}

// Inbox is the scheduled importer.
type Inbox struct {
	cfg      Config
	ingester Ingester
	sessions *session.Holder
	supports func(path string) bool
	logger   *slog.Logger

	running sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
}

// New creates an inbox. supports reports whether a file can be extracted;
// other files are left in place.
func New(cfg Config, ingester Ingester, sessions *session.Holder, supports func(string) bool, logger *slog.Logger) *Inbox {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultConfig().Schedule
	}
	return &Inbox{
		cfg:      cfg,
		ingester: ingester,
		sessions: sessions,
		supports: supports,
		logger:   logger.With("component", "inbox"),
	}
}

// Start creates the directories and schedules runs.
func (in *Inbox) Start(ctx context.Context) error {
	if in.cfg.Dir == "" {
		return errors.New("inbox: no directory configured")
	}
	for _, d := range []string{in.cfg.Dir, filepath.Join(in.cfg.Dir, ProcessedDir), filepath.Join(in.cfg.Dir, FailedDir)} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return fmt.Errorf("create inbox directory: %w", err)
		}
	}

	ctx, in.cancel = context.WithCancel(ctx)
	in.cron = cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))
	if _, err := in.cron.AddFunc(in.cfg.Schedule, func() {
		if _, err := in.RunOnce(ctx); err != nil && !errors.Is(err, session.ErrNoSession) {
			in.logger.Error("inbox run failed", "error", err)
		}
	}); err != nil {
		in.cancel()
		return fmt.Errorf("inbox schedule %q: %w", in.cfg.Schedule, err)
	}
	in.cron.Start()
	in.logger.Info("inbox started", "dir", in.cfg.Dir, "schedule", in.cfg.Schedule)
	return nil
}

// Stop waits for a running import to finish.
func (in *Inbox) Stop() {
	if in.cron != nil {
		done := in.cron.Stop()
		select {
		case <-done.Done():
		case <-time.After(10 * time.Second):
			in.logger.Warn("inbox stop timed out")
		}
	}
	if in.cancel != nil {
		in.cancel()
	}
}

// RunOnce imports the current contents of the inbox. Overlapping calls
// return immediately. Without a logged-in user files stay where they are
// and session.ErrNoSession is returned.
func (in *Inbox) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	if !in.running.TryLock() {
		return res, nil
	}
	defer in.running.Unlock()

	files, err := in.pending()
	if err != nil {
		return res, err
	}

	for _, path := range files {
		var n int
		err := in.sessions.Do(ctx, func(ctx context.Context, s *session.Session) error {
			var err error
			n, err = in.ingester.Ingest(ctx, s, path)
			return err
		})
		if isRetryable(err) {
			return res, err
		}

		dest := ProcessedDir
		if err != nil {
			dest = FailedDir
			res.Failed++
			in.logger.Warn("inbox file failed", "file", filepath.Base(path), "error", err)
		} else {
			res.Processed++
			res.Chunks += n
		}
		if err := move(path, filepath.Join(in.cfg.Dir, dest)); err != nil {
			return res, err
		}
	}

	if res.Processed+res.Failed > 0 {
		in.logger.Info("inbox run complete",
			"processed", res.Processed, "failed", res.Failed, "chunks", res.Chunks)
	}
	return res, nil
}

// pending lists supported regular files, oldest name first.
func (in *Inbox) pending() ([]string, error) {
	entries, err := os.ReadDir(in.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("read inbox: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := filepath.Join(in.cfg.Dir, e.Name())
		if in.supports != nil && !in.supports(path) {
			continue
		}
		files = append(files, path)
	}
	sort.Strings(files)
	return files, nil
}

// isRetryable reports errors that say nothing about the file itself.
func isRetryable(err error) bool {
	return errors.Is(err, session.ErrNoSession) ||
		errors.Is(err, embedding.ErrNoModel) ||
		errors.Is(err, embedding.ErrModelMissing) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func move(path, dir string) error {
	dest := filepath.Join(dir, filepath.Base(path))
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(dest)
		dest = strings.TrimSuffix(dest, ext) + "-" + time.Now().Format("20060102150405.000") + ext
	}
	if err := os.Rename(path, dest); err != nil {
		return fmt.Errorf("move %s: %w", filepath.Base(path), err)
	}
	return nil
}
