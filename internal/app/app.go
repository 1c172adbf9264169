// Package app wires the object store, the resumable state database, the
// activity log and the transfer engines together and dispatches CLI
// commands to them.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/gophstore/internal/activity"
	"github.com/dmitrijs2005/gophstore/internal/config"
	"github.com/dmitrijs2005/gophstore/internal/download"
	"github.com/dmitrijs2005/gophstore/internal/logging"
	"github.com/dmitrijs2005/gophstore/internal/objstore"
	"github.com/dmitrijs2005/gophstore/internal/objstore/s3store"
	"github.com/dmitrijs2005/gophstore/internal/repositories/metadata"
	"github.com/dmitrijs2005/gophstore/internal/restore"
	"github.com/dmitrijs2005/gophstore/internal/resumable"
	"github.com/dmitrijs2005/gophstore/internal/retry"
	"github.com/dmitrijs2005/gophstore/internal/tracker"
	"github.com/dmitrijs2005/gophstore/internal/upload"
)

// StaleStateAge is how old a resumable entry may get before Run prunes it.
const StaleStateAge = 7 * 24 * time.Hour

type App struct {
	config   *config.Config
	logger   logging.Logger
	out      io.Writer
	outMu    sync.Mutex
	state    *resumable.Store
	tracker  *tracker.Tracker
	uploads  *upload.Engine
	download *download.Engine
	restores *restore.Engine
	closers  []func() error

	progressEvery time.Duration
}

// Deps are the collaborators NewApp would otherwise build from config.
type Deps struct {
	Store    objstore.Client
	KV       resumable.KV
	Activity activity.Repository
	Logger   logging.Logger
	Out      io.Writer
}

// NewApp connects to the bucket, opens the state database and, when a DSN
// is configured, the activity log.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.New(c.LogLevel, c.LogFormat, os.Stderr)

	store, err := s3store.New(ctx, s3store.Config{
		Endpoint:     c.S3Endpoint,
		Region:       c.S3Region,
		Bucket:       c.S3Bucket,
		AccessKey:    c.S3AccessKey,
		SecretKey:    c.S3SecretKey,
		UsePathStyle: c.S3PathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("object store init error: %w", err)
	}

	stateDB, err := metadata.Open(ctx, c.StateDBPath)
	if err != nil {
		return nil, fmt.Errorf("state db init error: %w", err)
	}
	closers := []func() error{stateDB.Close}

	var act activity.Repository = activity.Nop{}
	if c.ActivityDSN != "" {
		var db *sql.DB
		db, err = activity.OpenPostgres(ctx, c.ActivityDSN, true)
		if err != nil {
			logger.Warn(ctx, "activity log disabled", "error", err)
		} else {
			act = activity.NewPostgresRepository(db)
			closers = append(closers, db.Close)
		}
	}

	a := New(c, Deps{
		Store:    store,
		KV:       metadata.NewSQLiteRepository(stateDB),
		Activity: act,
		Logger:   logger,
		Out:      os.Stdout,
	})
	a.closers = append(a.closers, closers...)
	return a, nil
}

// New builds an App from explicit collaborators.
func New(c *config.Config, d Deps) *App {
	if d.Logger == nil {
		d.Logger = logging.Nop()
	}
	if d.Out == nil {
		d.Out = io.Discard
	}
	if d.Activity == nil {
		d.Activity = activity.Nop{}
	}

	policy := retry.Policy{MaxAttempts: c.RetryAttempts, BaseDelay: c.RetryBaseDelay, BackoffFactor: retry.DefaultPolicy.BackoffFactor}
	state := resumable.New(d.KV)
	tr := tracker.New(state, tracker.WithLogger(d.Logger))

	rs := restore.New(d.Store, tr,
		restore.WithLogger(d.Logger),
		restore.WithActivity(d.Activity),
		restore.WithPollInterval(c.RestorePollInterval),
	)

	a := &App{
		config:  c,
		logger:  d.Logger,
		out:     d.Out,
		state:   state,
		tracker: tr,
		uploads: upload.New(d.Store, tr, state,
			upload.WithLogger(d.Logger),
			upload.WithActivity(d.Activity),
			upload.WithRetryPolicy(policy),
			upload.WithConcurrency(c.UploadConcurrency),
		),
		download: download.New(d.Store, tr, rs, state,
			download.WithLogger(d.Logger),
			download.WithActivity(d.Activity),
			download.WithRetryPolicy(policy),
			download.WithPresignTTL(c.PresignTTL),
			download.WithLargeThreshold(c.LargeDownloadThreshold),
		),
		restores:      rs,
		progressEvery: 250 * time.Millisecond,
	}
	a.closers = []func() error{func() error { rs.Close(); return nil }}
	return a
}

// Close stops background restore pollers and closes the databases.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// initSignalHandler pauses every active transfer on SIGINT, so the same
// command can pick up where it stopped, and cancels on SIGTERM or SIGQUIT.
func (a *App) initSignalHandler(ctx context.Context, cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		defer signal.Stop(sigs)
		select {
		case sig := <-sigs:
			if sig == syscall.SIGINT {
				a.pauseAll(ctx)
			}
			cancelFunc()
		case <-ctx.Done():
		}
	}()
}

func (a *App) pauseAll(ctx context.Context) {
	for _, t := range a.tracker.List() {
		if t.Status.Terminal() || t.Status == tracker.StatusPaused {
			continue
		}
		if err := a.tracker.Pause(ctx, t.ID); err != nil {
			a.logger.Warn(ctx, "pause failed", "transfer", t.ID, "error", err)
		}
	}
}

// Run prunes stale resumable state and executes one command.
func (a *App) Run(ctx context.Context, args []string) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	a.initSignalHandler(ctx, cancelFunc)

	if n, err := a.state.Prune(ctx, StaleStateAge); err != nil {
		a.logger.Warn(ctx, "failed to prune resumable state", "error", err)
	} else if n > 0 {
		a.logger.Info(ctx, "pruned stale resumable state", "entries", n)
	}

	err := a.dispatch(ctx, args)
	a.logMetrics(ctx)
	return err
}
