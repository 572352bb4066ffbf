package telegraph

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// shutdownTimeout bounds how long Run waits for bot loops to stop.
const shutdownTimeout = 15 * time.Second

// Fleet is the bot lifecycle manager as seen by the daemon.
type Fleet interface {
	StartPrimary(ctx context.Context, token string) error
	RestoreAll(ctx context.Context) error
	Reconcile(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Daemon is the main botyard process. It starts the operator bot, restores
// every registered bot, reconciles the fleet on a cron schedule and shuts
// everything down when its context ends.
type Daemon struct {
	fleet         Fleet
	primaryToken  string
	reconcileCron string
	log           zerolog.Logger
	next          func(now time.Time) time.Duration
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	Fleet         Fleet
	PrimaryToken  string
	ReconcileCron string // 5-field cron; empty disables reconciliation
	Logger        zerolog.Logger
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Fleet == nil {
		return nil, errors.New("telegraph: fleet is required")
	}
	if opts.PrimaryToken == "" {
		return nil, errors.New("telegraph: primary token is required")
	}
	if opts.ReconcileCron != "" {
		if _, err := cronParser.Parse(opts.ReconcileCron); err != nil {
			return nil, errors.Wrap(err, "telegraph: reconcile schedule")
		}
	}
	d := &Daemon{
		fleet:         opts.Fleet,
		primaryToken:  opts.PrimaryToken,
		reconcileCron: opts.ReconcileCron,
		log:           opts.Logger,
	}
	d.next = func(now time.Time) time.Duration { return nextCronDuration(d.reconcileCron, now) }
	return d, nil
}

// Run starts the primary bot and restores registered bots, then blocks
// until ctx is cancelled. A primary bot that cannot start is fatal; a
// registered bot that cannot start is logged and retried by reconciliation.
func (d *Daemon) Run(ctx context.Context) error {
	d.log.Info().Msg("telegraph: starting")
	if err := d.fleet.StartPrimary(ctx, d.primaryToken); err != nil {
		return errors.Wrap(err, "telegraph: start primary bot")
	}
	if err := d.fleet.RestoreAll(ctx); err != nil {
		d.log.Error().Err(err).Msg("telegraph: restore bots")
	}
	d.log.Info().Msg("telegraph: online")

	d.reconcileLoop(ctx)

	d.log.Info().Msg("telegraph: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.fleet.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "telegraph: shutdown")
	}
	d.log.Info().Msg("telegraph: stopped")
	return nil
}

// reconcileLoop fires Reconcile on the cron schedule until ctx ends.
func (d *Daemon) reconcileLoop(ctx context.Context) {
	if d.reconcileCron == "" {
		<-ctx.Done()
		return
	}

	timer := time.NewTimer(d.next(time.Now()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if err := d.fleet.Reconcile(ctx); err != nil {
				d.log.Warn().Err(err).Msg("telegraph: reconcile")
			}
			timer.Reset(d.next(time.Now()))
		}
	}
}
