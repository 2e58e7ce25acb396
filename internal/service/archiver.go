package service

import (
	"context"
	"log/slog"
	"time"
)

// ArchiveBackend exports historical records older than a cutoff and reports
// how many were written. The S3 archiver satisfies this.
type ArchiveBackend interface {
	ArchiveMatches(ctx context.Context, before time.Time) (int64, error)
	ArchiveOrders(ctx context.Context, before time.Time) (int64, error)
}

// ArchiveService runs periodic cold-storage exports of matches and closed
// orders older than the retention window.
type ArchiveService struct {
	backend   ArchiveBackend
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

// NewArchiveService creates an ArchiveService that archives records older
// than retention, checking once per interval.
func NewArchiveService(backend ArchiveBackend, retention, interval time.Duration, logger *slog.Logger) *ArchiveService {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &ArchiveService{
		backend:   backend,
		retention: retention,
		interval:  interval,
		logger:    logger.With(slog.String("component", "archive_service")),
	}
}

// Run performs one export immediately and then once per interval until the
// context is cancelled. Call in a goroutine.
func (a *ArchiveService) Run(ctx context.Context) error {
	a.sweep(ctx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.sweep(ctx)
		}
	}
}

// RunOnce performs a single export pass, for one-shot archive invocations.
func (a *ArchiveService) RunOnce(ctx context.Context) error {
	return a.export(ctx, time.Now().UTC().Add(-a.retention))
}

func (a *ArchiveService) sweep(ctx context.Context) {
	if err := a.RunOnce(ctx); err != nil {
		a.logger.ErrorContext(ctx, "archive sweep failed", slog.String("error", err.Error()))
	}
}

func (a *ArchiveService) export(ctx context.Context, cutoff time.Time) error {
	matches, err := a.backend.ArchiveMatches(ctx, cutoff)
	if err != nil {
		return err
	}
	orders, err := a.backend.ArchiveOrders(ctx, cutoff)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "archive sweep complete",
		slog.Time("cutoff", cutoff),
		slog.Int64("matches", matches),
		slog.Int64("orders", orders),
	)
	return nil
}
