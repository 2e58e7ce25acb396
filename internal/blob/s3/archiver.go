package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/openhooks/matchbook/internal/domain"
)

// multipartThreshold is the payload size above which archives are uploaded
// via the multipart manager instead of a single PutObject call.
const multipartThreshold = 8 * 1024 * 1024

const archiveContentType = "application/x-ndjson"

// MatchArchiveStore provides read access to matches for archival. The
// Postgres MatchStore satisfies this through its ListBefore method.
type MatchArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Match, error)
}

// OrderArchiveStore provides read access to closed orders for archival.
// Only orders that have left the book (matched, cancelled or purged) are
// archived; open orders stay in the primary store.
type OrderArchiveStore interface {
	ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Order, error)
}

// Archiver exports historical match and order records to S3 as
// newline-delimited JSON, partitioned by year-month of the cutoff.
//
// Deletion of archived rows from the primary store is intentionally NOT
// performed here. That is a separate, explicit step to be executed after
// the archive has been verified.
type Archiver struct {
	writer  *Writer
	matches MatchArchiveStore
	orders  OrderArchiveStore
	logger  *slog.Logger
}

// NewArchiver creates an Archiver backed by the given writer and stores.
func NewArchiver(writer *Writer, matches MatchArchiveStore, orders OrderArchiveStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:  writer,
		matches: matches,
		orders:  orders,
		logger:  logger,
	}
}

// ArchiveMatches uploads all matches executed strictly before the cutoff to
// archive/matches/YYYY-MM.jsonl and returns the number of records written.
func (a *Archiver) ArchiveMatches(ctx context.Context, before time.Time) (int64, error) {
	matches, err := a.matches.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive matches query: %w", err)
	}
	if len(matches) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(matches)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive matches marshal: %w", err)
	}

	path := archivePath("matches", before)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive matches upload: %w", err)
	}

	count := int64(len(matches))
	a.logger.InfoContext(ctx, "archived matches",
		slog.String("path", path),
		slog.Int64("count", count),
		slog.Time("before", before),
	)
	return count, nil
}

// ArchiveOrders uploads all closed orders created strictly before the cutoff
// to archive/orders/YYYY-MM.jsonl and returns the number of records written.
func (a *Archiver) ArchiveOrders(ctx context.Context, before time.Time) (int64, error) {
	orders, err := a.orders.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders query: %w", err)
	}
	if len(orders) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(orders)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders marshal: %w", err)
	}

	path := archivePath("orders", before)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive orders upload: %w", err)
	}

	count := int64(len(orders))
	a.logger.InfoContext(ctx, "archived orders",
		slog.String("path", path),
		slog.Int64("count", count),
		slog.Time("before", before),
	)
	return count, nil
}

// upload picks single-shot or multipart based on payload size.
func (a *Archiver) upload(ctx context.Context, path string, buf []byte) error {
	if int64(len(buf)) >= multipartThreshold {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), archiveContentType)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), archiveContentType)
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/matches/2026-08.jsonl
//	archive/orders/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
