package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/everest/internal/domain"
)

// multipartThreshold is the archive size above which uploads go through the
// multipart manager.
const multipartThreshold = 64 * 1024 * 1024

// orderArchivePrefix holds one JSONL object per cutoff date.
const orderArchivePrefix = "archive/orders/"

// SettledOrderSource lists settled orders for archival.
type SettledOrderSource interface {
	ListExecutedBefore(ctx context.Context, before time.Time) ([]domain.Order, error)
}

// OrderArchiver implements domain.Archiver. It copies settled orders to
// object storage as JSONL; it never deletes them from the ledger.
type OrderArchiver struct {
	objects domain.ObjectReader
	upload  domain.ObjectWriter
	orders  SettledOrderSource
	audit   domain.AuditStore
	logger  *slog.Logger
}

func NewOrderArchiver(
	objects domain.ObjectReader,
	upload domain.ObjectWriter,
	orders SettledOrderSource,
	audit domain.AuditStore,
	logger *slog.Logger,
) *OrderArchiver {
	return &OrderArchiver{objects: objects, upload: upload, orders: orders, audit: audit, logger: logger}
}

// ArchiveOrders uploads every order settled before the cutoff to
// archive/orders/YYYY-MM-DD.jsonl. A cutoff whose object already exists is
// reported as skipped and never rewritten.
func (a *OrderArchiver) ArchiveOrders(ctx context.Context, before time.Time) (domain.ArchiveResult, error) {
	res := domain.ArchiveResult{Path: OrderArchivePath(before), Before: before}

	exists, err := a.objects.Exists(ctx, res.Path)
	if err != nil {
		return res, fmt.Errorf("s3blob: archive orders: %w", err)
	}
	if exists {
		res.Skipped = true
		a.logger.InfoContext(ctx, "s3blob: archive already present", slog.String("path", res.Path))
		return res, nil
	}

	orders, err := a.orders.ListExecutedBefore(ctx, before)
	if err != nil {
		return res, fmt.Errorf("s3blob: archive orders query: %w", err)
	}
	if len(orders) == 0 {
		return res, nil
	}

	buf, err := encodeOrders(orders)
	if err != nil {
		return res, fmt.Errorf("s3blob: archive orders encode: %w", err)
	}

	if len(buf) > multipartThreshold {
		err = a.upload.PutMultipart(ctx, res.Path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.upload.Put(ctx, res.Path, bytes.NewReader(buf), domain.ArchiveContentType)
	}
	if errors.Is(err, domain.ErrAlreadyExists) {
		res.Skipped = true
		a.logger.InfoContext(ctx, "s3blob: archive written concurrently", slog.String("path", res.Path))
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("s3blob: archive orders upload: %w", err)
	}

	res.Orders = int64(len(orders))
	res.Bytes = int64(len(buf))
	a.logger.InfoContext(ctx, "s3blob: orders archived",
		slog.String("path", res.Path),
		slog.Int64("orders", res.Orders),
		slog.Int64("bytes", res.Bytes),
	)

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.orders", map[string]any{
			"path":   res.Path,
			"orders": res.Orders,
			"before": before.Format(domain.DateLayout),
		}); err != nil {
			return res, fmt.Errorf("s3blob: archive orders audit log: %w", err)
		}
	}
	return res, nil
}

// Archives lists stored order archives, oldest cutoff first. Objects whose
// names are not a cutoff date are ignored.
func (a *OrderArchiver) Archives(ctx context.Context) ([]domain.ObjectInfo, error) {
	infos, err := a.objects.List(ctx, orderArchivePrefix)
	if err != nil {
		return nil, fmt.Errorf("s3blob: list archives: %w", err)
	}
	out := infos[:0]
	for _, info := range infos {
		if isOrderArchive(info.Path) {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// OrderArchivePath is the object key for the archive of orders settled
// before the cutoff's calendar date.
//
//	archive/orders/2026-03-01.jsonl
func OrderArchivePath(before time.Time) string {
	return orderArchivePrefix + before.Format(domain.DateLayout) + ".jsonl"
}

func isOrderArchive(path string) bool {
	name, ok := strings.CutPrefix(path, orderArchivePrefix)
	if !ok {
		return false
	}
	name, ok = strings.CutSuffix(name, ".jsonl")
	if !ok {
		return false
	}
	_, err := time.Parse(domain.DateLayout, name)
	return err == nil
}

// encodeOrders writes one order per line.
func encodeOrders(orders []domain.Order) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, o := range orders {
		if err := enc.Encode(o); err != nil {
			return nil, fmt.Errorf("order %d: %w", o.ID, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*OrderArchiver)(nil)
