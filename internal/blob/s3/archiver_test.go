package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/everest/internal/domain"
)

type memBlobs struct {
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

var (
	_ domain.ObjectReader = (*memBlobs)(nil)
	_ domain.ObjectWriter = (*memBlobs)(nil)
)

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if m.putErr != nil {
		return m.putErr
	}
	if _, ok := m.objects[path]; ok {
		return domain.ErrAlreadyExists
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	m.types[path] = contentType
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.ObjectInfo, error) {
	var out []domain.ObjectInfo
	for path, b := range m.objects {
		if strings.HasPrefix(path, prefix) {
			out = append(out, domain.ObjectInfo{Path: path, Size: int64(len(b))})
		}
	}
	return out, nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

type settledOrders []domain.Order

func (s settledOrders) ListExecutedBefore(_ context.Context, before time.Time) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range s {
		if o.ExecutedAt != nil && o.ExecutedAt.Before(before) {
			out = append(out, o)
		}
	}
	return out, nil
}

type auditRecorder struct{ events []string }

func (a *auditRecorder) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *auditRecorder) List(context.Context, domain.AuditFilter) ([]domain.AuditEntry, error) {
	return nil, nil
}

func settled(id int64, at time.Time) domain.Order {
	o := domain.NewOrder(domain.DirectionBuy, 2, decimal.RequireFromString("10.5"), at, 1, 1)
	o.ID = id
	o.ExecutedAt = &at
	return o
}

func TestArchiveOrders(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobs()
	audit := &auditRecorder{}
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	src := settledOrders{
		settled(1, cutoff.AddDate(0, 0, -10)),
		settled(2, cutoff.AddDate(0, 0, -1)),
		settled(3, cutoff.AddDate(0, 0, 2)),
	}
	a := NewOrderArchiver(blobs, blobs, src, audit, slog.New(slog.NewTextHandler(io.Discard, nil)))

	res, err := a.ArchiveOrders(ctx, cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.Orders)
	assert.False(t, res.Skipped)

	path := "archive/orders/2026-03-01.jsonl"
	assert.Equal(t, path, res.Path)
	require.Contains(t, blobs.objects, path)
	assert.EqualValues(t, len(blobs.objects[path]), res.Bytes)
	assert.Equal(t, "application/x-ndjson", blobs.types[path])

	var ids []int64
	sc := bufio.NewScanner(bytes.NewReader(blobs.objects[path]))
	for sc.Scan() {
		var o domain.Order
		require.NoError(t, json.Unmarshal(sc.Bytes(), &o))
		assert.True(t, o.NetValue.Equal(decimal.NewFromInt(21)))
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []int64{1, 2}, ids)
	assert.Equal(t, []string{"archive.orders"}, audit.events)

	res, err = a.ArchiveOrders(ctx, cutoff)
	require.NoError(t, err)
	assert.True(t, res.Skipped, "an existing archive is not rewritten")
	assert.Zero(t, res.Orders)
	assert.Len(t, audit.events, 1)
}

func TestArchiveOrdersNothingToDo(t *testing.T) {
	blobs := newMemBlobs()
	a := NewOrderArchiver(blobs, blobs, settledOrders{}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	res, err := a.ArchiveOrders(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, res.Orders)
	assert.False(t, res.Skipped)
	assert.Empty(t, blobs.objects)
}

func TestArchiveOrdersUploadFailure(t *testing.T) {
	blobs := newMemBlobs()
	blobs.putErr = errors.New("access denied")
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	a := NewOrderArchiver(blobs, blobs, settledOrders{settled(1, cutoff.AddDate(0, 0, -1))}, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := a.ArchiveOrders(context.Background(), cutoff)
	assert.ErrorContains(t, err, "access denied")
}

// racyBlobs reports the archive missing but rejects the write, as when
// another worker uploads between the check and the put.
type racyBlobs struct{ *memBlobs }

func (racyBlobs) Exists(context.Context, string) (bool, error) { return false, nil }

func TestArchiveOrdersLostRace(t *testing.T) {
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	blobs := newMemBlobs()
	blobs.objects[OrderArchivePath(cutoff)] = []byte("{}\n")
	audit := &auditRecorder{}
	a := NewOrderArchiver(racyBlobs{blobs}, blobs, settledOrders{settled(1, cutoff.AddDate(0, 0, -1))}, audit,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	res, err := a.ArchiveOrders(context.Background(), cutoff)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, audit.events)
}

func TestArchives(t *testing.T) {
	blobs := newMemBlobs()
	blobs.objects["archive/orders/2026-03-01.jsonl"] = []byte("{}\n")
	blobs.objects["archive/orders/2026-02-01.jsonl"] = []byte("{}\n{}\n")
	blobs.objects["archive/orders/notes.txt"] = []byte("x")
	blobs.objects["archive/audit/2026-03-01.jsonl"] = []byte("{}\n")
	a := NewOrderArchiver(blobs, blobs, settledOrders{}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	list, err := a.Archives(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "archive/orders/2026-02-01.jsonl", list[0].Path)
	assert.EqualValues(t, 6, list[0].Size)
	assert.Equal(t, "archive/orders/2026-03-01.jsonl", list[1].Path)
}

func TestRelativeKey(t *testing.T) {
	assert.Equal(t, "archive/orders/x.jsonl", (&Client{}).relativeKey("archive/orders/x.jsonl"))
	assert.Equal(t, "archive/orders/x.jsonl", (&Client{prefix: cleanPrefix("everest/prod/")}).relativeKey("everest/prod/archive/orders/x.jsonl"))
}

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		in     string
		useSSL bool
		want   string
	}{
		{"https://s3.example.com", false, "https://s3.example.com"},
		{"minio:9000", false, "http://minio:9000"},
		{"e2.idrive.com", true, "https://e2.idrive.com"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normaliseEndpoint(tt.in, tt.useSSL), tt.in)
	}
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "archive/x.jsonl", (&Client{}).objectKey("archive/x.jsonl"))
	assert.Equal(t, "everest/prod/archive/x.jsonl", (&Client{prefix: cleanPrefix("everest/prod/")}).objectKey("archive/x.jsonl"))
}

func TestCleanPrefix(t *testing.T) {
	for in, want := range map[string]string{
		"":               "",
		"/":              "",
		"everest/prod/":  "everest/prod",
		"/everest//prod": "everest/prod",
	} {
		assert.Equal(t, want, cleanPrefix(in), in)
	}
}

func TestClientConfigValidate(t *testing.T) {
	assert.NoError(t, ClientConfig{Bucket: "b", Region: "auto"}.validate())
	assert.NoError(t, ClientConfig{Bucket: "b", Region: "auto", AccessKey: "a", SecretKey: "s"}.validate())

	err := ClientConfig{AccessKey: "a"}.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket is required")
	assert.Contains(t, err.Error(), "region is required")
	assert.Contains(t, err.Error(), "set together")
}
