package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/gestclasse-api/internal/models"
	"github.com/noah-isme/gestclasse-api/internal/repository"
	appErrors "github.com/noah-isme/gestclasse-api/pkg/errors"
)

// SnapshotVersion is the only persisted layout this build reads.
const SnapshotVersion = 3

type snapshotDocument struct {
	Version int                     `json:"version"`
	Sheets  map[string]models.Sheet `json:"sheets"`
}

// EncodeSnapshot serialises raw sheets. Derived fields are never written.
func EncodeSnapshot(sheets map[models.SheetKey]models.Sheet) ([]byte, error) {
	doc := snapshotDocument{Version: SnapshotVersion, Sheets: make(map[string]models.Sheet, len(sheets))}
	for key, sheet := range sheets {
		if sheet.Students == nil {
			sheet.Students = []models.Student{}
		}
		doc.Sheets[key.String()] = sheet
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return payload, nil
}

// DecodeSnapshot parses a persisted payload. Entries whose key cannot be
// parsed are returned in skipped rather than failing the whole document.
func DecodeSnapshot(payload []byte) (sheets map[models.SheetKey]models.Sheet, skipped []string, err error) {
	var doc snapshotDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if doc.Version != SnapshotVersion {
		return nil, nil, appErrors.Clone(appErrors.ErrSnapshotVersion, fmt.Sprintf("snapshot version %d, expected %d", doc.Version, SnapshotVersion))
	}
	sheets = make(map[models.SheetKey]models.Sheet, len(doc.Sheets))
	for raw, sheet := range doc.Sheets {
		key, err := models.ParseSheetKey(raw)
		if err != nil {
			skipped = append(skipped, raw)
			continue
		}
		sheets[key] = sheet
	}
	sort.Strings(skipped)
	return sheets, skipped, nil
}

// Persistence binds a snapshot backend to the sheet store callbacks.
type Persistence struct {
	store   repository.SnapshotStore
	timeout time.Duration
	metrics *MetricsService
	logger  *zap.Logger
}

// NewPersistence constructs the persistence boundary.
func NewPersistence(store repository.SnapshotStore, timeout time.Duration, metrics *MetricsService, logger *zap.Logger) *Persistence {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Persistence{store: store, timeout: timeout, metrics: metrics, logger: logger}
}

func (p *Persistence) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}

// Load reads and decodes the persisted database.
func (p *Persistence) Load(ctx context.Context) (map[models.SheetKey]models.Sheet, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	payload, err := p.store.Read(ctx)
	p.metrics.ObservePersistence("read", time.Since(start), ignoreNotFound(err))
	if err != nil {
		return nil, err
	}

	sheets, skipped, err := DecodeSnapshot(payload)
	if err != nil {
		return nil, err
	}
	if len(skipped) > 0 {
		p.logger.Warn("skipping snapshot entries with malformed keys", zap.Strings("keys", skipped))
	}
	return sheets, nil
}

// Save encodes and writes every sheet.
func (p *Persistence) Save(ctx context.Context, sheets map[models.SheetKey]models.Sheet) error {
	payload, err := EncodeSnapshot(sheets)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode grade database")
	}

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	err = p.store.Write(ctx, payload)
	p.metrics.ObservePersistence("write", time.Since(start), err)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save grade database")
	}
	return nil
}

func ignoreNotFound(err error) error {
	if errors.Is(err, appErrors.ErrSnapshotNotFound) {
		return nil
	}
	return err
}
