package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"studyshelf/models"
	"studyshelf/storage"
)

// probeTTL is the lifetime of the signed URLs used as existence probes.
const probeTTL = 60 * time.Second

// ListedMaterial is a catalog row annotated with the result of the
// best-effort storage existence check. Unverifiable items are retained
// and marked rather than silently hidden.
type ListedMaterial struct {
	models.Material
	StorageVerified bool `json:"storage_verified"`
}

// MaterialInput is the payload for creating a catalog entry.
type MaterialInput struct {
	BookName string `json:"book_name"`
	Subject  string `json:"subject"`
	Semester int    `json:"semester"`
	FileURL  string `json:"file_url"`
}

// CatalogService owns the materials catalog: listing with filters,
// creation, owner-gated deletion and the storage verification sweep.
type CatalogService struct {
	DB        *gorm.DB
	Store     ObjectStore
	Logger    *zap.Logger
	BatchSize int
}

// NewCatalogService creates a CatalogService. batchSize caps the number
// of parallel storage probes per listing batch.
func NewCatalogService(db *gorm.DB, store ObjectStore, logger *zap.Logger, batchSize int) *CatalogService {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &CatalogService{DB: db, Store: store, Logger: logger, BatchSize: batchSize}
}

// storageKey resolves a file reference to an object key. Non-HTTP
// references are keys as-is; storage URLs yield their embedded key;
// other URLs are external and have no key.
func storageKey(fileURL string) (string, bool) {
	if fileURL == "" {
		return "", false
	}
	if !strings.HasPrefix(fileURL, "http://") && !strings.HasPrefix(fileURL, "https://") {
		return fileURL, true
	}
	return storage.KeyFromURL(fileURL)
}

// List returns catalog entries matching the filters, newest first.
// Storage-backed entries are verified against the object store in
// batches: parallel within a batch, sequential across batches, so the
// number of simultaneous storage calls stays bounded.
func (c *CatalogService) List(ctx context.Context, q string, semester int, subject string) ([]ListedMaterial, error) {
	query := c.DB.WithContext(ctx).Model(&models.Material{}).Order("created_at desc")
	if semester > 0 {
		query = query.Where("semester = ?", semester)
	}
	if q != "" {
		pattern := "%" + q + "%"
		query = query.Where("book_name ILIKE ? OR subject ILIKE ?", pattern, pattern)
	}
	if subject != "" {
		query = query.Where("subject ILIKE ?", "%"+subject+"%")
	}

	var items []models.Material
	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}

	listed := make([]ListedMaterial, len(items))
	for i := range items {
		listed[i] = ListedMaterial{Material: items[i], StorageVerified: true}
	}

	for start := 0; start < len(listed); start += c.BatchSize {
		end := start + c.BatchSize
		if end > len(listed) {
			end = len(listed)
		}
		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			key, ok := storageKey(listed[i].FileURL)
			if !ok {
				// External URL, nothing to probe.
				continue
			}
			g.Go(func() error {
				if _, err := c.Store.Presign(gctx, key, probeTTL); err != nil {
					listed[i].StorageVerified = false
					listed[i].StorageMissing = true
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	return listed, nil
}

// Create validates the input and inserts a row attributed to uploader.
func (c *CatalogService) Create(ctx context.Context, in MaterialInput, uploader string) (*models.Material, error) {
	if strings.TrimSpace(in.BookName) == "" {
		return nil, fmt.Errorf("%w: book_name is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.FileURL) == "" {
		return nil, fmt.Errorf("%w: file_url is required", ErrInvalidInput)
	}
	if in.Semester != 0 && (in.Semester < 1 || in.Semester > 8) {
		return nil, fmt.Errorf("%w: semester must be between 1 and 8", ErrInvalidInput)
	}

	m := models.Material{
		BookName:      strings.TrimSpace(in.BookName),
		Subject:       strings.TrimSpace(in.Subject),
		Semester:      in.Semester,
		FileURL:       strings.TrimSpace(in.FileURL),
		UploaderEmail: uploader,
	}
	if err := c.DB.WithContext(ctx).Create(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// Delete removes a material. Only the original uploader may delete it.
// The stored object is removed best-effort before the row; storage
// failures are logged and never fail the delete.
func (c *CatalogService) Delete(ctx context.Context, id uint, requester string) error {
	if requester == "" {
		return ErrUnauthenticated
	}

	var m models.Material
	if err := c.DB.WithContext(ctx).First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	if m.UploaderEmail != "" && m.UploaderEmail != requester {
		return ErrForbidden
	}

	if key, ok := storageKey(m.FileURL); ok {
		if err := c.Store.Delete(ctx, key); err != nil {
			c.Logger.Warn("Storage object delete failed", zap.Uint("id", m.ID), zap.Error(err))
		}
	}

	return c.DB.WithContext(ctx).Delete(&models.Material{}, id).Error
}

// Sweep probes every storage-backed row and records missing objects in
// the storage_missing column. It runs from the cron schedule and from
// the standalone sweep command; failures are per-row and non-fatal.
func (c *CatalogService) Sweep(ctx context.Context) (missing int, err error) {
	var items []models.Material
	if err := c.DB.WithContext(ctx).Find(&items).Error; err != nil {
		return 0, err
	}

	for start := 0; start < len(items); start += c.BatchSize {
		end := start + c.BatchSize
		if end > len(items) {
			end = len(items)
		}
		g, gctx := errgroup.WithContext(ctx)
		results := make([]bool, end-start)
		for i := start; i < end; i++ {
			i := i
			key, ok := storageKey(items[i].FileURL)
			if !ok {
				continue
			}
			g.Go(func() error {
				_, probeErr := c.Store.Presign(gctx, key, probeTTL)
				results[i-start] = probeErr != nil
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return missing, err
		}
		for i := start; i < end; i++ {
			nowMissing := results[i-start]
			if nowMissing {
				missing++
			}
			if nowMissing != items[i].StorageMissing {
				if err := c.DB.WithContext(ctx).Model(&models.Material{}).
					Where("id = ?", items[i].ID).
					Update("storage_missing", nowMissing).Error; err != nil {
					c.Logger.Warn("Sweep update failed", zap.Uint("id", items[i].ID), zap.Error(err))
				}
			}
		}
	}

	c.Logger.Info("Storage verification sweep completed",
		zap.Int("total", len(items)), zap.Int("missing", missing))
	return missing, nil
}
