package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"studyshelf/models"
	"studyshelf/storage"
)

var proxyClient = &http.Client{Timeout: 60 * time.Second}

// ProxyResult is a resolved file ready to be relayed to the caller.
// Body streams the bytes; the caller must close it. ContentLength is
// -1 when unknown.
type ProxyResult struct {
	Body          io.ReadCloser
	Filename      string
	ContentLength int64
}

// FileProxy gates and relays file bytes. The requester must have at
// least one prior upload; the authorization fact is derived fresh on
// every call and never cached.
type FileProxy struct {
	DB     *gorm.DB
	Store  ObjectStore
	Logger *zap.Logger
}

// NewFileProxy creates a FileProxy.
func NewFileProxy(db *gorm.DB, store ObjectStore, logger *zap.Logger) *FileProxy {
	return &FileProxy{DB: db, Store: store, Logger: logger}
}

// Open authorizes the requester and resolves the reference to a byte
// stream. Exactly one of path (storage key) or rawURL is expected;
// path wins when both are set. The authorization check runs before any
// file bytes are touched.
func (p *FileProxy) Open(ctx context.Context, requester, path, rawURL string) (*ProxyResult, error) {
	if requester == "" {
		return nil, ErrUnauthenticated
	}

	var count int64
	if err := p.DB.WithContext(ctx).Model(&models.Material{}).
		Where("uploader_email = ?", requester).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("%w: unable to verify permissions", ErrInvalidInput)
	}
	if count < 1 {
		return nil, ErrNoUploads
	}

	// Prefer the storage key; a storage URL is reduced to its key, any
	// other URL is treated as an opaque external address.
	key := path
	if key == "" && rawURL != "" {
		if derived, ok := storage.KeyFromURL(rawURL); ok {
			key = derived
		}
	}

	if key != "" {
		body, length, err := p.Store.Download(ctx, key)
		if err != nil {
			return nil, ErrNotFound
		}
		return &ProxyResult{
			Body:          body,
			Filename:      pdfFilename(lastSegment(key)),
			ContentLength: length,
		}, nil
	}

	if strings.HasPrefix(rawURL, "http://") || strings.HasPrefix(rawURL, "https://") {
		return p.openExternal(ctx, rawURL)
	}

	return nil, fmt.Errorf("%w: missing file reference", ErrInvalidInput)
}

// openExternal proxies a direct URL, but only when the response really
// looks like a PDF. HTML or anything else masquerading as a PDF is
// rejected before a single body byte is relayed.
func (p *FileProxy) openExternal(ctx context.Context, rawURL string) (*ProxyResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed URL", ErrInvalidInput)
	}
	req.Header.Set("Accept", "application/pdf")

	resp, err := proxyClient.Do(req)
	if err != nil {
		return nil, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 || resp.Body == nil {
		resp.Body.Close()
		return nil, ErrNotFound
	}

	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	looksPDF := strings.Contains(ct, "application/pdf") ||
		strings.Contains(ct, "application/octet-stream") ||
		strings.HasSuffix(strings.ToLower(req.URL.Path), ".pdf")
	if !looksPDF {
		resp.Body.Close()
		return nil, ErrNotPDF
	}

	name := "material"
	if u, err := url.Parse(rawURL); err == nil {
		if seg := lastSegment(u.Path); seg != "" {
			name = seg
		}
	}

	return &ProxyResult{
		Body:          resp.Body,
		Filename:      pdfFilename(name),
		ContentLength: resp.ContentLength,
	}, nil
}

func lastSegment(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// pdfFilename appends the .pdf extension when the base name lacks it.
func pdfFilename(base string) string {
	if base == "" {
		base = "material"
	}
	if !strings.HasSuffix(strings.ToLower(base), ".pdf") {
		base += ".pdf"
	}
	return base
}
