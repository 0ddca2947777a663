package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func seedUpload(t *testing.T, svc *CatalogService, email string) {
	t.Helper()
	if _, err := svc.Create(context.Background(), MaterialInput{
		BookName: "Seed", FileURL: email + "/seed.pdf",
	}, email); err != nil {
		t.Fatalf("seeding upload: %v", err)
	}
}

func TestOpenRequiresSession(t *testing.T) {
	proxy := NewFileProxy(newTestDB(t), newFakeStore(), zap.NewNop())

	_, err := proxy.Open(context.Background(), "", "u1/a.pdf", "")
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestOpenRequiresPriorUpload(t *testing.T) {
	db := newTestDB(t)
	store := newFakeStore()
	store.objects["u1/a.pdf"] = []byte("%PDF-1.4")
	proxy := NewFileProxy(db, store, zap.NewNop())

	_, err := proxy.Open(context.Background(), "reader@example.com", "u1/a.pdf", "")
	if !errors.Is(err, ErrNoUploads) {
		t.Fatalf("expected ErrNoUploads, got %v", err)
	}
}

func TestOpenStoragePath(t *testing.T) {
	db := newTestDB(t)
	store := newFakeStore()
	store.objects["u1/notes.pdf"] = []byte("%PDF-1.4 notes")
	catalog := NewCatalogService(db, store, zap.NewNop(), 10)
	seedUpload(t, catalog, "u1@example.com")
	proxy := NewFileProxy(db, store, zap.NewNop())

	res, err := proxy.Open(context.Background(), "u1@example.com", "u1/notes.pdf", "")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer res.Body.Close()

	if res.Filename != "notes.pdf" {
		t.Errorf("filename = %q, want notes.pdf", res.Filename)
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "%PDF-1.4 notes" {
		t.Errorf("unexpected body: %q", data)
	}
	if res.ContentLength != int64(len(data)) {
		t.Errorf("content length = %d, want %d", res.ContentLength, len(data))
	}
}

func TestOpenStorageURLReducedToKey(t *testing.T) {
	db := newTestDB(t)
	store := newFakeStore()
	store.objects["u1/notes.pdf"] = []byte("%PDF-1.4")
	catalog := NewCatalogService(db, store, zap.NewNop(), 10)
	seedUpload(t, catalog, "u1@example.com")
	proxy := NewFileProxy(db, store, zap.NewNop())

	res, err := proxy.Open(context.Background(), "u1@example.com", "",
		"https://store.test/storage/v1/object/public/materials/u1/notes.pdf")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	res.Body.Close()
	if res.Filename != "notes.pdf" {
		t.Errorf("filename = %q, want notes.pdf", res.Filename)
	}
}

func TestOpenMissingObject(t *testing.T) {
	db := newTestDB(t)
	store := newFakeStore()
	catalog := NewCatalogService(db, store, zap.NewNop(), 10)
	seedUpload(t, catalog, "u1@example.com")
	proxy := NewFileProxy(db, store, zap.NewNop())

	_, err := proxy.Open(context.Background(), "u1@example.com", "u1/vanished.pdf", "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOpenExternalPDF(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4 external"))
	}))
	defer srv.Close()

	db := newTestDB(t)
	store := newFakeStore()
	catalog := NewCatalogService(db, store, zap.NewNop(), 10)
	seedUpload(t, catalog, "u1@example.com")
	proxy := NewFileProxy(db, store, zap.NewNop())

	res, err := proxy.Open(context.Background(), "u1@example.com", "", srv.URL+"/papers/intro.pdf")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer res.Body.Close()

	if res.Filename != "intro.pdf" {
		t.Errorf("filename = %q, want intro.pdf", res.Filename)
	}
	data, _ := io.ReadAll(res.Body)
	if string(data) != "%PDF-1.4 external" {
		t.Errorf("unexpected body: %q", data)
	}
}

func TestOpenExternalNonPDFRejected(t *testing.T) {
	var served bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served = true
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>not a pdf</html>"))
	}))
	defer srv.Close()

	db := newTestDB(t)
	store := newFakeStore()
	catalog := NewCatalogService(db, store, zap.NewNop(), 10)
	seedUpload(t, catalog, "u1@example.com")
	proxy := NewFileProxy(db, store, zap.NewNop())

	_, err := proxy.Open(context.Background(), "u1@example.com", "", srv.URL+"/page")
	if !errors.Is(err, ErrNotPDF) {
		t.Fatalf("expected ErrNotPDF, got %v", err)
	}
	if !served {
		t.Fatal("expected the upstream to have been contacted")
	}
}

func TestOpenMissingReference(t *testing.T) {
	db := newTestDB(t)
	store := newFakeStore()
	catalog := NewCatalogService(db, store, zap.NewNop(), 10)
	seedUpload(t, catalog, "u1@example.com")
	proxy := NewFileProxy(db, store, zap.NewNop())

	_, err := proxy.Open(context.Background(), "u1@example.com", "", "")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
