package services

import "errors"

// Failure classes surfaced by the service layer. Handlers map these to
// HTTP statuses; messages stay short and never include storage paths
// or credentials.
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrNoUploads       = errors.New("please upload at least one semester-related document to unlock downloads")
	ErrForbidden       = errors.New("not authorized for this item")
	ErrInvalidInput    = errors.New("invalid input")
	ErrNotFound        = errors.New("file not found")
	ErrNotPDF          = errors.New("provided URL is not a PDF")
	ErrInvalidPDF      = errors.New("invalid or unreadable PDF")
	ErrGeneration      = errors.New("text generation failed")
)
