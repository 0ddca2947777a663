package models

import "time"

// Material is one catalogued document entry: metadata row plus a file
// reference, which is either an object storage key or an absolute URL.
type Material struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	BookName string `json:"book_name" gorm:"not null"`
	Subject  string `json:"subject,omitempty" gorm:"index"`

	// Semester is 1..8 when set, 0 when the uploader left it out.
	Semester int `json:"semester,omitempty" gorm:"index"`

	FileURL       string `json:"file_url" gorm:"not null"`
	UploaderEmail string `json:"uploader_email" gorm:"index"`

	// Set by the verification sweep when the referenced storage object
	// could not be found.
	StorageMissing bool `json:"storage_missing,omitempty" gorm:"default:false"`
}
