package models

import "time"

type MediaAsset struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	FileName  string    `db:"file_name" json:"file_name"`
	FileType  string    `db:"file_type" json:"file_type"`
	FileSize  int64     `db:"file_size" json:"file_size"`
	FileURL   string    `db:"file_url" json:"file_url"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// MediaRef points the chunked uploader at a payload: either a remote URL or
// an already-local buffer, with whatever size information is known upfront.
type MediaRef struct {
	URL      string
	Type     string
	Size     int64
	Duration time.Duration
}
