package types

import (
	"time"
)

// FileRecord describes one shared file. Records are rebuilt on every catalog
// enumeration.
type FileRecord struct {
	DisplayName   string    `json:"name"`
	AbsolutePath  string    `json:"-"`
	SizeBytes     uint64    `json:"size"`
	ContentDigest string    `json:"hash"`
	CreatedAt     time.Time `json:"created_at"`
	ModifiedAt    time.Time `json:"modified_at"`
}

// DownloadResult is the single outcome of one peer download.
type DownloadResult struct {
	Success    bool   `json:"success"`
	Filename   string `json:"filename"`
	SourceHost string `json:"source_host"`
	Bytes      uint64 `json:"bytes"`
	Reason     string `json:"reason,omitempty"`
}
