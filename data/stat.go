package data

import (
	"encoding/json"
	"time"
)

// FileStat is the low-level description of an object on a single branch.
// Backends produce it for Head/List calls; the union layer aggregates it
// into per-branch entry state.
type FileStat struct {
	// Relative key within the backend
	Key string `json:"key"`

	// Unix-style mode and permissions
	Mode FileMode `json:"mode"`

	// Size in bytes (0 for directories and special files)
	Size int64 `json:"size"`

	ModifyTime time.Time `json:"modify_time"`
	AccessTime time.Time `json:"access_time"`
	CreateTime time.Time `json:"create_time"`

	// Content MIME type
	ContentType string `json:"content_type,omitempty"`

	ETag string `json:"etag,omitempty"`
}

// Marshal provides JSON serialization for FileStat.
func (fs *FileStat) Marshal() ([]byte, error) {
	return json.Marshal(fs)
}

// Unmarshal provides JSON deserialization for FileStat.
func (fs *FileStat) Unmarshal(data []byte) error {
	return json.Unmarshal(data, &fs)
}
