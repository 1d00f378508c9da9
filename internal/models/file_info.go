package models

import "time"

// FileInfo represents metadata about an uploaded file.
type FileInfo struct {
	ID          string    `json:"id" msgpack:"id"`
	SessionID   string    `json:"sessionId,omitempty" msgpack:"sessionId,omitempty"`
	Name        string    `json:"name" msgpack:"name"`
	Size        int64     `json:"size" msgpack:"size"`
	ContentType string    `json:"contentType,omitempty" msgpack:"contentType,omitempty"`
	UploadedAt  time.Time `json:"uploadedAt" msgpack:"uploadedAt"`
	Status      string    `json:"status" msgpack:"status"` // "uploaded", "processing", "processed", "error"
}

// UploadFile is a single file queued for extraction: its name, content and
// declared media type. ID refers to the stored copy, when there is one;
// Content may then be left empty and read from the store when the file's
// turn comes.
type UploadFile struct {
	ID          string
	Name        string
	ContentType string
	Size        int64
	Content     []byte
}

// Info returns the attachment reference for the file.
func (f UploadFile) Info() *FileInfo {
	size := f.Size
	if size == 0 {
		size = int64(len(f.Content))
	}
	return &FileInfo{
		ID:          f.ID,
		Name:        f.Name,
		Size:        size,
		ContentType: f.ContentType,
		Status:      "uploaded",
	}
}
