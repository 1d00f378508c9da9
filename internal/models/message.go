package models

import "time"

// MessageType identifies who authored a timeline entry.
type MessageType string

const (
	MessageTypeUser MessageType = "user"
	MessageTypeBot  MessageType = "bot"
)

// AttachmentKind tells which of the Attachment references is populated.
type AttachmentKind string

const (
	AttachmentFile    AttachmentKind = "file"
	AttachmentInvoice AttachmentKind = "invoice"
)

// Attachment links a message to the file it announces or to the extraction
// result it summarizes.
type Attachment struct {
	Kind     AttachmentKind     `json:"kind" msgpack:"kind"`
	File     *FileInfo          `json:"file,omitempty" msgpack:"file,omitempty"`
	Invoice  *InvoiceExtraction `json:"invoice,omitempty" msgpack:"invoice,omitempty"`
	FileHash string             `json:"fileHash,omitempty" msgpack:"fileHash,omitempty"`
}

// Message is a single timeline entry. Messages are never modified once
// appended to a conversation.
type Message struct {
	ID         string      `json:"id" msgpack:"id"`
	Type       MessageType `json:"type" msgpack:"type"`
	Content    string      `json:"content" msgpack:"content"`
	Timestamp  string      `json:"timestamp" msgpack:"timestamp"` // human-readable, e.g. "3:04:05 PM"
	CreatedAt  time.Time   `json:"createdAt" msgpack:"createdAt"`
	Processing bool        `json:"processing,omitempty" msgpack:"processing,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty" msgpack:"attachment,omitempty"`
}
