package models

import "strings"

// AttachmentKind classifies an attachment by its content type.
type AttachmentKind string

const (
	KindImage AttachmentKind = "image"
	KindVideo AttachmentKind = "video"
	KindAudio AttachmentKind = "audio"
	KindFile  AttachmentKind = "file"
)

// KindFromContentType infers the attachment kind from a MIME content type.
func KindFromContentType(contentType string) AttachmentKind {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return KindImage
	case strings.HasPrefix(contentType, "video/"):
		return KindVideo
	case strings.HasPrefix(contentType, "audio/"):
		return KindAudio
	default:
		return KindFile
	}
}

// Attachment references an encrypted payload in the object store. Created
// once after a successful upload and immutable thereafter. PutURL is only
// valid for the upload itself and is never serialized or persisted.
type Attachment struct {
	ID          string         `json:"id"` // UUID
	Kind        AttachmentKind `json:"kind"`
	Filename    string         `json:"filename"`
	ContentType string         `json:"content_type"`
	PutURL      string         `json:"-"`
	GetURL      string         `json:"url"`
	SizeBytes   int64          `json:"size"`
}
