package transport

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/novolei/HChat-sub000/internal/crypto"
	"github.com/novolei/HChat-sub000/internal/metrics"
	"github.com/novolei/HChat-sub000/internal/models"
)

// encryptedContentType is what the object store sees. The real content type
// of the plaintext lives in the attachment metadata inside the message.
const encryptedContentType = "application/octet-stream"

// Attachments seals local files into encrypted containers and moves them
// against object storage through presigned URLs.
type Attachments struct {
	client    *Client
	chunkSize int
}

// NewAttachments builds the attachment service. chunkSize bounds how much
// plaintext each AEAD chunk covers; zero selects the default.
func NewAttachments(client *Client, chunkSize int) *Attachments {
	if chunkSize <= 0 {
		chunkSize = crypto.DefaultChunkSize
	}
	return &Attachments{client: client, chunkSize: chunkSize}
}

// UploadFile encrypts path under passphrase and uploads the container to a
// freshly presigned object. The plaintext never leaves the device.
func (a *Attachments) UploadFile(ctx context.Context, path, passphrase string) (*models.Attachment, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp("", "hchat-upload-*"+crypto.ContainerSuffix)
	if err != nil {
		return nil, err
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	if _, err := crypto.EncryptFile(path, tmp.Name(), passphrase, a.chunkSize); err != nil {
		return nil, fmt.Errorf("sealing %s: %w", filepath.Base(path), err)
	}

	objectKey := ulid.Make().String() + crypto.ContainerSuffix
	presigned, err := a.client.Presign(ctx, objectKey, encryptedContentType)
	if err != nil {
		return nil, err
	}

	if err := a.client.putFile(ctx, presigned.PutURL, encryptedContentType, tmp.Name()); err != nil {
		return nil, err
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = encryptedContentType
	}

	return &models.Attachment{
		ID:          uuid.NewString(),
		Kind:        models.KindFromContentType(contentType),
		Filename:    filepath.Base(path),
		ContentType: contentType,
		PutURL:      presigned.PutURL,
		GetURL:      presigned.GetURL,
		SizeBytes:   fi.Size(),
	}, nil
}

// DownloadFile fetches an attachment's container and decrypts it into
// destDir under the attachment's original filename. The plaintext only
// appears once the whole container has authenticated.
func (a *Attachments) DownloadFile(ctx context.Context, att *models.Attachment, destDir, passphrase string) (string, error) {
	tmp, err := os.CreateTemp("", "hchat-download-*"+crypto.ContainerSuffix)
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	start := time.Now()
	if _, err := a.client.Get(ctx, att.GetURL, tmp); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	metrics.AttachmentDownloadDuration.Observe(time.Since(start).Seconds())

	dstPath := filepath.Join(destDir, filepath.Base(att.Filename))
	if _, err := crypto.DecryptFile(tmp.Name(), dstPath, passphrase); err != nil {
		return "", fmt.Errorf("opening %s: %w", att.Filename, err)
	}
	return dstPath, nil
}
