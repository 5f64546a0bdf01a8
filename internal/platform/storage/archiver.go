package storage

import (
	"context"
	"errors"
	"strings"

	gcs "cloud.google.com/go/storage"
)

// Archiver writes generated artifacts, such as admin order exports, into
// Cloud Storage.
type Archiver struct {
	client *gcs.Client
}

// NewArchiver constructs an Archiver backed by the provided Cloud Storage
// client.
func NewArchiver(client *gcs.Client) (*Archiver, error) {
	if client == nil {
		return nil, errors.New("storage archiver: client is required")
	}
	return &Archiver{client: client}, nil
}

// WriteObject uploads the payload as a new object in the destination bucket.
func (a *Archiver) WriteObject(ctx context.Context, bucket, object, contentType string, data []byte) error {
	if a == nil || a.client == nil {
		return errors.New("storage archiver: client is not initialised")
	}

	bucket = strings.TrimSpace(bucket)
	object = strings.TrimSpace(object)
	if bucket == "" || object == "" {
		return errors.New("storage archiver: destination must be provided")
	}

	w := a.client.Bucket(bucket).Object(object).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}
