package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// ObjectStore persists generated images and returns a URL the client can load.
type ObjectStore interface {
	Put(ctx context.Context, name string, contentType string, data []byte) (string, error)
}

// GCS uploads objects into a single bucket under a fixed prefix.
type GCS struct {
	cl         *gcstorage.Client
	projectID  string
	bucketName string
	uploadPath string
	timeout    time.Duration
}

// NewGCS creates the storage client. Credentials come from
// GOOGLE_APPLICATION_CREDENTIALS unless opts says otherwise.
func NewGCS(ctx context.Context, projectID, bucketName, uploadPath string, opts ...option.ClientOption) (*GCS, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	client, err := gcstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient: %w", err)
	}
	return &GCS{
		cl:         client,
		projectID:  projectID,
		bucketName: bucketName,
		uploadPath: uploadPath,
		timeout:    50 * time.Second,
	}, nil
}

// Put uploads data under a timestamped object name and returns its public URL.
func (c *GCS) Put(ctx context.Context, name string, contentType string, data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	objectPath := c.uploadPath + strconv.FormatInt(time.Now().UnixNano(), 10) + "_" + name

	wc := c.cl.Bucket(c.bucketName).Object(objectPath).NewWriter(ctx)
	wc.ContentType = contentType
	if _, err := io.Copy(wc, bytes.NewReader(data)); err != nil {
		_ = wc.Close()
		return "", fmt.Errorf("io.Copy: %w", err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("Writer.Close: %w", err)
	}

	return PublicURL(c.bucketName, objectPath), nil
}

func (c *GCS) Close() error {
	return c.cl.Close()
}

// PublicURL is the storage.googleapis.com address of an object.
func PublicURL(bucket, objectPath string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucket, objectPath)
}
