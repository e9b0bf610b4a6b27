// Package upload stores local files for file messages and returns their
// remote descriptors. Backends are safe for concurrent use.
package upload

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"

	apperrors "github.com/alexjbarnes/hrchat/internal/errors"
	"github.com/alexjbarnes/hrchat/internal/models"
)

// Uploader stores the file at localPath.
type Uploader interface {
	Upload(ctx context.Context, localPath, fileName, mimeType string) (models.FileDescriptor, error)
}

// fileUploader is the REST collaborator the REST backend delegates to.
type fileUploader interface {
	UploadFile(ctx context.Context, localPath, fileName, mimeType string) models.Result[models.FileDescriptor]
}

// REST uploads through the backend's multipart endpoint.
type REST struct {
	client fileUploader
}

// NewREST creates a REST backend. api.Client satisfies client.
func NewREST(client fileUploader) *REST {
	return &REST{client: client}
}

// Upload sends the file and returns the backend's descriptor.
func (r *REST) Upload(ctx context.Context, localPath, fileName, mimeType string) (models.FileDescriptor, error) {
	fileName, mimeType = describe(localPath, fileName, mimeType)

	res := r.client.UploadFile(ctx, localPath, fileName, mimeType)
	if res.IsError {
		return models.FileDescriptor{}, fmt.Errorf("%w: %s", apperrors.ErrUploadFailed, res.Message)
	}

	desc := res.Data
	if desc.ID == "" {
		return models.FileDescriptor{}, fmt.Errorf("%w: response has no file id", apperrors.ErrUploadFailed)
	}

	if desc.Name == "" {
		desc.Name = fileName
	}

	if desc.Type == "" {
		desc.Type = mimeType
	}

	return desc, nil
}

// describe fills in a missing file name from the path and a missing
// mime type from the extension.
func describe(localPath, fileName, mimeType string) (string, string) {
	if fileName == "" {
		fileName = filepath.Base(localPath)
	}

	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(fileName))
	}

	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	return fileName, mimeType
}
