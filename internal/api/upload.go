package api

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"time"

	"github.com/alexjbarnes/hrchat/internal/models"
)

// uploadTimeout bounds a single multipart upload.
const uploadTimeout = 5 * time.Minute

// UploadFile streams the file at localPath to POST /files/upload as the
// multipart field "file".
func (c *Client) UploadFile(ctx context.Context, localPath, fileName, mimeType string) models.Result[models.FileDescriptor] {
	f, err := os.Open(localPath)
	if err != nil {
		return models.Fail[models.FileDescriptor](0, fmt.Sprintf("opening %s: %v", localPath, err), false)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeFilePart(mw, f, fileName, mimeType))
	}()

	res := call[models.FileDescriptor](ctx, c, request{
		method:      http.MethodPost,
		endpoint:    "/files/upload",
		body:        pr,
		contentType: mw.FormDataContentType(),
		timeout:     uploadTimeout,
	})

	// Unblock the writer if the request ended before consuming the body.
	pr.Close()

	return res
}

func writeFilePart(mw *multipart.Writer, r io.Reader, fileName, mimeType string) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, fileName))

	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	h.Set("Content-Type", mimeType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}

	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("copying file: %w", err)
	}

	return mw.Close()
}
