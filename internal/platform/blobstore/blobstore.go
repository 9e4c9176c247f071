// Package blobstore stores uploaded prescription files. Metadata lives with
// the owning record in Postgres; the store only knows keys and bytes.
package blobstore

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrEmptyFile          = errors.New("file is empty")
	ErrMissingFileName    = errors.New("file name is required")
)

// AllowedContentTypes are the sniffed types accepted for prescriptions.
var AllowedContentTypes = map[string]bool{
	"image/png":       true,
	"image/jpeg":      true,
	"image/webp":      true,
	"application/pdf": true,
}

type Object struct {
	Key         string
	FileName    string
	ContentType string
	Size        int64
	SHA256      string
	CreatedAt   time.Time
}

type Store interface {
	Put(ctx context.Context, fileName string, content io.Reader) (*Object, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// prepare sniffs the content type, enforces maxSize and buffers the content.
// The returned Object has every field but Key set.
func prepare(fileName string, content io.Reader, maxSize int64) (*Object, []byte, error) {
	if strings.TrimSpace(fileName) == "" {
		return nil, nil, ErrMissingFileName
	}

	br := bufio.NewReaderSize(content, 512)
	head, err := br.Peek(512)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, nil, fmt.Errorf("read content: %w", err)
	}
	if len(head) == 0 {
		return nil, nil, ErrEmptyFile
	}

	contentType, _, _ := strings.Cut(http.DetectContentType(head), ";")
	if !AllowedContentTypes[contentType] {
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidContentType, contentType)
	}

	data, err := io.ReadAll(io.LimitReader(br, maxSize+1))
	if err != nil {
		return nil, nil, fmt.Errorf("read content: %w", err)
	}
	if int64(len(data)) > maxSize {
		return nil, nil, ErrFileTooLarge
	}

	sum := sha256.Sum256(data)
	return &Object{
		FileName:    fileName,
		ContentType: contentType,
		Size:        int64(len(data)),
		SHA256:      hex.EncodeToString(sum[:]),
		CreatedAt:   time.Now().UTC(),
	}, data, nil
}

func newKey() string {
	return uuid.NewString()
}

// validKey guards file-backed stores against path traversal.
func validKey(key string) bool {
	_, err := uuid.Parse(key)
	return err == nil
}
