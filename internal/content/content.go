// Package content provides the durable blob store that holds package
// archives, manifests, and embedded assets. Backends are interchangeable
// behind the Store interface; all of them implement atomic create-if-absent
// writes with content-identity comparison on collision.
package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get for paths with no stored object.
var ErrNotFound = errors.New("content: not found")

// PutResult is the outcome of a Put.
type PutResult int

const (
	// PutSuccess means the object was created by this call.
	PutSuccess PutResult = iota

	// PutAlreadyExists means an object with identical bytes was already
	// stored at the path. The write is a no-op.
	PutAlreadyExists

	// PutConflict means an object with different bytes is already stored
	// at the path. Nothing is overwritten.
	PutConflict
)

func (r PutResult) String() string {
	switch r {
	case PutSuccess:
		return "success"
	case PutAlreadyExists:
		return "already-exists"
	case PutConflict:
		return "conflict"
	default:
		return fmt.Sprintf("put-result(%d)", int(r))
	}
}

// Store is a durable key to bytes store with create-if-absent semantics.
//
// Paths are relative and backend-agnostic; backends reject paths that would
// escape their root.
type Store interface {
	// Get returns the stored bytes, or ErrNotFound.
	Get(ctx context.Context, path string) ([]byte, error)

	// GetDownloadURL returns a location a client can fetch the object
	// from: a direct file path or a time-limited signed URL. It is
	// produced even if the object does not exist.
	GetDownloadURL(ctx context.Context, path string) (string, error)

	// Put atomically creates the object if absent. If the path is already
	// occupied, the existing bytes are compared against the new bytes:
	// identical content yields PutAlreadyExists, divergent content
	// PutConflict. Existing objects are never overwritten.
	Put(ctx context.Context, path string, content []byte, contentType string) (PutResult, error)

	// Delete removes the object. Deleting an absent path is not an error.
	Delete(ctx context.Context, path string) error
}

// validatePath rejects absolute paths and any path that could traverse out
// of the store root.
func validatePath(p string) error {
	if p == "" {
		return fmt.Errorf("content: empty path")
	}
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, "\\") {
		return fmt.Errorf("content: absolute path %q not allowed", p)
	}
	for _, seg := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return fmt.Errorf("content: path %q escapes store root", p)
		}
	}
	return nil
}
