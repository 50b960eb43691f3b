package content

import (
	"fmt"

	"go.uber.org/zap"
)

// NewStore returns the content store selected by the backend name. Adding
// a backend means adding a case here; there is no plugin discovery.
func NewStore(backend, path string, s3 S3Config, logger *zap.Logger) (Store, error) {
	switch backend {
	case "", "filesystem":
		return NewFileSystemStore(path, logger)
	case "s3":
		return NewS3Store(s3, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
