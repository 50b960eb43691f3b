package store

import (
	"fmt"

	"go.uber.org/zap"
)

// New returns the metadata store selected by the backend name.
func New(backend, dataPath string, logger *zap.Logger) (Store, error) {
	switch backend {
	case "", "sqlite":
		return NewSQLiteStore(dataPath, logger)
	default:
		return nil, fmt.Errorf("unknown database backend %q", backend)
	}
}
