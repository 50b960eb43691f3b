package search

import "fmt"

// New returns the indexer selected by the backend name. Push-based
// backends are constructed directly with NewBatchingIndexer.
func New(backend string) (Indexer, error) {
	switch backend {
	case "null":
		return NullIndexer{}, nil
	case "", "database":
		return DatabaseIndexer{}, nil
	default:
		return nil, fmt.Errorf("unknown search backend %q", backend)
	}
}
