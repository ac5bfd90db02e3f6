// Package blob stores report artifacts and hands back retrievable URLs.
package blob

import "context"

// ObjectStore is the artifact storage port.
type ObjectStore interface {
	// Put stores data under key and returns a URL the client can download
	// the artifact from.
	Put(ctx context.Context, key string, data []byte) (string, error)
}
