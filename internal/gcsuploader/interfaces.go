package gcsuploader

import "context"

// StorageService archives raw statement files and reads them back by URI.
type StorageService interface {
	Archive(ctx context.Context, importID, filename string, content []byte) (string, error)
	Delete(ctx context.Context, uri string) error
	FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error)
}

var _ StorageService = (*GCSStorageService)(nil)
