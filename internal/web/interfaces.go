package web

import (
	"context"

	"reelmusic/internal/delivery"
	"reelmusic/internal/reel"
	"reelmusic/internal/styles"
)

// Pipeline runs reel jobs. *reel.Service implements it.
type Pipeline interface {
	Process(ctx context.Context, req *reel.Request, deliver func(*reel.Artifact) error) error
	Catalog() *styles.Catalog
	MaxVideoBytes() int64
	MaxReferenceBytes() int64
}

// Publisher stores an artifact and returns a download link.
// *delivery.S3Publisher implements it.
type Publisher interface {
	Publish(ctx context.Context, key, path, contentType string) (*delivery.Link, error)
}
