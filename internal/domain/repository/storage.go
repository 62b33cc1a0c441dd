package repository

import (
	"context"
	"io"
)

// ObjectStorage moves sources in and finished HLS trees out of a bucket.
type ObjectStorage interface {
	// Download opens the object at key. The caller closes the reader.
	// Returns ErrObjectNotFound for a missing key.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// UploadDir publishes every regular file under dir to prefix/<relative path>
	// and returns the number of objects written. Playlists are written after
	// the media they reference, master.m3u8 last.
	UploadDir(ctx context.Context, prefix, dir string) (int, error)

	// DeletePrefix removes every object under prefix and returns how many were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}
