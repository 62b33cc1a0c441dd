package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/sync/errgroup"

	"github.com/hszk-dev/hlsforge/internal/domain/repository"
)

// objectReader abstracts minio.Object for testability.
type objectReader interface {
	io.ReadCloser
	Stat() (minio.ObjectInfo, error)
}

// minioClient is the subset of *minio.Client the publisher needs.
type minioClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (objectReader, error)
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	RemoveObjects(ctx context.Context, bucketName string, objectsCh <-chan minio.ObjectInfo, opts minio.RemoveObjectsOptions) <-chan minio.RemoveObjectError
}

// minioClientAdapter narrows GetObject's *minio.Object to objectReader.
type minioClientAdapter struct {
	*minio.Client
}

func (a minioClientAdapter) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (objectReader, error) {
	return a.Client.GetObject(ctx, bucketName, objectName, opts)
}

const defaultUploadConcurrency = 4

// ClientConfig holds configuration for the MinIO client.
type ClientConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// UploadConcurrency bounds parallel PUTs in UploadDir. Zero means 4.
	UploadConcurrency int
}

// Client implements repository.ObjectStorage on a single MinIO bucket.
type Client struct {
	client      minioClient
	bucket      string
	concurrency int
}

// NewClient connects to MinIO and fails fast when the bucket is missing.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return newClient(ctx, minioClientAdapter{client}, cfg.Bucket, cfg.UploadConcurrency)
}

func newClient(ctx context.Context, client minioClient, bucket string, concurrency int) (*Client, error) {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", repository.ErrBucketNotFound, bucket)
	}
	if concurrency <= 0 {
		concurrency = defaultUploadConcurrency
	}
	return &Client{client: client, bucket: bucket, concurrency: concurrency}, nil
}

// contentTypes maps the extensions an HLS output tree contains to the types
// players expect when fetching them over HTTP.
var contentTypes = map[string]string{
	".m3u8": "application/vnd.apple.mpegurl",
	".ts":   "video/mp2t",
	".vtt":  "text/vtt",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".mp4":  "video/mp4",
}

// ContentTypeFor returns the content type for name, falling back to
// application/octet-stream.
func ContentTypeFor(name string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// cacheControlFor keeps playlists revalidated and lets segments and images be cached.
func cacheControlFor(name string) string {
	if strings.EqualFold(filepath.Ext(name), ".m3u8") {
		return "no-cache"
	}
	return "public, max-age=31536000, immutable"
}

type localFile struct {
	path string
	key  string
}

// UploadDir publishes dir in three waves: media, variant playlists, then
// master.m3u8, so a reader never sees a playlist whose entries are missing.
func (c *Client) UploadDir(ctx context.Context, prefix, dir string) (int, error) {
	var media, playlists, masters []localFile
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		f := localFile{path: p, key: path.Join(prefix, filepath.ToSlash(rel))}
		switch {
		case rel == "master.m3u8":
			masters = append(masters, f)
		case strings.EqualFold(filepath.Ext(p), ".m3u8"):
			playlists = append(playlists, f)
		default:
			media = append(media, f)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to walk %s: %w", dir, err)
	}

	var uploaded atomic.Int64
	for _, wave := range [][]localFile{media, playlists, masters} {
		if err := c.putAll(ctx, wave, &uploaded); err != nil {
			return int(uploaded.Load()), fmt.Errorf("failed to upload directory %s: %w", dir, err)
		}
	}
	return int(uploaded.Load()), nil
}

func (c *Client) putAll(ctx context.Context, files []localFile, uploaded *atomic.Int64) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, f := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			_, err := c.client.FPutObject(ctx, c.bucket, f.key, f.path, minio.PutObjectOptions{
				ContentType:  ContentTypeFor(f.path),
				CacheControl: cacheControlFor(f.path),
			})
			if err != nil {
				return fmt.Errorf("failed to upload %s: %w", f.key, err)
			}
			uploaded.Add(1)
			return nil
		})
	}
	return g.Wait()
}

// Download opens an object. The caller closes the returned reader.
func (c *Client) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := c.client.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}

	// GetObject is lazy; Stat surfaces a missing key before the caller reads.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, repository.ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to stat object: %w", err)
	}
	return obj, nil
}

// DeletePrefix batch-removes every object under prefix.
func (c *Client) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		listed  int
		listErr error
	)
	objects := make(chan minio.ObjectInfo)
	go func() {
		defer close(objects)
		for obj := range c.client.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
			if obj.Err != nil {
				listErr = obj.Err
				return
			}
			select {
			case objects <- obj:
				listed++
			case <-ctx.Done():
				return
			}
		}
	}()

	var (
		failed   int
		firstErr error
	)
	for rerr := range c.client.RemoveObjects(ctx, c.bucket, objects, minio.RemoveObjectsOptions{}) {
		if firstErr == nil {
			firstErr = fmt.Errorf("failed to delete %s: %w", rerr.ObjectName, rerr.Err)
		}
		failed++
	}
	// RemoveObjects drains objects before closing its result channel, but a
	// cancelled ctx may stop it early; wait for the lister either way.
	cancel()
	drained := 0
	for range objects {
		drained++
	}

	removed := listed - drained - failed
	if listErr != nil {
		return removed, fmt.Errorf("failed to list objects under %s: %w", prefix, listErr)
	}
	if firstErr != nil {
		return removed, firstErr
	}
	return removed, nil
}
