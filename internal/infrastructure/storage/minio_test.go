package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"

	"github.com/hszk-dev/hlsforge/internal/domain/repository"
)

type mockObjectReader struct {
	data     []byte
	offset   int
	statFunc func() (minio.ObjectInfo, error)
	closed   bool
}

func (m *mockObjectReader) Read(p []byte) (int, error) {
	if m.offset >= len(m.data) {
		return 0, io.EOF
	}
	n := copy(p, m.data[m.offset:])
	m.offset += n
	return n, nil
}

func (m *mockObjectReader) Close() error {
	m.closed = true
	return nil
}

func (m *mockObjectReader) Stat() (minio.ObjectInfo, error) {
	if m.statFunc != nil {
		return m.statFunc()
	}
	return minio.ObjectInfo{}, nil
}

type mockMinioClient struct {
	bucketExistsFunc func(ctx context.Context, bucketName string) (bool, error)
	fPutObjectFunc   func(ctx context.Context, objectName, filePath string, opts minio.PutObjectOptions) error
	getObjectFunc    func(ctx context.Context, objectName string) (objectReader, error)
	listObjectsFunc  func(ctx context.Context, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	// removeFunc decides the outcome of each object fed to RemoveObjects.
	removeFunc func(objectName string) error
}

func (m *mockMinioClient) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	if m.bucketExistsFunc != nil {
		return m.bucketExistsFunc(ctx, bucketName)
	}
	return true, nil
}

func (m *mockMinioClient) FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if m.fPutObjectFunc != nil {
		if err := m.fPutObjectFunc(ctx, objectName, filePath, opts); err != nil {
			return minio.UploadInfo{}, err
		}
	}
	return minio.UploadInfo{Bucket: bucketName, Key: objectName}, nil
}

func (m *mockMinioClient) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (objectReader, error) {
	if m.getObjectFunc != nil {
		return m.getObjectFunc(ctx, objectName)
	}
	return &mockObjectReader{}, nil
}

func (m *mockMinioClient) ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	if m.listObjectsFunc != nil {
		return m.listObjectsFunc(ctx, opts)
	}
	ch := make(chan minio.ObjectInfo)
	close(ch)
	return ch
}

func (m *mockMinioClient) RemoveObjects(ctx context.Context, bucketName string, objectsCh <-chan minio.ObjectInfo, opts minio.RemoveObjectsOptions) <-chan minio.RemoveObjectError {
	errs := make(chan minio.RemoveObjectError)
	go func() {
		defer close(errs)
		for obj := range objectsCh {
			if m.removeFunc == nil {
				continue
			}
			if err := m.removeFunc(obj.Key); err != nil {
				errs <- minio.RemoveObjectError{ObjectName: obj.Key, Err: err}
			}
		}
	}()
	return errs
}

func listOf(objs ...minio.ObjectInfo) func(ctx context.Context, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	return func(ctx context.Context, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
		ch := make(chan minio.ObjectInfo, len(objs))
		for _, o := range objs {
			ch <- o
		}
		close(ch)
		return ch
	}
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		exists  bool
		err     error
		wantErr string
	}{
		{name: "bucket exists", exists: true},
		{name: "bucket missing", wantErr: repository.ErrBucketNotFound.Error()},
		{name: "bucket check fails", err: errors.New("connection refused"), wantErr: "failed to check bucket existence"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockMinioClient{
				bucketExistsFunc: func(ctx context.Context, bucketName string) (bool, error) {
					return tt.exists, tt.err
				},
			}
			client, err := newClient(context.Background(), mock, "hls", 0)

			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("newClient() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("newClient() unexpected error = %v", err)
			}
			if client.concurrency != defaultUploadConcurrency {
				t.Errorf("concurrency = %d, want %d", client.concurrency, defaultUploadConcurrency)
			}
		})
	}

	t.Run("missing bucket is a sentinel", func(t *testing.T) {
		mock := &mockMinioClient{
			bucketExistsFunc: func(ctx context.Context, bucketName string) (bool, error) { return false, nil },
		}
		_, err := newClient(context.Background(), mock, "hls", 2)
		if !errors.Is(err, repository.ErrBucketNotFound) {
			t.Errorf("newClient() error = %v, want ErrBucketNotFound", err)
		}
	})
}

func TestContentTypeFor(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"master.m3u8", "application/vnd.apple.mpegurl"},
		{"720p_0001.ts", "video/mp2t"},
		{"subtitle_eng_0000.vtt", "text/vtt"},
		{"thumbnails.JPG", "image/jpeg"},
		{"thumbnails.webp", "image/webp"},
		{"notes.txt", "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContentTypeFor(tt.name); got != tt.want {
				t.Errorf("ContentTypeFor(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestClient_Download(t *testing.T) {
	t.Run("returns object contents", func(t *testing.T) {
		mock := &mockMinioClient{
			getObjectFunc: func(ctx context.Context, objectName string) (objectReader, error) {
				if objectName != "sources/in.mp4" {
					t.Errorf("GetObject key = %q", objectName)
				}
				return &mockObjectReader{data: []byte("video content")}, nil
			},
		}
		client := &Client{client: mock, bucket: "hls"}

		reader, err := client.Download(context.Background(), "sources/in.mp4")
		if err != nil {
			t.Fatalf("Download() unexpected error = %v", err)
		}
		defer reader.Close()

		content, err := io.ReadAll(reader)
		if err != nil {
			t.Fatal(err)
		}
		if string(content) != "video content" {
			t.Errorf("Download() content = %q", content)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		obj := &mockObjectReader{
			statFunc: func() (minio.ObjectInfo, error) {
				return minio.ObjectInfo{}, minio.ErrorResponse{Code: "NoSuchKey"}
			},
		}
		mock := &mockMinioClient{
			getObjectFunc: func(ctx context.Context, objectName string) (objectReader, error) { return obj, nil },
		}
		client := &Client{client: mock, bucket: "hls"}

		_, err := client.Download(context.Background(), "sources/missing.mp4")
		if !errors.Is(err, repository.ErrObjectNotFound) {
			t.Errorf("Download() error = %v, want ErrObjectNotFound", err)
		}
		if !obj.closed {
			t.Error("object must be closed when stat fails")
		}
	})

	t.Run("stat failure", func(t *testing.T) {
		mock := &mockMinioClient{
			getObjectFunc: func(ctx context.Context, objectName string) (objectReader, error) {
				return &mockObjectReader{
					statFunc: func() (minio.ObjectInfo, error) { return minio.ObjectInfo{}, errors.New("stat failed") },
				}, nil
			},
		}
		client := &Client{client: mock, bucket: "hls"}

		_, err := client.Download(context.Background(), "sources/in.mp4")
		if err == nil || !strings.Contains(err.Error(), "failed to stat object") {
			t.Errorf("Download() error = %v", err)
		}
	})

	t.Run("get failure", func(t *testing.T) {
		mock := &mockMinioClient{
			getObjectFunc: func(ctx context.Context, objectName string) (objectReader, error) {
				return nil, errors.New("connection refused")
			},
		}
		client := &Client{client: mock, bucket: "hls"}

		_, err := client.Download(context.Background(), "sources/in.mp4")
		if err == nil || !strings.Contains(err.Error(), "failed to get object") {
			t.Errorf("Download() error = %v", err)
		}
	})
}

func TestClient_UploadDir(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"master.m3u8":              "#EXTM3U\n",
		"720p/playlist.m3u8":       "#EXTM3U\n",
		"720p/segment_0000.ts":     "segment",
		"subtitles/en_0000.vtt":    "WEBVTT\n",
		"subtitles/en.m3u8":        "#EXTM3U\n",
		"thumbnails/sprite_00.jpg": "jpeg",
	})

	var (
		mu    sync.Mutex
		order []string
		opts  = make(map[string]minio.PutObjectOptions)
	)
	mock := &mockMinioClient{
		fPutObjectFunc: func(ctx context.Context, objectName, filePath string, o minio.PutObjectOptions) error {
			if _, err := os.Stat(filePath); err != nil {
				t.Errorf("FPutObject(%s) local file: %v", objectName, err)
			}
			mu.Lock()
			order = append(order, objectName)
			opts[objectName] = o
			mu.Unlock()
			return nil
		},
	}

	client := &Client{client: mock, bucket: "hls", concurrency: 2}
	n, err := client.UploadDir(context.Background(), "hls/job-123", dir)
	if err != nil {
		t.Fatalf("UploadDir() unexpected error = %v", err)
	}
	if n != 6 {
		t.Errorf("UploadDir() uploaded %d objects, want 6", n)
	}

	if order[len(order)-1] != "hls/job-123/master.m3u8" {
		t.Errorf("master playlist uploaded at %v, want last", order)
	}
	firstPlaylist := len(order)
	for i, key := range order {
		if strings.HasSuffix(key, ".m3u8") && i < firstPlaylist {
			firstPlaylist = i
		}
	}
	for _, key := range order[firstPlaylist:] {
		if !strings.HasSuffix(key, ".m3u8") {
			t.Errorf("media object %s uploaded after a playlist: %v", key, order)
		}
	}

	seg := opts["hls/job-123/720p/segment_0000.ts"]
	if seg.ContentType != "video/mp2t" || !strings.Contains(seg.CacheControl, "immutable") {
		t.Errorf("segment options = %+v", seg)
	}
	master := opts["hls/job-123/master.m3u8"]
	if master.ContentType != "application/vnd.apple.mpegurl" || master.CacheControl != "no-cache" {
		t.Errorf("master options = %+v", master)
	}
}

func TestClient_UploadDir_StopsOnError(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"a.ts":        "x",
		"master.m3u8": "#EXTM3U\n",
	})

	var uploadedMaster bool
	mock := &mockMinioClient{
		fPutObjectFunc: func(ctx context.Context, objectName, filePath string, o minio.PutObjectOptions) error {
			if strings.HasSuffix(objectName, "master.m3u8") {
				uploadedMaster = true
			}
			return errors.New("quota exceeded")
		},
	}

	client := &Client{client: mock, bucket: "hls", concurrency: 1}
	n, err := client.UploadDir(context.Background(), "hls/job", dir)
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("UploadDir() error = %v, want quota error", err)
	}
	if n != 0 {
		t.Errorf("UploadDir() uploaded %d objects, want 0", n)
	}
	if uploadedMaster {
		t.Error("master playlist must not be attempted after a media failure")
	}
}

func TestClient_DeletePrefix(t *testing.T) {
	t.Run("removes all listed objects", func(t *testing.T) {
		var (
			mu      sync.Mutex
			removed []string
		)
		mock := &mockMinioClient{
			listObjectsFunc: func(ctx context.Context, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
				if opts.Prefix != "hls/job-123" || !opts.Recursive {
					t.Errorf("ListObjects opts = %+v", opts)
				}
				return listOf(
					minio.ObjectInfo{Key: "hls/job-123/master.m3u8"},
					minio.ObjectInfo{Key: "hls/job-123/720p/segment_0000.ts"},
				)(ctx, opts)
			},
			removeFunc: func(objectName string) error {
				mu.Lock()
				removed = append(removed, objectName)
				mu.Unlock()
				return nil
			},
		}

		client := &Client{client: mock, bucket: "hls"}
		n, err := client.DeletePrefix(context.Background(), "hls/job-123")
		if err != nil {
			t.Fatalf("DeletePrefix() unexpected error = %v", err)
		}
		if n != 2 {
			t.Errorf("DeletePrefix() = %d, want 2", n)
		}
		sort.Strings(removed)
		if strings.Join(removed, ",") != "hls/job-123/720p/segment_0000.ts,hls/job-123/master.m3u8" {
			t.Errorf("removed = %v", removed)
		}
	})

	t.Run("partial remove failure", func(t *testing.T) {
		mock := &mockMinioClient{
			listObjectsFunc: listOf(
				minio.ObjectInfo{Key: "hls/job-123/a.ts"},
				minio.ObjectInfo{Key: "hls/job-123/b.ts"},
			),
			removeFunc: func(objectName string) error {
				if strings.HasSuffix(objectName, "b.ts") {
					return errors.New("access denied")
				}
				return nil
			},
		}

		client := &Client{client: mock, bucket: "hls"}
		n, err := client.DeletePrefix(context.Background(), "hls/job-123")
		if err == nil || !strings.Contains(err.Error(), "hls/job-123/b.ts") {
			t.Errorf("DeletePrefix() error = %v, want failure naming b.ts", err)
		}
		if n != 1 {
			t.Errorf("DeletePrefix() = %d, want 1", n)
		}
	})

	t.Run("list error", func(t *testing.T) {
		mock := &mockMinioClient{
			listObjectsFunc: listOf(minio.ObjectInfo{Err: errors.New("access denied")}),
		}

		client := &Client{client: mock, bucket: "hls"}
		_, err := client.DeletePrefix(context.Background(), "hls/job-123")
		if err == nil || !strings.Contains(err.Error(), "access denied") {
			t.Errorf("DeletePrefix() error = %v, want list error", err)
		}
	})
}
