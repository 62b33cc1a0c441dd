package usecase

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hszk-dev/hlsforge/internal/domain/model"
	"github.com/hszk-dev/hlsforge/internal/domain/repository"
	"github.com/hszk-dev/hlsforge/internal/infrastructure/cache"
	"github.com/hszk-dev/hlsforge/internal/pipeline"
)

// mockJobRepository provides a configurable mock for ConversionJobRepository.
type mockJobRepository struct {
	createFn                func(ctx context.Context, job *model.ConversionJob) error
	getByIDFn               func(ctx context.Context, id uuid.UUID) (*model.ConversionJob, error)
	listRecentFn            func(ctx context.Context, limit int) ([]*model.ConversionJob, error)
	findActiveByOutputDirFn func(ctx context.Context, outputDir string) (*model.ConversionJob, error)
	updateFn                func(ctx context.Context, job *model.ConversionJob) error

	mu      sync.Mutex
	updates []model.Status
}

func (m *mockJobRepository) Create(ctx context.Context, job *model.ConversionJob) error {
	if m.createFn != nil {
		return m.createFn(ctx, job)
	}
	return nil
}

func (m *mockJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ConversionJob, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, repository.ErrJobNotFound
}

func (m *mockJobRepository) ListRecent(ctx context.Context, limit int) ([]*model.ConversionJob, error) {
	if m.listRecentFn != nil {
		return m.listRecentFn(ctx, limit)
	}
	return nil, nil
}

func (m *mockJobRepository) FindActiveByOutputDir(ctx context.Context, outputDir string) (*model.ConversionJob, error) {
	if m.findActiveByOutputDirFn != nil {
		return m.findActiveByOutputDirFn(ctx, outputDir)
	}
	return nil, repository.ErrJobNotFound
}

func (m *mockJobRepository) Update(ctx context.Context, job *model.ConversionJob) error {
	m.mu.Lock()
	m.updates = append(m.updates, job.Status)
	m.mu.Unlock()
	if m.updateFn != nil {
		return m.updateFn(ctx, job)
	}
	return nil
}

func (m *mockJobRepository) statuses() []model.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Status(nil), m.updates...)
}

// mockObjectStorage provides a configurable mock for ObjectStorage.
type mockObjectStorage struct {
	uploadDirFn    func(ctx context.Context, prefix, dir string) (int, error)
	downloadFn     func(ctx context.Context, key string) (io.ReadCloser, error)
	deletePrefixFn func(ctx context.Context, prefix string) (int, error)
}

func (m *mockObjectStorage) UploadDir(ctx context.Context, prefix, dir string) (int, error) {
	if m.uploadDirFn != nil {
		return m.uploadDirFn(ctx, prefix, dir)
	}
	return 0, nil
}

func (m *mockObjectStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	if m.downloadFn != nil {
		return m.downloadFn(ctx, key)
	}
	return nil, repository.ErrObjectNotFound
}

func (m *mockObjectStorage) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if m.deletePrefixFn != nil {
		return m.deletePrefixFn(ctx, prefix)
	}
	return 0, nil
}

// mockMessageQueue provides a configurable mock for MessageQueue.
type mockMessageQueue struct {
	publishTaskFn  func(ctx context.Context, task repository.ConversionTask) error
	consumeTasksFn func(ctx context.Context, handler func(ctx context.Context, task repository.ConversionTask) error) error

	published []repository.ConversionTask
}

func (m *mockMessageQueue) PublishTask(ctx context.Context, task repository.ConversionTask) error {
	m.published = append(m.published, task)
	if m.publishTaskFn != nil {
		return m.publishTaskFn(ctx, task)
	}
	return nil
}

func (m *mockMessageQueue) ConsumeTasks(ctx context.Context, handler func(ctx context.Context, task repository.ConversionTask) error) error {
	if m.consumeTasksFn != nil {
		return m.consumeTasksFn(ctx, handler)
	}
	return nil
}

func (m *mockMessageQueue) Close() error {
	return nil
}

// mockProgressCache is an in-memory ProgressCache.
type mockProgressCache struct {
	mu       sync.Mutex
	data     map[uuid.UUID]*cache.ProgressSnapshot
	getFn    func(ctx context.Context, jobID uuid.UUID) (*cache.ProgressSnapshot, error)
	setFn    func(ctx context.Context, snapshot *cache.ProgressSnapshot, ttl time.Duration) error
	getCalls int
	setCalls int
}

func newMockProgressCache() *mockProgressCache {
	return &mockProgressCache{data: make(map[uuid.UUID]*cache.ProgressSnapshot)}
}

func (m *mockProgressCache) Get(ctx context.Context, jobID uuid.UUID) (*cache.ProgressSnapshot, error) {
	m.mu.Lock()
	m.getCalls++
	m.mu.Unlock()
	if m.getFn != nil {
		return m.getFn(ctx, jobID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.data[jobID]
	if !ok {
		return nil, nil
	}
	cp := *snap
	return &cp, nil
}

func (m *mockProgressCache) Set(ctx context.Context, snapshot *cache.ProgressSnapshot, ttl time.Duration) error {
	m.mu.Lock()
	m.setCalls++
	m.mu.Unlock()
	if m.setFn != nil {
		return m.setFn(ctx, snapshot, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *snapshot
	m.data[snapshot.JobID] = &cp
	return nil
}

func (m *mockProgressCache) Delete(ctx context.Context, jobID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, jobID)
	return nil
}

func (m *mockProgressCache) snapshot(jobID uuid.UUID) *cache.ProgressSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[jobID]
}

// mockEventBus records published messages and hands out cancel channels.
type mockEventBus struct {
	mu        sync.Mutex
	messages  []cache.Message
	cancelled []uuid.UUID
	cancelCh  chan uuid.UUID
	publishFn func(ctx context.Context, msg cache.Message) error
}

func (m *mockEventBus) Publish(ctx context.Context, msg cache.Message) error {
	m.mu.Lock()
	m.messages = append(m.messages, msg)
	m.mu.Unlock()
	if m.publishFn != nil {
		return m.publishFn(ctx, msg)
	}
	return nil
}

func (m *mockEventBus) Subscribe(ctx context.Context, jobID uuid.UUID) (<-chan cache.Message, func() error, error) {
	ch := make(chan cache.Message)
	close(ch)
	return ch, func() error { return nil }, nil
}

func (m *mockEventBus) PublishCancel(ctx context.Context, jobID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, jobID)
	return nil
}

func (m *mockEventBus) SubscribeCancel(ctx context.Context) (<-chan uuid.UUID, func() error, error) {
	out := make(chan uuid.UUID)
	go func() {
		defer close(out)
		for {
			select {
			case id := <-m.cancelCh:
				select {
				case out <- id:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, func() error { return nil }, nil
}

func (m *mockEventBus) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.messages))
	for _, msg := range m.messages {
		out = append(out, msg.Type)
	}
	return out
}

// mockRunner replays a fixed event script, or delegates to runFn.
type mockRunner struct {
	events []pipeline.Event
	runFn  func(ctx context.Context, req pipeline.Request) <-chan pipeline.Event

	mu       sync.Mutex
	requests []pipeline.Request
}

func (m *mockRunner) Run(ctx context.Context, req pipeline.Request) <-chan pipeline.Event {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.runFn != nil {
		return m.runFn(ctx, req)
	}
	ch := make(chan pipeline.Event, len(m.events))
	for _, ev := range m.events {
		ch <- ev
	}
	close(ch)
	return ch
}
