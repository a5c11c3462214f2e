package service

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"testing"

	"catalog-ingest-go/internal/config"
	"catalog-ingest-go/internal/model"
	"catalog-ingest-go/pkg/log"
	"catalog-ingest-go/pkg/storage"
	"catalog-ingest-go/pkg/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestMain(m *testing.M) {
	log.Init("error", "console", "")
	os.Exit(m.Run())
}

// memSessions 是 SessionRepository 的内存实现：会话表加每会话的分片位集合。
type memSessions struct {
	mu       sync.Mutex
	sessions map[string]model.UploadSession
	chunks   map[string]map[int]struct{}
}

func newMemSessions() *memSessions {
	return &memSessions{
		sessions: make(map[string]model.UploadSession),
		chunks:   make(map[string]map[int]struct{}),
	}
}

func (m *memSessions) Create(session *model.UploadSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.SessionID] = *session
	return nil
}

func (m *memSessions) Get(sessionID string) (*model.UploadSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := s
	return &cp, nil
}

func (m *memSessions) Delete(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func (m *memSessions) MarkChunkUploaded(ctx context.Context, sessionID string, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.chunks[sessionID] == nil {
		m.chunks[sessionID] = make(map[int]struct{})
	}
	m.chunks[sessionID][index] = struct{}{}
	return nil
}

func (m *memSessions) IsChunkUploaded(ctx context.Context, sessionID string, index int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.chunks[sessionID][index]
	return ok, nil
}

func (m *memSessions) UploadedChunks(ctx context.Context, sessionID string, totalChunks int) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	uploaded := make([]int, 0)
	for i := 0; i < totalChunks; i++ {
		if _, ok := m.chunks[sessionID][i]; ok {
			uploaded = append(uploaded, i)
		}
	}
	return uploaded, nil
}

func (m *memSessions) ClearChunkMarks(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chunks, sessionID)
	return nil
}

// memFiles 是 FileRepository 的内存实现。
type memFiles struct {
	mu     sync.Mutex
	files  map[uint]model.File
	nextID uint
}

func newMemFiles() *memFiles {
	return &memFiles{files: make(map[uint]model.File)}
}

func (m *memFiles) Create(file *model.File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	file.ID = m.nextID
	m.files[file.ID] = *file
	return nil
}

func (m *memFiles) FindByID(id uint) (*model.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := f
	return &cp, nil
}

func (m *memFiles) UpdateStatus(id uint, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	f.Status = status
	m.files[id] = f
	return nil
}

func (m *memFiles) List() ([]model.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.File, 0, len(m.files))
	for _, f := range m.files {
		out = append(out, f)
	}
	return out, nil
}

// memStore 是 ObjectStore 的内存实现。
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (m *memStore) Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectName] = data
	return nil
}

func (m *memStore) FPut(ctx context.Context, objectName, filePath, contentType string) (int64, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectName] = data
	return int64(len(data)), nil
}

func (m *memStore) Get(ctx context.Context, objectName string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[objectName]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStore) Stat(ctx context.Context, objectName string) (storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[objectName]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: objectName, Size: int64(len(data))}, nil
}

func (m *memStore) Compose(ctx context.Context, destObjectName string, srcObjectNames []string) (storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var buf bytes.Buffer
	for _, src := range srcObjectNames {
		data, ok := m.objects[src]
		if !ok {
			return storage.ObjectInfo{}, storage.ErrObjectNotFound
		}
		buf.Write(data)
	}
	m.objects[destObjectName] = buf.Bytes()
	return storage.ObjectInfo{Key: destObjectName, Size: int64(buf.Len())}, nil
}

func (m *memStore) Copy(ctx context.Context, destObjectName, srcObjectName string) (storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[srcObjectName]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.objects[destObjectName] = cp
	return storage.ObjectInfo{Key: destObjectName, Size: int64(len(cp))}, nil
}

func (m *memStore) Remove(ctx context.Context, objectNames ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range objectNames {
		delete(m.objects, name)
	}
	return nil
}

func (m *memStore) object(name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[name]
	return data, ok
}

// memDispatcher 收集入队的导入任务。
type memDispatcher struct {
	mu    sync.Mutex
	tasks []tasks.CsvIngestTask
	err   error
}

func (m *memDispatcher) Enqueue(task tasks.CsvIngestTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.tasks = append(m.tasks, task)
	return nil
}

type uploadDeps struct {
	svc        UploadService
	sessions   *memSessions
	files      *memFiles
	store      *memStore
	dispatcher *memDispatcher
}

func newUploadDeps() *uploadDeps {
	d := &uploadDeps{
		sessions:   newMemSessions(),
		files:      newMemFiles(),
		store:      newMemStore(),
		dispatcher: &memDispatcher{},
	}
	d.svc = NewUploadService(d.sessions, d.files, d.store, d.dispatcher,
		config.UploadConfig{MaxDirectMB: 20, MaxFileMB: 200})
	return d
}

func TestBeginChunkedUploadValidation(t *testing.T) {
	d := newUploadDeps()
	ctx := context.Background()

	_, err := d.svc.BeginChunkedUpload(ctx, "", 100, "text/csv", 3)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = d.svc.BeginChunkedUpload(ctx, "data.csv", 100, "text/csv", 0)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = d.svc.BeginChunkedUpload(ctx, "data.csv", 0, "text/csv", 3)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = d.svc.BeginChunkedUpload(ctx, "data.csv", 201*1024*1024, "text/csv", 3)
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

func TestChunkedUploadAssemblesByIndexOrder(t *testing.T) {
	d := newUploadDeps()
	ctx := context.Background()

	sessionID, err := d.svc.BeginChunkedUpload(ctx, "data.csv", 15, "text/csv", 3)
	require.NoError(t, err)

	// 分片乱序到达，合并结果仍按下标顺序拼接
	for _, part := range []struct {
		index   int
		content string
	}{
		{2, "part2"},
		{0, "part0"},
		{1, "part1"},
	} {
		uploaded, total, err := d.svc.ReceiveChunk(ctx, sessionID, part.index,
			strings.NewReader(part.content), int64(len(part.content)))
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		assert.Contains(t, uploaded, part.index)
	}

	file, err := d.svc.CompleteUpload(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, "uploads/data.csv", file.Path)
	assert.Equal(t, model.FileStatusQueued, file.Status)

	data, ok := d.store.object("uploads/data.csv")
	require.True(t, ok)
	assert.Equal(t, "part0part1part2", string(data))

	// CSV 合并后进入导入队列
	require.Len(t, d.dispatcher.tasks, 1)
	assert.Equal(t, file.ID, d.dispatcher.tasks[0].FileID)
	assert.Equal(t, "uploads/data.csv", d.dispatcher.tasks[0].ObjectName)

	// 暂存分片、位图与会话都被清理
	_, ok = d.store.object("chunks/" + sessionID + "/0")
	assert.False(t, ok)
	_, _, _, err = d.svc.UploadStatus(ctx, sessionID)
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestReceiveChunkRejectsBadRequests(t *testing.T) {
	d := newUploadDeps()
	ctx := context.Background()

	_, _, err := d.svc.ReceiveChunk(ctx, "no-such-session", 0, strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, ErrUnknownSession)

	sessionID, err := d.svc.BeginChunkedUpload(ctx, "data.csv", 10, "text/csv", 2)
	require.NoError(t, err)

	_, _, err = d.svc.ReceiveChunk(ctx, sessionID, -1, strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, ErrInvalidIndex)
	_, _, err = d.svc.ReceiveChunk(ctx, sessionID, 2, strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, ErrInvalidIndex)
}

func TestReceiveChunkLastWriteWins(t *testing.T) {
	d := newUploadDeps()
	ctx := context.Background()

	sessionID, err := d.svc.BeginChunkedUpload(ctx, "data.csv", 10, "text/csv", 1)
	require.NoError(t, err)

	_, _, err = d.svc.ReceiveChunk(ctx, sessionID, 0, strings.NewReader("first"), 5)
	require.NoError(t, err)
	_, _, err = d.svc.ReceiveChunk(ctx, sessionID, 0, strings.NewReader("second"), 6)
	require.NoError(t, err)

	file, err := d.svc.CompleteUpload(ctx, sessionID)
	require.NoError(t, err)

	data, ok := d.store.object(file.Path)
	require.True(t, ok)
	assert.Equal(t, "second", string(data))
}

func TestCompleteUploadReportsFirstMissingChunk(t *testing.T) {
	d := newUploadDeps()
	ctx := context.Background()

	sessionID, err := d.svc.BeginChunkedUpload(ctx, "data.csv", 15, "text/csv", 3)
	require.NoError(t, err)

	_, _, err = d.svc.ReceiveChunk(ctx, sessionID, 0, strings.NewReader("part0"), 5)
	require.NoError(t, err)
	_, _, err = d.svc.ReceiveChunk(ctx, sessionID, 2, strings.NewReader("part2"), 5)
	require.NoError(t, err)

	_, err = d.svc.CompleteUpload(ctx, sessionID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIncompleteUpload)
	var missing *MissingChunkError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, 1, missing.Index)

	// 拒绝合并后会话保持原样，补传缺失分片即可继续
	_, _, err = d.svc.ReceiveChunk(ctx, sessionID, 1, strings.NewReader("part1"), 5)
	require.NoError(t, err)
	file, err := d.svc.CompleteUpload(ctx, sessionID)
	require.NoError(t, err)
	data, _ := d.store.object(file.Path)
	assert.Equal(t, "part0part1part2", string(data))
}

func TestCompleteUploadNameCollisionGetsSuffix(t *testing.T) {
	d := newUploadDeps()
	ctx := context.Background()

	original := "keep me"
	require.NoError(t, d.store.Put(ctx, "uploads/data.csv", strings.NewReader(original), int64(len(original)), "text/csv"))

	sessionID, err := d.svc.BeginChunkedUpload(ctx, "data.csv", 5, "text/csv", 1)
	require.NoError(t, err)
	_, _, err = d.svc.ReceiveChunk(ctx, sessionID, 0, strings.NewReader("fresh"), 5)
	require.NoError(t, err)

	file, err := d.svc.CompleteUpload(ctx, sessionID)
	require.NoError(t, err)

	assert.NotEqual(t, "uploads/data.csv", file.Path)
	assert.Contains(t, file.Path, sessionID)
	assert.True(t, strings.HasSuffix(file.Path, ".csv"))

	data, _ := d.store.object("uploads/data.csv")
	assert.Equal(t, original, string(data))
	merged, _ := d.store.object(file.Path)
	assert.Equal(t, "fresh", string(merged))
}

func TestDirectUpload(t *testing.T) {
	d := newUploadDeps()
	ctx := context.Background()

	content := "UNIQUE_KEY,PRODUCT_TITLE\n1,Tee\n"
	file, err := d.svc.DirectUpload(ctx, "small.csv", "text/csv", strings.NewReader(content), int64(len(content)))
	require.NoError(t, err)

	assert.Equal(t, "uploads/small.csv", file.Path)
	assert.Equal(t, model.FileStatusQueued, file.Status)
	data, ok := d.store.object("uploads/small.csv")
	require.True(t, ok)
	assert.Equal(t, content, string(data))
	require.Len(t, d.dispatcher.tasks, 1)
	assert.Equal(t, file.ID, d.dispatcher.tasks[0].FileID)
}

func TestDirectUploadRejectsOversize(t *testing.T) {
	d := newUploadDeps()

	_, err := d.svc.DirectUpload(context.Background(), "big.csv", "text/csv",
		strings.NewReader("x"), 21*1024*1024)
	assert.ErrorIs(t, err, ErrFileTooLarge)
	assert.Empty(t, d.dispatcher.tasks)
}

func TestUploadNonCSVIsStoredWithoutIngestion(t *testing.T) {
	d := newUploadDeps()
	ctx := context.Background()

	content := "plain text"
	file, err := d.svc.DirectUpload(ctx, "readme.txt", "text/plain", strings.NewReader(content), int64(len(content)))
	require.NoError(t, err)

	assert.Equal(t, model.FileStatusCompleted, file.Status)
	assert.Empty(t, d.dispatcher.tasks)
}

func TestUploadStatus(t *testing.T) {
	d := newUploadDeps()
	ctx := context.Background()

	sessionID, err := d.svc.BeginChunkedUpload(ctx, "data.csv", 10, "text/csv", 4)
	require.NoError(t, err)
	_, _, err = d.svc.ReceiveChunk(ctx, sessionID, 1, strings.NewReader("p1"), 2)
	require.NoError(t, err)
	_, _, err = d.svc.ReceiveChunk(ctx, sessionID, 3, strings.NewReader("p3"), 2)
	require.NoError(t, err)

	session, uploaded, missing, err := d.svc.UploadStatus(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, "data.csv", session.FileName)
	assert.Equal(t, 4, session.TotalChunks)
	assert.Equal(t, []int{1, 3}, uploaded)
	assert.Equal(t, []int{0, 2}, missing)
}
