package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync"
	"testing"

	"catalog-ingest-go/internal/csvmap"
	"catalog-ingest-go/internal/model"
	"catalog-ingest-go/internal/progress"
	"catalog-ingest-go/internal/repository"
	"catalog-ingest-go/pkg/log"
	"catalog-ingest-go/pkg/storage"

	"gorm.io/gorm"
)

func TestMain(m *testing.M) {
	log.Init("error", "console", "")
	os.Exit(m.Run())
}

// 测试用的标准表头及其列映射。
var testHeader = []string{
	"UNIQUE_KEY", "PRODUCT_TITLE", "PRODUCT_DESCRIPTION", "PIECE_PRICE",
	"SIZE", "STYLE", "COLOR_NAME", "MAINFRAME_COLOR",
}

var testMapping, _ = csvmap.BuildMapping(testHeader, 2)

// row 按 testHeader 的列序构造一条清洗后的数据行。
func row(cells ...string) csvmap.NormalizedRow {
	return csvmap.Normalize(cells, testMapping)
}

// sliceSource 从内存切片产出行，取完后返回 io.EOF 或注入的错误。
type sliceSource struct {
	rows []csvmap.NormalizedRow
	err  error
	pos  int
}

func (s *sliceSource) Next() (csvmap.NormalizedRow, error) {
	if s.pos >= len(s.rows) {
		if s.err != nil {
			return csvmap.NormalizedRow{}, s.err
		}
		return csvmap.NormalizedRow{}, io.EOF
	}
	r := s.rows[s.pos]
	s.pos++
	return r, nil
}

// fakeProducts 是 ProductRepository 的内存实现，带事务暂存语义：
// 事务内的写入先进入 pending，提交时才落入 store，回滚时整体丢弃。
type fakeProducts struct {
	mu       sync.Mutex
	store    map[uint64]model.Product
	saveErrs map[uint64]error
	failTxns int   // 前 N 个事务在提交时整体失败
	txRows   []int // 每个事务包含的写入行数，按发生顺序
}

func newFakeProducts() *fakeProducts {
	return &fakeProducts{
		store:    make(map[uint64]model.Product),
		saveErrs: make(map[uint64]error),
	}
}

func (f *fakeProducts) WithTransaction(fn func(tx repository.ProductRepository) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx := &fakeProductsTx{parent: f}
	err := fn(tx)
	f.txRows = append(f.txRows, len(tx.pending))
	if err != nil {
		return err
	}
	if f.failTxns > 0 {
		f.failTxns--
		return errors.New("deadlock detected while committing")
	}
	for _, p := range tx.pending {
		f.store[p.UniqueKey] = p
	}
	return nil
}

func (f *fakeProducts) FindOrCreateByKey(key uint64) (*model.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.store[key]; ok {
		cp := p
		return &cp, nil
	}
	return &model.Product{UniqueKey: key}, nil
}

func (f *fakeProducts) Save(p *model.Product) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store[p.UniqueKey] = *p
	return nil
}

// fakeProductsTx 是事务内视图：读穿透到已提交数据，写进入 pending。
type fakeProductsTx struct {
	parent  *fakeProducts
	pending []model.Product
}

func (t *fakeProductsTx) WithTransaction(fn func(tx repository.ProductRepository) error) error {
	return fn(t)
}

func (t *fakeProductsTx) FindOrCreateByKey(key uint64) (*model.Product, error) {
	for i := len(t.pending) - 1; i >= 0; i-- {
		if t.pending[i].UniqueKey == key {
			cp := t.pending[i]
			return &cp, nil
		}
	}
	if p, ok := t.parent.store[key]; ok {
		cp := p
		return &cp, nil
	}
	return &model.Product{UniqueKey: key}, nil
}

func (t *fakeProductsTx) Save(p *model.Product) error {
	if err := t.parent.saveErrs[p.UniqueKey]; err != nil {
		return err
	}
	t.pending = append(t.pending, *p)
	return nil
}

// quarantined 记录一次隔离调用的全部入参。
type quarantined struct {
	filename string
	reason   string
	row      map[string]string
}

type fakeQuarantine struct {
	mu      sync.Mutex
	entries []quarantined
	err     error
}

func (f *fakeQuarantine) Append(filename, reason string, row map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, quarantined{filename: filename, reason: reason, row: row})
	return nil
}

type fakeSyslog struct {
	mu      sync.Mutex
	entries []map[string]interface{}
}

func (f *fakeSyslog) Append(level, category, message string, context map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, context)
	return nil
}

// fakeFiles 是 FileRepository 的内存实现，并记录每个文件的状态变迁序列。
type fakeFiles struct {
	mu       sync.Mutex
	files    map[uint]model.File
	nextID   uint
	statuses map[uint][]string
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{
		files:    make(map[uint]model.File),
		statuses: make(map[uint][]string),
	}
}

func (f *fakeFiles) Create(file *model.File) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	file.ID = f.nextID
	f.files[file.ID] = *file
	return nil
}

func (f *fakeFiles) FindByID(id uint) (*model.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := file
	return &cp, nil
}

func (f *fakeFiles) UpdateStatus(id uint, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	file.Status = status
	f.files[id] = file
	f.statuses[id] = append(f.statuses[id], status)
	return nil
}

func (f *fakeFiles) List() ([]model.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.File, 0, len(f.files))
	for _, file := range f.files {
		out = append(out, file)
	}
	return out, nil
}

// fakeStore 是 ObjectStore 的内存实现。
type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (f *fakeStore) Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[objectName] = data
	return nil
}

func (f *fakeStore) FPut(ctx context.Context, objectName, filePath, contentType string) (int64, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[objectName] = data
	return int64(len(data)), nil
}

func (f *fakeStore) Get(ctx context.Context, objectName string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[objectName]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeStore) Stat(ctx context.Context, objectName string) (storage.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[objectName]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: objectName, Size: int64(len(data))}, nil
}

func (f *fakeStore) Compose(ctx context.Context, destObjectName string, srcObjectNames []string) (storage.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var buf bytes.Buffer
	for _, src := range srcObjectNames {
		data, ok := f.objects[src]
		if !ok {
			return storage.ObjectInfo{}, storage.ErrObjectNotFound
		}
		buf.Write(data)
	}
	f.objects[destObjectName] = buf.Bytes()
	return storage.ObjectInfo{Key: destObjectName, Size: int64(buf.Len())}, nil
}

func (f *fakeStore) Copy(ctx context.Context, destObjectName, srcObjectName string) (storage.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[srcObjectName]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.objects[destObjectName] = cp
	return storage.ObjectInfo{Key: destObjectName, Size: int64(len(cp))}, nil
}

func (f *fakeStore) Remove(ctx context.Context, objectNames ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, name := range objectNames {
		delete(f.objects, name)
	}
	return nil
}

// fakePublisher 把发布的进度事件解码后按序收集。
type fakePublisher struct {
	mu       sync.Mutex
	channels []string
	events   []progress.Event
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	var ev progress.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, channel)
	f.events = append(f.events, ev)
	return nil
}
