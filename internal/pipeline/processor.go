package pipeline

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"catalog-ingest-go/internal/config"
	"catalog-ingest-go/internal/csvmap"
	"catalog-ingest-go/internal/model"
	"catalog-ingest-go/internal/progress"
	"catalog-ingest-go/internal/repository"
	"catalog-ingest-go/pkg/log"
	"catalog-ingest-go/pkg/storage"
	"catalog-ingest-go/pkg/tasks"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 流水线运行阶段，仅用于日志与进度展示。
const (
	phaseHeaderParsing = "HeaderParsing"
	phaseStreaming     = "Streaming"
	phaseFinalizing    = "Finalizing"
)

// Processor 驱动单个文件的完整导入流程：
// 打开已合并的对象 → 解析表头 → 流式清洗数据行 → 分批入库 → 上报进度。
// 一个文件始终由一个消费者任务顺序处理，不做行级并行。
type Processor struct {
	store    storage.ObjectStore
	files    repository.FileRepository
	engine   *Engine
	reporter *progress.Reporter
	cfg      config.IngestConfig
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	store storage.ObjectStore,
	files repository.FileRepository,
	engine *Engine,
	reporter *progress.Reporter,
	cfg config.IngestConfig,
) *Processor {
	return &Processor{
		store:    store,
		files:    files,
		engine:   engine,
		reporter: reporter,
		cfg:      cfg,
	}
}

// Process 是 Kafka 消费者的入口：处理一个已入队的导入任务。
// 对已完成文件的重复投递是空操作（任务重试安全）；返回非 nil 错误
// 仅代表导入级失败，供消费者做重试计数。
func (p *Processor) Process(ctx context.Context, task tasks.CsvIngestTask) error {
	log.Infof("[Processor] 开始处理导入任务, FileID: %d, FileName: %s", task.FileID, task.FileName)

	file, err := p.files.FindByID(task.FileID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[Processor] 文件记录 %d 不存在，跳过该任务", task.FileID)
			return nil
		}
		return fmt.Errorf("查询文件记录失败: %w", err)
	}

	// 任务重试幂等：已经完成的文件不再重跑
	if file.Status == model.FileStatusCompleted {
		log.Infof("[Processor] 文件 %d 已完成，跳过重复任务", file.ID)
		return nil
	}

	// 整个运行被一个宽松的超时上限约束；超时按导入级失败处理，
	// 之前已提交的批次保持不变
	runCtx, cancel := context.WithTimeout(ctx, p.cfg.RunTimeout())
	defer cancel()

	_, err = p.run(runCtx, file)
	return err
}

// IngestDirect 是非分片的小文件入口：把本地文件写入对象存储并同步执行导入。
func (p *Processor) IngestDirect(ctx context.Context, filePath string) (Summary, error) {
	name := filepath.Base(filePath)
	objectName, err := p.uploadObjectName(ctx, name)
	if err != nil {
		return Summary{}, err
	}

	size, err := p.store.FPut(ctx, objectName, filePath, mimeForName(name))
	if err != nil {
		return Summary{}, fmt.Errorf("上传文件到对象存储失败: %w", err)
	}

	file := &model.File{
		Name:      filepath.Base(objectName),
		Path:      objectName,
		Type:      mimeForName(name),
		Size:      size,
		Extension: strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), "."),
		Status:    model.FileStatusQueued,
	}
	if err := p.files.Create(file); err != nil {
		return Summary{}, fmt.Errorf("创建文件记录失败: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, p.cfg.RunTimeout())
	defer cancel()
	return p.run(runCtx, file)
}

// run 执行一次完整的导入。文件状态恰好写入一次终态；
// 行级拒绝不会让运行失败，只有文件不可读、表头不可用或
// 流中途的不可恢复错误才以 failed 结束。
func (p *Processor) run(ctx context.Context, file *model.File) (Summary, error) {
	// 阶段一：打开对象并解析表头
	log.Infof("[Processor] %s: 打开对象 %s", phaseHeaderParsing, file.Path)
	obj, err := p.store.Get(ctx, file.Path)
	if err != nil {
		return Summary{}, p.fail(ctx, file, Summary{}, fmt.Errorf("打开源文件失败: %w", err))
	}
	defer obj.Close()

	reader := csv.NewReader(bufio.NewReader(obj))
	reader.FieldsPerRecord = -1 // 行长不一致在清洗阶段修复，不在解析阶段拒绝
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return Summary{}, p.fail(ctx, file, Summary{}, fmt.Errorf("读取表头失败: %w", err))
	}
	mapping, err := csvmap.BuildMapping(header, p.cfg.MinHeaderColumns)
	if err != nil {
		return Summary{}, p.fail(ctx, file, Summary{}, fmt.Errorf("表头无效: %w", err))
	}
	log.Infof("[Processor] %s: 表头 %d 列，映射到 %d 个规范字段", phaseHeaderParsing, len(header), len(mapping))

	// 阶段二：进入流式处理前先落 processing 状态
	if err := p.files.UpdateStatus(file.ID, model.FileStatusProcessing); err != nil {
		return Summary{}, p.fail(ctx, file, Summary{}, fmt.Errorf("更新文件状态失败: %w", err))
	}
	p.report(ctx, file.ID, Summary{}, model.FileStatusProcessing)

	log.Infof("[Processor] %s: 开始流式导入, batchSize=%d", phaseStreaming, p.cfg.BatchSize)
	source := &csvRowSource{ctx: ctx, reader: reader, mapping: mapping}
	summary, err := p.engine.Ingest(file.Name, source, func(s Summary) {
		p.report(ctx, file.ID, s, model.FileStatusProcessing)
	})
	if err != nil {
		return summary, p.fail(ctx, file, summary, err)
	}

	// 阶段三：收尾
	log.Infof("[Processor] %s: 写入终态", phaseFinalizing)
	if err := p.files.UpdateStatus(file.ID, model.FileStatusCompleted); err != nil {
		return summary, p.fail(ctx, file, summary, fmt.Errorf("写入完成状态失败: %w", err))
	}
	p.report(ctx, file.ID, summary, model.FileStatusCompleted)

	log.Infof("[Processor] 文件 %d 导入完成: processed=%d, saved=%d, failed=%d",
		file.ID, summary.Processed, summary.Saved, summary.Failed)
	return summary, nil
}

// fail 统一处理导入级失败：记日志、写 failed 状态、发终态事件。
// 部分行已被隔离属于正常结果，不会走到这里。
func (p *Processor) fail(ctx context.Context, file *model.File, summary Summary, cause error) error {
	log.Errorf("[Processor] 文件 %d 导入失败: %v", file.ID, cause)
	if err := p.files.UpdateStatus(file.ID, model.FileStatusFailed); err != nil {
		log.Errorf("[Processor] 写入失败状态失败, FileID: %d, error: %v", file.ID, err)
	}
	p.report(ctx, file.ID, summary, model.FileStatusFailed)
	return cause
}

// report 把当前汇总转换为进度事件并发布（尽力而为）。
func (p *Processor) report(ctx context.Context, fileID uint, s Summary, status string) {
	if p.reporter == nil {
		return
	}
	total := 0
	if status == model.FileStatusCompleted || status == model.FileStatusFailed {
		// 流式读取时总行数事先未知，终态事件用已处理行数补齐
		total = s.Processed
	}
	p.reporter.Report(ctx, progress.Event{
		UploadID:  fileID,
		Processed: s.Processed,
		Total:     total,
		Success:   s.Saved,
		Failure:   s.Failed,
		Status:    status,
	})
}

// uploadObjectName 为 uploads/ 前缀下的新对象选一个不冲突的名字。
// 同名对象已存在时在扩展名前追加随机后缀，绝不覆盖既有对象。
func (p *Processor) uploadObjectName(ctx context.Context, name string) (string, error) {
	candidate := "uploads/" + name
	_, err := p.store.Stat(ctx, candidate)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return candidate, nil
	}
	if err != nil {
		return "", fmt.Errorf("检查目标对象失败: %w", err)
	}
	return "uploads/" + disambiguate(name, uuid.NewString()[:8]), nil
}

// disambiguate 在文件名的扩展名之前追加一个后缀。
func disambiguate(name, suffix string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return base + "-" + suffix + ext
}

// mimeForName 根据扩展名推断内容类型，仅覆盖导入关心的两种。
func mimeForName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return "text/csv"
	case ".txt":
		return "text/plain"
	}
	return "application/octet-stream"
}

// csvRowSource 把 csv.Reader 适配为 RowSource，按映射清洗每一行。
type csvRowSource struct {
	ctx     context.Context
	reader  *csv.Reader
	mapping csvmap.HeaderMapping
}

// Next 返回下一条清洗后的数据行。
// 超时/取消按不可恢复错误上抛；个别无法解析的行记警告后跳过，
// 不让一行坏引号拖垮整个文件。
func (s *csvRowSource) Next() (csvmap.NormalizedRow, error) {
	for {
		select {
		case <-s.ctx.Done():
			return csvmap.NormalizedRow{}, s.ctx.Err()
		default:
		}

		record, err := s.reader.Read()
		if err == io.EOF {
			return csvmap.NormalizedRow{}, io.EOF
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				log.Warnf("[csvRowSource] 第 %d 行解析失败，跳过: %v", parseErr.Line, err)
				continue
			}
			return csvmap.NormalizedRow{}, err
		}
		return csvmap.Normalize(record, s.mapping), nil
	}
}
