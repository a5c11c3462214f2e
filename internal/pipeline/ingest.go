// Package pipeline 定义了 CSV 导入的核心流程。
package pipeline

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"catalog-ingest-go/internal/csvmap"
	"catalog-ingest-go/internal/model"
	"catalog-ingest-go/internal/repository"
	"catalog-ingest-go/pkg/log"
)

// 行级拒绝原因。
const (
	reasonMissingKey    = "Missing UNIQUE_KEY"
	reasonNonNumericKey = "UNIQUE_KEY must be numeric"
)

// Summary 是一次导入运行的汇总计数，随调用链显式传递与返回。
type Summary struct {
	Processed int `json:"processed"`
	Saved     int `json:"saved"`
	Failed    int `json:"failed"`
}

// RowSource 按文件顺序产出清洗后的数据行；流结束时返回 io.EOF。
// 其他任何错误都视为不可恢复的读错误。
type RowSource interface {
	Next() (csvmap.NormalizedRow, error)
}

// Engine 将数据行按固定大小分批，并以"一批一事务"的方式写入产品目录。
// 校验或持久化失败的行进入隔离日志，绝不中断整体导入。
type Engine struct {
	products       repository.ProductRepository
	quarantine     repository.CsvLogRepository
	syslog         repository.SystemLogRepository
	batchSize      int
	checkpointRows int
}

// NewEngine 创建一个新的批量写入引擎。
func NewEngine(
	products repository.ProductRepository,
	quarantine repository.CsvLogRepository,
	syslog repository.SystemLogRepository,
	batchSize int,
	checkpointRows int,
) *Engine {
	if batchSize <= 0 {
		batchSize = 100
	}
	if checkpointRows <= 0 {
		checkpointRows = 1000
	}
	return &Engine{
		products:       products,
		quarantine:     quarantine,
		syslog:         syslog,
		batchSize:      batchSize,
		checkpointRows: checkpointRows,
	}
}

// Ingest 消费 source 中的全部数据行并返回汇总。
// 每处理 checkpointRows 行调用一次 onCheckpoint；返回非 nil 错误
// 仅当源本身不可读（导入级失败），行级失败只体现在 Summary.Failed 中。
func (e *Engine) Ingest(filename string, source RowSource, onCheckpoint func(Summary)) (Summary, error) {
	var sum Summary
	batch := make([]validRow, 0, e.batchSize)
	lastCheckpoint := 0

	// 跨过检查点行数时发出一次进度事件
	checkpoint := func() {
		if onCheckpoint != nil && sum.Processed-lastCheckpoint >= e.checkpointRows {
			lastCheckpoint = sum.Processed - sum.Processed%e.checkpointRows
			onCheckpoint(sum)
		}
	}

	flush := func() {
		if len(batch) == 0 {
			return
		}
		e.applyBatch(batch, filename, &sum)
		batch = batch[:0]
		checkpoint()
	}

	for {
		row, err := source.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flush()
				log.Infof("[Ingest] 文件 '%s' 处理完成: processed=%d, saved=%d, failed=%d",
					filename, sum.Processed, sum.Saved, sum.Failed)
				return sum, nil
			}
			// 源读取失败是导入级错误；已提交的批次保持不变
			flush()
			return sum, fmt.Errorf("读取数据行失败: %w", err)
		}

		sum.Processed++

		// 持久化之前先做业务主键校验
		key, reason := validateKey(row)
		if reason != "" {
			sum.Failed++
			e.quarantineRow(filename, reason, row)
			// 被隔离的行同样推进检查点，批次长期不满时进度不会停滞
			checkpoint()
			continue
		}

		batch = append(batch, validRow{key: key, row: row})
		if len(batch) >= e.batchSize {
			flush()
		}
	}
}

// validRow 是一条通过主键校验、等待入库的行。
type validRow struct {
	key uint64
	row csvmap.NormalizedRow
}

// rejectedRow 记录一条批内持久化失败的行。
type rejectedRow struct {
	row    csvmap.NormalizedRow
	reason string
}

// applyBatch 在一个事务中写入一批行。
// 单行的持久化错误不放弃整批：该行被记入拒绝列表后继续；
// 事务本身失败时整批回滚，退化为逐行事务重放，让批级失败降级为行级粒度。
func (e *Engine) applyBatch(batch []validRow, filename string, sum *Summary) {
	saved := 0
	var rejects []rejectedRow

	txErr := e.products.WithTransaction(func(tx repository.ProductRepository) error {
		for _, vr := range batch {
			if err := upsertRow(tx, vr); err != nil {
				rejects = append(rejects, rejectedRow{row: vr.row, reason: persistenceReason(err)})
				continue
			}
			saved++
		}
		return nil
	})

	if txErr != nil {
		log.Warnf("[applyBatch] 批次事务失败，退化为逐行写入: file=%s, rows=%d, error=%v",
			filename, len(batch), txErr)
		saved = 0
		rejects = rejects[:0]
		for _, vr := range batch {
			rowErr := e.products.WithTransaction(func(tx repository.ProductRepository) error {
				return upsertRow(tx, vr)
			})
			if rowErr != nil {
				rejects = append(rejects, rejectedRow{row: vr.row, reason: persistenceReason(rowErr)})
				continue
			}
			saved++
		}
	}

	sum.Saved += saved
	sum.Failed += len(rejects)
	for _, rej := range rejects {
		e.quarantineRow(filename, rej.reason, rej.row)
	}
	e.auditBatch(filename, saved, len(rejects))
}

// upsertRow 按业务主键查找或新建产品，应用部分更新后保存。
func upsertRow(tx repository.ProductRepository, vr validRow) error {
	product, err := tx.FindOrCreateByKey(vr.key)
	if err != nil {
		return err
	}
	applyRow(product, vr.row)
	return tx.Save(product)
}

// attributeSetters 把规范字段名绑定到 Product 的类型化写入器上。
// 部分更新语义：只有行里存在且非空的取值才覆盖已有属性。
var attributeSetters = []struct {
	field csvmap.Field
	set   func(p *model.Product, v string)
}{
	{csvmap.FieldProductTitle, func(p *model.Product, v string) { p.Title = v }},
	{csvmap.FieldProductDescription, func(p *model.Product, v string) { p.Description = v }},
	{csvmap.FieldSize, func(p *model.Product, v string) { p.Size = v }},
	{csvmap.FieldStyle, func(p *model.Product, v string) { p.Style = v }},
	{csvmap.FieldColorName, func(p *model.Product, v string) { p.ColorName = v }},
	{csvmap.FieldMainframeColor, func(p *model.Product, v string) { p.MainframeColor = v }},
}

// applyRow 把一行的非空字段写入产品实例；空缺字段保持原值。
func applyRow(p *model.Product, row csvmap.NormalizedRow) {
	for _, s := range attributeSetters {
		if v, ok := row.Get(s.field); ok && v != "" {
			s.set(p, v)
		}
	}
	if price, ok := row.Price(); ok {
		p.PiecePrice = &price
	}
}

// validateKey 校验业务主键：必须存在、非空、且全部为十进制数字。
func validateKey(row csvmap.NormalizedRow) (uint64, string) {
	raw, ok := row.Get(csvmap.FieldUniqueKey)
	if !ok || strings.TrimSpace(raw) == "" {
		return 0, reasonMissingKey
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0, reasonNonNumericKey
		}
	}
	key, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, reasonNonNumericKey
	}
	return key, ""
}

// persistenceReason 把存储层错误格式化为隔离日志里的拒绝原因。
func persistenceReason(err error) string {
	return fmt.Sprintf("persistence error: %v", err)
}

// quarantineRow 把被拒绝的行写入隔离日志。
// 隔离日志写入失败只记警告，不影响导入继续。
func (e *Engine) quarantineRow(filename, reason string, row csvmap.NormalizedRow) {
	if err := e.quarantine.Append(filename, reason, row.Strings()); err != nil {
		log.Warnf("[quarantineRow] 隔离日志写入失败: file=%s, reason=%s, error=%v", filename, reason, err)
	}
}

// auditBatch 为一个已提交的批次留下审计记录。
func (e *Engine) auditBatch(filename string, saved, failed int) {
	if e.syslog == nil {
		return
	}
	err := e.syslog.Append("info", "csv_processing", "batch committed", map[string]interface{}{
		"filename": filename,
		"saved":    saved,
		"failed":   failed,
	})
	if err != nil {
		log.Warnf("[auditBatch] 系统日志写入失败: file=%s, error=%v", filename, err)
	}
}
