package repository

import (
	"encoding/json"

	"catalog-ingest-go/internal/model"

	"gorm.io/gorm"
)

// CsvLogRepository 是被拒绝数据行的隔离日志接口。
// 日志只追加，一行一条，留给运维人员事后审查。
type CsvLogRepository interface {
	Append(filename, reason string, row map[string]string) error
}

// csvLogRepository 是 CsvLogRepository 接口的 GORM 实现。
type csvLogRepository struct {
	db *gorm.DB
}

// NewCsvLogRepository 创建一个新的 CsvLogRepository 实例。
func NewCsvLogRepository(db *gorm.DB) CsvLogRepository {
	return &csvLogRepository{db: db}
}

// Append 追加一条隔离记录，payload 为 {"message": 原因, "row": 映射后的整行}。
func (r *csvLogRepository) Append(filename, reason string, row map[string]string) error {
	payload, err := json.Marshal(map[string]interface{}{
		"message": reason,
		"row":     row,
	})
	if err != nil {
		return err
	}
	return r.db.Create(&model.CsvDataLog{
		Filename: filename,
		Data:     string(payload),
	}).Error
}

// SystemLogRepository 是系统审计日志的接口。
type SystemLogRepository interface {
	Append(level, category, message string, context map[string]interface{}) error
}

// systemLogRepository 是 SystemLogRepository 接口的 GORM 实现。
type systemLogRepository struct {
	db *gorm.DB
}

// NewSystemLogRepository 创建一个新的 SystemLogRepository 实例。
func NewSystemLogRepository(db *gorm.DB) SystemLogRepository {
	return &systemLogRepository{db: db}
}

// Append 追加一条系统日志。
func (r *systemLogRepository) Append(level, category, message string, context map[string]interface{}) error {
	payload, err := json.Marshal(context)
	if err != nil {
		return err
	}
	return r.db.Create(&model.SystemLog{
		Level:    level,
		Category: category,
		Message:  message,
		Context:  string(payload),
	}).Error
}
