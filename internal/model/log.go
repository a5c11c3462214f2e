package model

import "time"

// CsvDataLog 对应于数据库中的 'csv_data_log' 表（隔离日志）。
// 每条记录保存一行被拒绝的数据及拒绝原因，只追加，从不修改。
type CsvDataLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Filename  string    `gorm:"type:varchar(255);not null" json:"filename"`
	Data      string    `gorm:"type:json" json:"data"` // {"message": ..., "row": ...}
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (CsvDataLog) TableName() string {
	return "csv_data_log"
}

// SystemLog 对应于数据库中的 'system_logs' 表。
// 导入过程按批次在这里留下审计记录。
type SystemLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Level     string    `gorm:"type:varchar(16);not null" json:"level"`
	Category  string    `gorm:"type:varchar(64);not null" json:"category"`
	Message   string    `gorm:"type:varchar(255);not null" json:"message"`
	Context   string    `gorm:"type:json" json:"context"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (SystemLog) TableName() string {
	return "system_logs"
}
