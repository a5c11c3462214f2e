// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// UploadSession 定义了 upload_session 表的 ORM 模型。
// 它记录一次分片上传会话的元数据，是"上传是否完整"的事实来源。
// 会话在合并成功后被删除。
type UploadSession struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID    string    `gorm:"type:varchar(36);uniqueIndex;not null" json:"sessionId"`
	FileName     string    `gorm:"type:varchar(255);not null" json:"fileName"`
	DeclaredSize int64     `gorm:"not null" json:"declaredSize"` // 客户端声明的大小，仅作参考
	MimeType     string    `gorm:"type:varchar(100)" json:"mimeType"`
	TotalChunks  int       `gorm:"not null" json:"totalChunks"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (UploadSession) TableName() string {
	return "upload_session"
}

// File 的处理状态。
const (
	FileStatusQueued     = "queued"
	FileStatusProcessing = "processing"
	FileStatusCompleted  = "completed"
	FileStatusFailed     = "failed"
)

// File 对应于数据库中的 'files' 表。
// 它记录一个已合并（或直接上传）的文件及其导入状态。
type File struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	Path      string    `gorm:"type:varchar(512);not null" json:"path"` // 对象存储中的对象名
	Type      string    `gorm:"type:varchar(100)" json:"type"`
	Size      int64     `gorm:"not null" json:"size"`
	Extension string    `gorm:"type:varchar(16)" json:"extension"`
	Status    string    `gorm:"type:varchar(16);not null;default:queued" json:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (File) TableName() string {
	return "files"
}
