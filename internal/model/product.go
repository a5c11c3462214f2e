package model

import "time"

// Product 定义了 products 表的 ORM 模型。
// UniqueKey 是外部数据源提供的业务主键；除它之外的属性
// 在每次导入时按"非空才覆盖"的规则部分更新，流水线从不删除产品。
type Product struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UniqueKey      uint64    `gorm:"uniqueIndex;not null" json:"uniqueKey"`
	Title          string    `gorm:"type:varchar(512)" json:"title"`
	Description    string    `gorm:"type:text" json:"description"`
	PiecePrice     *float64  `gorm:"type:decimal(12,4)" json:"piecePrice"`
	Size           string    `gorm:"type:varchar(64)" json:"size"`
	Style          string    `gorm:"type:varchar(64)" json:"style"`
	ColorName      string    `gorm:"type:varchar(128)" json:"colorName"`
	MainframeColor string    `gorm:"type:varchar(128)" json:"mainframeColor"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Product) TableName() string {
	return "products"
}
