package repository

import (
	"catalog-ingest-go/internal/model"

	"gorm.io/gorm"
)

// FileRepository 接口定义了文件记录的数据持久化操作。
type FileRepository interface {
	Create(file *model.File) error
	FindByID(id uint) (*model.File, error)
	UpdateStatus(id uint, status string) error
	List() ([]model.File, error)
}

// fileRepository 是 FileRepository 接口的 GORM 实现。
type fileRepository struct {
	db *gorm.DB
}

// NewFileRepository 创建一个新的 FileRepository 实例。
func NewFileRepository(db *gorm.DB) FileRepository {
	return &fileRepository{db: db}
}

// Create 在数据库中创建一条新的文件记录。
func (r *fileRepository) Create(file *model.File) error {
	return r.db.Create(file).Error
}

// FindByID 根据主键检索文件记录。
func (r *fileRepository) FindByID(id uint) (*model.File, error) {
	var file model.File
	err := r.db.First(&file, id).Error
	if err != nil {
		return nil, err
	}
	return &file, nil
}

// UpdateStatus 更新指定文件记录的处理状态。
func (r *fileRepository) UpdateStatus(id uint, status string) error {
	return r.db.Model(&model.File{}).Where("id = ?", id).Update("status", status).Error
}

// List 按创建时间倒序返回所有文件记录。
func (r *fileRepository) List() ([]model.File, error) {
	var files []model.File
	err := r.db.Order("created_at desc").Find(&files).Error
	return files, err
}
