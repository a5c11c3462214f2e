package service

import (
	"errors"

	"catalog-ingest-go/internal/model"
	"catalog-ingest-go/internal/repository"

	"gorm.io/gorm"
)

// ErrFileNotFound 表示请求的文件记录不存在。
var ErrFileNotFound = errors.New("file not found")

// FileService 提供已上传文件记录的查询操作。
type FileService interface {
	ListFiles() ([]model.File, error)
	GetFile(id uint) (*model.File, error)
}

type fileService struct {
	files repository.FileRepository
}

// NewFileService 创建一个新的 FileService 实例。
func NewFileService(files repository.FileRepository) FileService {
	return &fileService{files: files}
}

// ListFiles 按创建时间倒序返回全部文件记录。
func (s *fileService) ListFiles() ([]model.File, error) {
	return s.files.List()
}

// GetFile 按主键返回单条文件记录及其导入状态。
func (s *fileService) GetFile(id uint) (*model.File, error) {
	file, err := s.files.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}
	return file, nil
}
