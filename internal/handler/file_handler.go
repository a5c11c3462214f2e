package handler

import (
	"errors"
	"net/http"
	"strconv"

	"catalog-ingest-go/internal/service"
	"catalog-ingest-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// FileHandler 负责处理文件记录查询相关的 API 请求。
type FileHandler struct {
	fileService service.FileService
}

// NewFileHandler 创建一个新的 FileHandler 实例。
func NewFileHandler(fileService service.FileService) *FileHandler {
	return &FileHandler{fileService: fileService}
}

// ListFiles 返回全部文件记录及各自的导入状态。
func (h *FileHandler) ListFiles(c *gin.Context) {
	files, err := h.fileService.ListFiles()
	if err != nil {
		log.Error("ListFiles: failed to list files", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "服务器内部错误"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "查询成功",
		"data":    files,
	})
}

// GetFile 按 ID 返回单条文件记录。
func (h *FileHandler) GetFile(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的文件ID"})
		return
	}

	file, err := h.fileService.GetFile(uint(id))
	if err != nil {
		if errors.Is(err, service.ErrFileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "文件不存在"})
			return
		}
		log.Error("GetFile: failed to get file", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "服务器内部错误"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "查询成功",
		"data":    file,
	})
}
