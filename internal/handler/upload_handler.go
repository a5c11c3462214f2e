// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"catalog-ingest-go/internal/service"
	"catalog-ingest-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// calculateProgress is a helper function to calculate upload progress.
func calculateProgress(uploadedChunks []int, totalChunks int) float64 {
	if totalChunks == 0 {
		return 0.0
	}
	return (float64(len(uploadedChunks)) / float64(totalChunks)) * 100
}

// UploadHandler 负责处理所有与文件上传相关的 API 请求。
type UploadHandler struct {
	uploadService service.UploadService
}

// NewUploadHandler 创建一个新的 UploadHandler 实例。
func NewUploadHandler(uploadService service.UploadService) *UploadHandler {
	return &UploadHandler{uploadService: uploadService}
}

// InitUploadRequest 定义了分片上传初始化 API 的请求体结构。
type InitUploadRequest struct {
	FileName    string `json:"fileName" binding:"required"`
	TotalSize   int64  `json:"totalSize" binding:"required"`
	MimeType    string `json:"mimeType"`
	TotalChunks int    `json:"totalChunks" binding:"required"`
}

// InitUpload 处理分片上传会话的初始化请求。
func (h *UploadHandler) InitUpload(c *gin.Context) {
	var req InitUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载"})
		return
	}

	sessionID, err := h.uploadService.BeginChunkedUpload(c.Request.Context(),
		req.FileName, req.TotalSize, req.MimeType, req.TotalChunks)
	if err != nil {
		h.writeError(c, "初始化上传会话失败", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "上传会话已创建",
		"data": gin.H{
			"sessionId":   sessionID,
			"totalChunks": req.TotalChunks,
		},
	})
}

// UploadChunk 处理分片上传的请求。
func (h *UploadHandler) UploadChunk(c *gin.Context) {
	sessionID := c.PostForm("sessionId")
	chunkIndexStr := c.PostForm("chunkIndex")
	if sessionID == "" || chunkIndexStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少必要的参数"})
		return
	}
	chunkIndex, err := strconv.Atoi(chunkIndexStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的分片索引"})
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "未能获取上传的分片"})
		return
	}
	defer file.Close()

	uploadedChunks, totalChunks, err := h.uploadService.ReceiveChunk(
		c.Request.Context(), sessionID, chunkIndex, file, header.Size)
	if err != nil {
		h.writeError(c, "分片上传失败", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "分片上传成功",
		"data": gin.H{
			"uploaded": uploadedChunks,
			"progress": calculateProgress(uploadedChunks, totalChunks),
		},
	})
}

// CompleteUploadRequest 定义了合并请求的请求体结构。
type CompleteUploadRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
}

// CompleteUpload 处理分片合并请求：校验完整性、合并并把 CSV 送入导入队列。
func (h *UploadHandler) CompleteUpload(c *gin.Context) {
	var req CompleteUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载"})
		return
	}

	file, err := h.uploadService.CompleteUpload(c.Request.Context(), req.SessionID)
	if err != nil {
		h.writeError(c, "合并上传失败", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "上传完成",
		"data":    file,
	})
}

// DirectUpload 处理小文件的一步上传。
func (h *UploadHandler) DirectUpload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "未能获取上传的文件"})
		return
	}
	defer file.Close()

	created, err := h.uploadService.DirectUpload(c.Request.Context(),
		header.Filename, header.Header.Get("Content-Type"), file, header.Size)
	if err != nil {
		h.writeError(c, "文件上传失败", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "上传成功",
		"data":    created,
	})
}

// UploadStatus 返回一个上传会话的分片到达状态。
func (h *UploadHandler) UploadStatus(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 sessionId 参数"})
		return
	}

	session, uploadedChunks, missingChunks, err := h.uploadService.UploadStatus(c.Request.Context(), sessionID)
	if err != nil {
		h.writeError(c, "获取上传状态失败", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "查询成功",
		"data": gin.H{
			"fileName":    session.FileName,
			"totalChunks": session.TotalChunks,
			"uploaded":    uploadedChunks,
			"missing":     missingChunks,
			"progress":    calculateProgress(uploadedChunks, session.TotalChunks),
		},
	})
}

// writeError 把服务层的哨兵错误映射为对应的 HTTP 状态码。
func (h *UploadHandler) writeError(c *gin.Context, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, service.ErrInvalidIndex):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrUnknownSession):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrIncompleteUpload):
		status = http.StatusConflict
	case errors.Is(err, service.ErrFileTooLarge):
		status = http.StatusRequestEntityTooLarge
	default:
		log.Error(msg, err)
	}
	c.JSON(status, gin.H{
		"code":    status,
		"message": msg + ": " + err.Error(),
	})
}
