// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"catalog-ingest-go/internal/config"
	"catalog-ingest-go/internal/model"
	"catalog-ingest-go/internal/repository"
	"catalog-ingest-go/pkg/log"
	"catalog-ingest-go/pkg/storage"
	"catalog-ingest-go/pkg/tasks"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 上传服务的哨兵错误，处理层据此映射 HTTP 状态码。
var (
	ErrInvalidRequest   = errors.New("invalid upload request")
	ErrUnknownSession   = errors.New("unknown upload session")
	ErrInvalidIndex     = errors.New("chunk index out of range")
	ErrIncompleteUpload = errors.New("upload incomplete")
	ErrFileTooLarge     = errors.New("file exceeds size limit")
)

// MissingChunkError 表示合并请求到达时仍有分片缺失，携带第一个缺失的下标。
type MissingChunkError struct {
	Index int
}

func (e *MissingChunkError) Error() string {
	return fmt.Sprintf("chunk %d has not been uploaded", e.Index)
}

// Unwrap 让 errors.Is(err, ErrIncompleteUpload) 成立。
func (e *MissingChunkError) Unwrap() error {
	return ErrIncompleteUpload
}

// TaskDispatcher 抽象了导入任务的投递端。
type TaskDispatcher interface {
	Enqueue(task tasks.CsvIngestTask) error
}

// UploadService 接口定义了文件上传相关的业务操作。
// 分片上传走 Begin/Receive/Complete 三步；小文件走 DirectUpload 一步。
type UploadService interface {
	BeginChunkedUpload(ctx context.Context, fileName string, totalSize int64, mimeType string, totalChunks int) (string, error)
	ReceiveChunk(ctx context.Context, sessionID string, index int, chunk io.Reader, size int64) ([]int, int, error)
	CompleteUpload(ctx context.Context, sessionID string) (*model.File, error)
	DirectUpload(ctx context.Context, fileName, mimeType string, file io.Reader, size int64) (*model.File, error)
	UploadStatus(ctx context.Context, sessionID string) (session *model.UploadSession, uploaded, missing []int, err error)
}

type uploadService struct {
	sessions   repository.SessionRepository
	files      repository.FileRepository
	store      storage.ObjectStore
	dispatcher TaskDispatcher
	uploadCfg  config.UploadConfig
}

// NewUploadService 创建一个新的 UploadService 实例。
func NewUploadService(
	sessions repository.SessionRepository,
	files repository.FileRepository,
	store storage.ObjectStore,
	dispatcher TaskDispatcher,
	uploadCfg config.UploadConfig,
) UploadService {
	return &uploadService{
		sessions:   sessions,
		files:      files,
		store:      store,
		dispatcher: dispatcher,
		uploadCfg:  uploadCfg,
	}
}

// BeginChunkedUpload 登记一次新的分片上传会话并返回会话 ID。
// 声明的大小只做上限校验，不作为完整性依据；完整性以分片位图为准。
func (s *uploadService) BeginChunkedUpload(ctx context.Context, fileName string, totalSize int64, mimeType string, totalChunks int) (string, error) {
	log.Infof("[BeginChunkedUpload] 开始登记上传会话, fileName: %s, totalChunks: %d", fileName, totalChunks)

	if strings.TrimSpace(fileName) == "" || totalChunks < 1 || totalSize <= 0 {
		return "", ErrInvalidRequest
	}
	if totalSize > int64(s.uploadCfg.MaxFileMB)*1024*1024 {
		return "", ErrFileTooLarge
	}

	sessionID := uuid.NewString()
	session := &model.UploadSession{
		SessionID:    sessionID,
		FileName:     filepath.Base(fileName),
		DeclaredSize: totalSize,
		MimeType:     mimeType,
		TotalChunks:  totalChunks,
	}
	if err := s.sessions.Create(session); err != nil {
		log.Errorf("[BeginChunkedUpload] 创建上传会话记录失败, error: %v", err)
		return "", err
	}

	log.Infof("[BeginChunkedUpload] 上传会话已登记, sessionID: %s", sessionID)
	return sessionID, nil
}

// ReceiveChunk 接收一个分片并写入对象存储的暂存区。
// 同一下标的重复上传采取后写覆盖；分片在存储写入成功后才进入位图，
// 因此完整性检查只会统计已经落盘的分片。
func (s *uploadService) ReceiveChunk(ctx context.Context, sessionID string, index int, chunk io.Reader, size int64) ([]int, int, error) {
	session, err := s.getSession(sessionID)
	if err != nil {
		return nil, 0, err
	}
	if index < 0 || index >= session.TotalChunks {
		log.Warnf("[ReceiveChunk] 分片下标越界, sessionID: %s, index: %d, totalChunks: %d",
			sessionID, index, session.TotalChunks)
		return nil, 0, ErrInvalidIndex
	}

	objectName := chunkObjectName(sessionID, index)
	if err := s.store.Put(ctx, objectName, chunk, size, "application/octet-stream"); err != nil {
		log.Errorf("[ReceiveChunk] 分片写入对象存储失败, objectName: %s, error: %v", objectName, err)
		return nil, 0, err
	}
	if err := s.sessions.MarkChunkUploaded(ctx, sessionID, index); err != nil {
		log.Errorf("[ReceiveChunk] 标记分片到达状态失败, sessionID: %s, index: %d, error: %v", sessionID, index, err)
		return nil, 0, err
	}

	uploaded, err := s.sessions.UploadedChunks(ctx, sessionID, session.TotalChunks)
	if err != nil {
		return nil, 0, err
	}
	log.Infof("[ReceiveChunk] 分片接收成功, sessionID: %s, index: %d, 进度: %d/%d",
		sessionID, index, len(uploaded), session.TotalChunks)
	return uploaded, session.TotalChunks, nil
}

// CompleteUpload 校验分片完整性，把分片合并为最终对象并登记文件记录。
// CSV 文件合并后进入导入队列；其他类型仅存储，直接标记完成。
// 合并成功后的暂存清理是尽力而为的，清理失败不影响返回结果。
func (s *uploadService) CompleteUpload(ctx context.Context, sessionID string) (*model.File, error) {
	log.Infof("[CompleteUpload] 开始合并上传, sessionID: %s", sessionID)
	session, err := s.getSession(sessionID)
	if err != nil {
		return nil, err
	}

	// 1. 完整性检查：找出第一个缺失的分片
	uploaded, err := s.sessions.UploadedChunks(ctx, sessionID, session.TotalChunks)
	if err != nil {
		log.Errorf("[CompleteUpload] 读取分片到达状态失败, sessionID: %s, error: %v", sessionID, err)
		return nil, err
	}
	if missing, ok := firstMissing(uploaded, session.TotalChunks); ok {
		log.Warnf("[CompleteUpload] 拒绝合并：分片 %d 缺失, sessionID: %s, 进度: %d/%d",
			missing, sessionID, len(uploaded), session.TotalChunks)
		return nil, &MissingChunkError{Index: missing}
	}

	// 2. 选定不与既有对象冲突的最终名字
	destObjectName, err := s.assembledObjectName(ctx, session)
	if err != nil {
		return nil, err
	}

	// 3. 合并：单分片复制，多分片按下标顺序拼接
	var info storage.ObjectInfo
	if session.TotalChunks == 1 {
		info, err = s.store.Copy(ctx, destObjectName, chunkObjectName(sessionID, 0))
	} else {
		srcs := make([]string, 0, session.TotalChunks)
		for i := 0; i < session.TotalChunks; i++ {
			srcs = append(srcs, chunkObjectName(sessionID, i))
		}
		info, err = s.store.Compose(ctx, destObjectName, srcs)
	}
	if err != nil {
		log.Errorf("[CompleteUpload] 分片合并失败, sessionID: %s, error: %v", sessionID, err)
		return nil, err
	}
	log.Infof("[CompleteUpload] 分片合并成功, 对象: %s, 大小: %d", destObjectName, info.Size)

	// 4. 登记文件记录并按类型决定后续处理
	file, err := s.registerFile(session.FileName, destObjectName, session.MimeType, info.Size)
	if err != nil {
		return nil, err
	}

	// 5. 清理会话与暂存分片
	s.cleanupSession(ctx, session)
	return file, nil
}

// DirectUpload 处理不分片的小文件上传。
func (s *uploadService) DirectUpload(ctx context.Context, fileName, mimeType string, file io.Reader, size int64) (*model.File, error) {
	log.Infof("[DirectUpload] 开始直接上传, fileName: %s, size: %d", fileName, size)

	if strings.TrimSpace(fileName) == "" || size <= 0 {
		return nil, ErrInvalidRequest
	}
	if size > int64(s.uploadCfg.MaxDirectMB)*1024*1024 {
		return nil, ErrFileTooLarge
	}

	name := filepath.Base(fileName)
	destObjectName, err := s.freeObjectName(ctx, name, uuid.NewString()[:8])
	if err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, destObjectName, file, size, mimeType); err != nil {
		log.Errorf("[DirectUpload] 写入对象存储失败, objectName: %s, error: %v", destObjectName, err)
		return nil, err
	}

	return s.registerFile(name, destObjectName, mimeType, size)
}

// UploadStatus 返回一个会话的元数据、已到达与仍缺失的分片下标列表。
func (s *uploadService) UploadStatus(ctx context.Context, sessionID string) (*model.UploadSession, []int, []int, error) {
	session, err := s.getSession(sessionID)
	if err != nil {
		return nil, nil, nil, err
	}
	uploaded, err := s.sessions.UploadedChunks(ctx, sessionID, session.TotalChunks)
	if err != nil {
		return nil, nil, nil, err
	}
	return session, uploaded, missingChunks(uploaded, session.TotalChunks), nil
}

// getSession 取回会话，不存在时统一映射为 ErrUnknownSession。
func (s *uploadService) getSession(sessionID string) (*model.UploadSession, error) {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownSession
		}
		log.Errorf("[getSession] 查询上传会话失败, sessionID: %s, error: %v", sessionID, err)
		return nil, err
	}
	return session, nil
}

// registerFile 登记一条文件记录。CSV 进入导入队列，其他类型直接标记完成。
func (s *uploadService) registerFile(name, objectName, mimeType string, size int64) (*model.File, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	file := &model.File{
		Name:      filepath.Base(objectName),
		Path:      objectName,
		Type:      mimeType,
		Size:      size,
		Extension: ext,
		Status:    model.FileStatusQueued,
	}
	if err := s.files.Create(file); err != nil {
		log.Errorf("[registerFile] 创建文件记录失败, objectName: %s, error: %v", objectName, err)
		return nil, err
	}

	if !isCSV(ext, mimeType) {
		// 非 CSV 只负责存储，不进导入流水线
		if err := s.files.UpdateStatus(file.ID, model.FileStatusCompleted); err != nil {
			log.Warnf("[registerFile] 更新非CSV文件状态失败, fileID: %d, error: %v", file.ID, err)
		} else {
			file.Status = model.FileStatusCompleted
		}
		log.Infof("[registerFile] 非CSV文件仅存储, fileID: %d, 对象: %s", file.ID, objectName)
		return file, nil
	}

	task := tasks.CsvIngestTask{FileID: file.ID, ObjectName: objectName, FileName: file.Name}
	if err := s.dispatcher.Enqueue(task); err != nil {
		log.Errorf("[registerFile] 投递导入任务失败, fileID: %d, error: %v", file.ID, err)
		return nil, err
	}
	log.Infof("[registerFile] 导入任务已入队, fileID: %d, 对象: %s", file.ID, objectName)
	return file, nil
}

// cleanupSession 清理会话元数据、分片位图与暂存分片对象（尽力而为）。
func (s *uploadService) cleanupSession(ctx context.Context, session *model.UploadSession) {
	if err := s.sessions.ClearChunkMarks(ctx, session.SessionID); err != nil {
		log.Warnf("[cleanupSession] 清理分片位图失败, sessionID: %s, error: %v", session.SessionID, err)
	}
	chunkNames := make([]string, 0, session.TotalChunks)
	for i := 0; i < session.TotalChunks; i++ {
		chunkNames = append(chunkNames, chunkObjectName(session.SessionID, i))
	}
	if err := s.store.Remove(ctx, chunkNames...); err != nil {
		log.Warnf("[cleanupSession] 清理暂存分片失败, sessionID: %s, error: %v", session.SessionID, err)
	}
	if err := s.sessions.Delete(session.SessionID); err != nil {
		log.Warnf("[cleanupSession] 删除上传会话失败, sessionID: %s, error: %v", session.SessionID, err)
	}
}

// assembledObjectName 为合并结果选定最终对象名。
// uploads/ 下已有同名对象时在扩展名前追加会话 ID，绝不覆盖既有对象。
func (s *uploadService) assembledObjectName(ctx context.Context, session *model.UploadSession) (string, error) {
	return s.freeObjectName(ctx, session.FileName, session.SessionID)
}

// freeObjectName 返回 uploads/ 前缀下第一个可用的对象名。
func (s *uploadService) freeObjectName(ctx context.Context, name, suffix string) (string, error) {
	candidate := "uploads/" + name
	_, err := s.store.Stat(ctx, candidate)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return candidate, nil
	}
	if err != nil {
		log.Errorf("[freeObjectName] 检查目标对象失败, objectName: %s, error: %v", candidate, err)
		return "", err
	}
	ext := filepath.Ext(name)
	return "uploads/" + strings.TrimSuffix(name, ext) + "-" + suffix + ext, nil
}

// isCSV 判断一个文件是否应进入 CSV 导入流水线。
func isCSV(ext, mimeType string) bool {
	return ext == "csv" || strings.EqualFold(mimeType, "text/csv")
}

// chunkObjectName 返回分片在暂存区中的对象名。
func chunkObjectName(sessionID string, index int) string {
	return fmt.Sprintf("chunks/%s/%d", sessionID, index)
}

// missingChunks 返回 [0, totalChunks) 中尚未到达的分片下标，升序。
func missingChunks(uploaded []int, totalChunks int) []int {
	present := make(map[int]struct{}, len(uploaded))
	for _, i := range uploaded {
		present[i] = struct{}{}
	}
	missing := make([]int, 0)
	for i := 0; i < totalChunks; i++ {
		if _, ok := present[i]; !ok {
			missing = append(missing, i)
		}
	}
	return missing
}

// firstMissing 返回 [0, totalChunks) 中第一个不在 uploaded 里的下标。
func firstMissing(uploaded []int, totalChunks int) (int, bool) {
	missing := missingChunks(uploaded, totalChunks)
	if len(missing) == 0 {
		return 0, false
	}
	return missing[0], true
}
