// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"

	"catalog-ingest-go/internal/model"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SessionRepository 接口定义了分片上传会话的数据持久化操作。
// 会话元数据存 MySQL（进程重启后仍然有效），分片到达状态存 Redis 位图。
type SessionRepository interface {
	Create(session *model.UploadSession) error
	Get(sessionID string) (*model.UploadSession, error)
	Delete(sessionID string) error

	// Chunk status operations (Redis)
	MarkChunkUploaded(ctx context.Context, sessionID string, index int) error
	IsChunkUploaded(ctx context.Context, sessionID string, index int) (bool, error)
	UploadedChunks(ctx context.Context, sessionID string, totalChunks int) ([]int, error)
	ClearChunkMarks(ctx context.Context, sessionID string) error
}

// sessionRepository 是 SessionRepository 接口的 GORM+Redis 实现。
type sessionRepository struct {
	db          *gorm.DB
	redisClient *redis.Client
}

// NewSessionRepository 创建一个新的 SessionRepository 实例。
func NewSessionRepository(db *gorm.DB, redisClient *redis.Client) SessionRepository {
	return &sessionRepository{db: db, redisClient: redisClient}
}

// chunkBitmapKey generates the redis key for the chunk-arrival bitmap.
func (r *sessionRepository) chunkBitmapKey(sessionID string) string {
	return "upload:chunks:" + sessionID
}

// Create 在数据库中创建一条新的上传会话记录。
func (r *sessionRepository) Create(session *model.UploadSession) error {
	return r.db.Create(session).Error
}

// Get 根据会话 ID 检索上传会话。
func (r *sessionRepository) Get(sessionID string) (*model.UploadSession, error) {
	var session model.UploadSession
	err := r.db.Where("session_id = ?", sessionID).First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// Delete 删除一条上传会话记录。
func (r *sessionRepository) Delete(sessionID string) error {
	return r.db.Where("session_id = ?", sessionID).Delete(&model.UploadSession{}).Error
}

// MarkChunkUploaded 在位图中标记一个分片已持久化。
// 只能在对象存储写入返回之后调用，保证完整性检查只统计已落盘的分片。
func (r *sessionRepository) MarkChunkUploaded(ctx context.Context, sessionID string, index int) error {
	return r.redisClient.SetBit(ctx, r.chunkBitmapKey(sessionID), int64(index), 1).Err()
}

// IsChunkUploaded checks if a chunk is marked as uploaded in Redis.
func (r *sessionRepository) IsChunkUploaded(ctx context.Context, sessionID string, index int) (bool, error) {
	val, err := r.redisClient.GetBit(ctx, r.chunkBitmapKey(sessionID), int64(index)).Result()
	if err != nil {
		return false, err
	}
	return val == 1, nil
}

// UploadedChunks 从 Redis 位图中读取已上传的分片下标列表。
func (r *sessionRepository) UploadedChunks(ctx context.Context, sessionID string, totalChunks int) ([]int, error) {
	if totalChunks == 0 {
		return []int{}, nil
	}
	bitmap, err := r.redisClient.Get(ctx, r.chunkBitmapKey(sessionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return []int{}, nil // Key doesn't exist, no chunks uploaded
		}
		return nil, err
	}

	uploaded := make([]int, 0)
	for i := 0; i < totalChunks; i++ {
		byteIndex := i / 8
		bitIndex := i % 8
		if byteIndex < len(bitmap) && (bitmap[byteIndex]>>(7-bitIndex))&1 == 1 {
			uploaded = append(uploaded, i)
		}
	}
	return uploaded, nil
}

// ClearChunkMarks 删除会话的分片位图。
func (r *sessionRepository) ClearChunkMarks(ctx context.Context, sessionID string) error {
	return r.redisClient.Del(ctx, r.chunkBitmapKey(sessionID)).Err()
}
