// Package progress 负责把导入进度广播给发起上传的会话。
package progress

import (
	"context"
	"encoding/json"
	"fmt"

	"catalog-ingest-go/pkg/log"

	"github.com/go-redis/redis/v8"
)

// Publisher 抽象了按频道投递消息的发布端。投递是尽力而为的。
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// RedisPublisher 通过 Redis Pub/Sub 投递进度消息。
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher 创建一个新的 RedisPublisher。
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish 向指定频道发布一条消息。
func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.client.Publish(ctx, channel, payload).Err()
}

// Channel 返回一次上传的专属进度频道，只有持有该上传 ID 的会话会去订阅。
func Channel(uploadID uint) string {
	return fmt.Sprintf("upload.progress.%d", uploadID)
}

// Event 是广播出去的进度载荷。
type Event struct {
	UploadID  uint   `json:"uploadId"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Success   int    `json:"success"`
	Failure   int    `json:"failure"`
	Status    string `json:"status"`
}

// Reporter 把进度事件发布到上传专属频道。
// 事件的节奏由调用方控制（流水线按检查点行数上报）；
// 发布失败只记日志，绝不让进度上报失败中断导入。
type Reporter struct {
	pub Publisher
}

// NewReporter 创建一个新的 Reporter。
func NewReporter(pub Publisher) *Reporter {
	return &Reporter{pub: pub}
}

// Report 发布一次进度事件（尽力而为）。
func (r *Reporter) Report(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Errorf("[Report] 进度事件序列化失败, uploadID: %d, error: %v", ev.UploadID, err)
		return
	}
	if err := r.pub.Publish(ctx, Channel(ev.UploadID), payload); err != nil {
		// 尽力而为：投递失败不影响导入
		log.Warnf("[Report] 进度事件发布失败, uploadID: %d, error: %v", ev.UploadID, err)
	}
}
