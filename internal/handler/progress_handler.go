package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"catalog-ingest-go/internal/model"
	"catalog-ingest-go/internal/progress"
	"catalog-ingest-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ProgressHandler 把一个文件的导入进度实时推送给 WebSocket 客户端。
// 它订阅该文件专属的 Redis 频道，并把收到的事件原样转发。
type ProgressHandler struct {
	redisClient *redis.Client
}

// NewProgressHandler 创建一个新的 ProgressHandler 实例。
func NewProgressHandler(redisClient *redis.Client) *ProgressHandler {
	return &ProgressHandler{redisClient: redisClient}
}

// Stream 升级连接为 WebSocket 并转发进度事件。
// 收到终态事件（completed/failed）后转发该事件并主动关闭连接。
func (h *ProgressHandler) Stream(c *gin.Context) {
	fileID, err := strconv.ParseUint(c.Param("fileId"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的文件ID"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Errorf("[Stream] WebSocket 升级失败, fileID: %d, error: %v", fileID, err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	channel := progress.Channel(uint(fileID))
	pubsub := h.redisClient.Subscribe(ctx, channel)
	defer pubsub.Close()
	log.Infof("[Stream] 进度订阅已建立, fileID: %d, channel: %s", fileID, channel)

	// 读取端只用于感知客户端断开
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-pubsub.Channel():
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				log.Warnf("[Stream] 进度事件转发失败, fileID: %d, error: %v", fileID, err)
				return
			}
			if isTerminalEvent(msg.Payload) {
				log.Infof("[Stream] 收到终态事件，关闭进度连接, fileID: %d", fileID)
				return
			}
		}
	}
}

// isTerminalEvent 判断一条进度消息是否是导入的终态。
func isTerminalEvent(payload string) bool {
	var ev progress.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return false
	}
	return ev.Status == model.FileStatusCompleted || ev.Status == model.FileStatusFailed
}
