// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"catalog-ingest-go/internal/config"
	"catalog-ingest-go/internal/handler"
	"catalog-ingest-go/internal/middleware"
	"catalog-ingest-go/internal/model"
	"catalog-ingest-go/internal/pipeline"
	"catalog-ingest-go/internal/progress"
	"catalog-ingest-go/internal/repository"
	"catalog-ingest-go/internal/service"
	"catalog-ingest-go/pkg/database"
	"catalog-ingest-go/pkg/kafka"
	"catalog-ingest-go/pkg/log"
	"catalog-ingest-go/pkg/storage"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis 和对象存储
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.AutoMigrate(
		&model.UploadSession{},
		&model.File{},
		&model.Product{},
		&model.CsvDataLog{},
		&model.SystemLog{},
	)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	store, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		log.Fatalf("MinIO 初始化失败: %v", err)
	}
	producer := kafka.NewProducer(cfg.Kafka)

	// 4. 初始化 Repository
	sessionRepo := repository.NewSessionRepository(database.DB, database.RDB)
	fileRepo := repository.NewFileRepository(database.DB)
	productRepo := repository.NewProductRepository(database.DB)
	csvLogRepo := repository.NewCsvLogRepository(database.DB)
	sysLogRepo := repository.NewSystemLogRepository(database.DB)

	// 5. 初始化 Service (依赖注入)
	uploadService := service.NewUploadService(sessionRepo, fileRepo, store, producer, cfg.Upload)
	fileService := service.NewFileService(fileRepo)

	// 6. 初始化 CSV 导入流水线 (Processor)
	reporter := progress.NewReporter(progress.NewRedisPublisher(database.RDB))
	engine := pipeline.NewEngine(productRepo, csvLogRepo, sysLogRepo,
		cfg.Ingest.BatchSize, cfg.Ingest.CheckpointRows)
	processor := pipeline.NewProcessor(store, fileRepo, engine, reporter, cfg.Ingest)

	// 7. 启动后台 Kafka 消费者
	go kafka.StartConsumer(cfg.Kafka, processor, cfg.Ingest.MaxAttempts)

	// 7.1 导入 initfile 目录下的种子 CSV（目录不存在则跳过）
	go ingestSeedFiles(context.Background(), "initfile", processor)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 添加我们自定义的日志中间件和 Gin 的 Recovery 中间件
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		// Upload 路由组
		upload := apiV1.Group("/upload")
		{
			uploadHandler := handler.NewUploadHandler(uploadService)
			upload.POST("/direct", uploadHandler.DirectUpload)
			upload.POST("/init", uploadHandler.InitUpload)
			upload.POST("/chunk", uploadHandler.UploadChunk)
			upload.POST("/complete", uploadHandler.CompleteUpload)
			upload.GET("/status", uploadHandler.UploadStatus)

			// 进度推送 (WebSocket)
			upload.GET("/progress/:fileId", handler.NewProgressHandler(database.RDB).Stream)
		}

		// File 路由组
		files := apiV1.Group("/files")
		{
			fileHandler := handler.NewFileHandler(fileService)
			files.GET("", fileHandler.ListFiles)
			files.GET("/:id", fileHandler.GetFile)
		}
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	// StartConsumer 是一个循环，会在程序退出时自然结束。
	log.Info("服务已优雅关闭")
}

// ingestSeedFiles 扫描目录下的 CSV 文件并逐个同步导入（幂等由对象名冲突规避保证）。
func ingestSeedFiles(ctx context.Context, dir string, processor *pipeline.Processor) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Infof("ingestSeedFiles: 目录 '%s' 不存在或不可用，跳过初始化导入", dir)
		return
	}

	walkErr := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".csv") {
			log.Infof("ingestSeedFiles: 非 CSV 文件跳过: %s", path)
			return nil
		}

		summary, ingestErr := processor.IngestDirect(ctx, path)
		if ingestErr != nil {
			log.Warnf("ingestSeedFiles: 导入失败: %s, err=%v", path, ingestErr)
			return nil
		}
		log.Infof("ingestSeedFiles: 导入完成: %s, processed=%d, saved=%d, failed=%d",
			path, summary.Processed, summary.Saved, summary.Failed)
		return nil
	})
	if walkErr != nil {
		log.Warnf("ingestSeedFiles: 遍历目录发生错误: %v", walkErr)
	}
}
