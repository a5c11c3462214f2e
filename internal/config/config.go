// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// UploadConfig 存储文件上传相关的限制。
type UploadConfig struct {
	MaxDirectMB int `mapstructure:"max_direct_mb"`
	MaxFileMB   int `mapstructure:"max_file_mb"`
}

// IngestConfig 存储 CSV 导入流水线的调优参数。
type IngestConfig struct {
	BatchSize        int `mapstructure:"batch_size"`
	CheckpointRows   int `mapstructure:"checkpoint_rows"`
	MinHeaderColumns int `mapstructure:"min_header_columns"`
	RunTimeoutMin    int `mapstructure:"run_timeout_minutes"`
	MaxAttempts      int `mapstructure:"max_attempts"`
}

// RunTimeout 返回单次导入运行的超时上限，默认一小时。
func (c IngestConfig) RunTimeout() time.Duration {
	if c.RunTimeoutMin <= 0 {
		return time.Hour
	}
	return time.Duration(c.RunTimeoutMin) * time.Minute
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}

	applyDefaults(&Conf)
}

// applyDefaults 为未配置的调优参数填充默认值。
func applyDefaults(c *Config) {
	if c.Upload.MaxDirectMB <= 0 {
		c.Upload.MaxDirectMB = 20
	}
	if c.Upload.MaxFileMB <= 0 {
		c.Upload.MaxFileMB = 200
	}
	if c.Ingest.BatchSize <= 0 {
		c.Ingest.BatchSize = 100
	}
	if c.Ingest.CheckpointRows <= 0 {
		c.Ingest.CheckpointRows = 1000
	}
	if c.Ingest.MinHeaderColumns <= 0 {
		c.Ingest.MinHeaderColumns = 2
	}
	if c.Ingest.MaxAttempts <= 0 {
		c.Ingest.MaxAttempts = 3
	}
}
