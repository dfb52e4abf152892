package config

import (
	"fmt"
	"log"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	Storage StorageConfig `mapstructure:"storage"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Watcher WatcherConfig `mapstructure:"watcher"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`      // json 或 text
	Output     string `mapstructure:"output"`      // stdout 或 file
	MaxSize    int    `mapstructure:"max_size"`    // 兆字节
	MaxBackups int    `mapstructure:"max_backups"` // 备份数量
	MaxAge     int    `mapstructure:"max_age"`     // 天数
	Compress   bool   `mapstructure:"compress"`    // 是否压缩旧文件
}

type StorageConfig struct {
	DatabasePath string `mapstructure:"database_path"` // sqlite 数据库文件
	QueueDir     string `mapstructure:"queue_dir"`     // 任务URL清单落盘目录
	InputDir     string `mapstructure:"input_dir"`     // 收件目录，放入.txt自动建任务
	DownloadDir  string `mapstructure:"download_dir"`  // 下载产物目录
}

type WorkerConfig struct {
	Endpoint string `mapstructure:"endpoint"` // 外部执行单元地址，为空则仅等待外部上报
	Timeout  int    `mapstructure:"timeout"`  // 派发请求超时（秒）
}

type WatcherConfig struct {
	Enabled bool `mapstructure:"enabled"` // 是否监控收件目录自动建任务
}

func Load() *Config {
	setDefaults()

	// 读取配置
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("未找到配置文件，使用默认配置")
		} else {
			log.Fatalf("读取配置文件出错: %v", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		log.Fatalf("无法解码配置: %v", err)
	}

	// 验证配置
	if err := validateConfig(&config); err != nil {
		log.Fatalf("配置验证失败: %v", err)
	}

	return &config
}

// setDefaults 设置默认配置
func setDefaults() {
	viper.SetDefault("server.port", "8899")

	// 日志默认配置
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	// 存储默认配置
	viper.SetDefault("storage.database_path", "data/ytbatch.db")
	viper.SetDefault("storage.queue_dir", "data/queue")
	viper.SetDefault("storage.input_dir", "data/input")
	viper.SetDefault("storage.download_dir", "data/downloads")

	// 执行单元默认配置
	viper.SetDefault("worker.endpoint", "")
	viper.SetDefault("worker.timeout", 10)

	viper.SetDefault("watcher.enabled", true)
}

// validateConfig 验证配置的有效性
func validateConfig(config *Config) error {
	if config.Server.Port == "" {
		return fmt.Errorf("服务器端口未设置")
	}
	if config.Storage.DatabasePath == "" {
		return fmt.Errorf("数据库路径未设置")
	}
	if config.Worker.Timeout <= 0 {
		config.Worker.Timeout = 10
	}
	return nil
}
