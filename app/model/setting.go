package model

import (
	"time"
)

// Setting 运行时设置模型，值以JSON编码存储
type Setting struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	Key       string    `json:"key" gorm:"uniqueIndex;not null;size:100;comment:设置键"`
	Value     string    `json:"value" gorm:"type:text;comment:JSON编码的设置值"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (Setting) TableName() string {
	return "config"
}

// 控制器识别的设置键
const (
	SettingMaxConcurrent = "max_concurrent_downloads" // 同时运行的任务上限
	SettingVideoQuality  = "video_quality"            // 下载画质偏好
	SettingExtractAudio  = "extract_audio"            // 是否仅提取音频
	SettingTheme         = "theme"                    // 前端主题
	SettingAutoCleanup   = "auto_cleanup_completed"   // 是否自动清理完成的任务
	SettingNotifyEnabled = "notification_enabled"     // 是否推送通知
)

// DefaultSettings 返回全部识别键的默认值
func DefaultSettings() map[string]any {
	return map[string]any{
		SettingMaxConcurrent: 3,
		SettingVideoQuality:  "best",
		SettingExtractAudio:  false,
		SettingTheme:         "dark",
		SettingAutoCleanup:   false,
		SettingNotifyEnabled: true,
	}
}
