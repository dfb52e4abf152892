package service

import (
	"encoding/json"
	"errors"
	"fmt"

	"ytbatch/app/logger"
	"ytbatch/app/model"

	"gorm.io/gorm"
)

// SettingsService 运行时设置服务：默认值叠加持久化覆盖；
// 未识别的持久化键保留返回但控制器不使用
type SettingsService struct {
	db  *gorm.DB
	log *logger.Logger
	hub *EventHub

	// 并发上限变化时回调，用于调整派发池
	onConcurrencyChange func(int)
}

// NewSettingsService 创建设置服务
func NewSettingsService(db *gorm.DB, log *logger.Logger, hub *EventHub) *SettingsService {
	return &SettingsService{
		db:  db,
		log: log,
		hub: hub,
	}
}

// OnConcurrencyChange 注册并发上限变化回调
func (s *SettingsService) OnConcurrencyChange(fn func(int)) {
	s.onConcurrencyChange = fn
}

// Get 返回默认值与持久化覆盖合并后的完整设置
func (s *SettingsService) Get() (map[string]any, error) {
	merged := model.DefaultSettings()

	var rows []model.Setting
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("读取设置失败: %w", err)
	}

	for _, row := range rows {
		var value any
		if err := json.Unmarshal([]byte(row.Value), &value); err != nil {
			s.log.Warnf("设置值解析失败，按原始字符串处理: key=%s", row.Key)
			value = row.Value
		}
		merged[row.Key] = value
	}

	return merged, nil
}

// Set 应用部分设置更新：给定键覆盖，其余保持不变；
// 一次调用内的写入在事务中整体生效
func (s *SettingsService) Set(partial map[string]any) (map[string]any, error) {
	if len(partial) == 0 {
		return s.Get()
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		for key, value := range partial {
			encoded, err := json.Marshal(value)
			if err != nil {
				return fmt.Errorf("设置值编码失败: key=%s: %w", key, err)
			}

			var row model.Setting
			result := tx.Where("key = ?", key).First(&row)
			switch {
			case result.Error == nil:
				row.Value = string(encoded)
				if err := tx.Save(&row).Error; err != nil {
					return fmt.Errorf("更新设置失败: key=%s: %w", key, err)
				}
			case errors.Is(result.Error, gorm.ErrRecordNotFound):
				row = model.Setting{Key: key, Value: string(encoded)}
				if err := tx.Create(&row).Error; err != nil {
					return fmt.Errorf("写入设置失败: key=%s: %w", key, err)
				}
			default:
				return fmt.Errorf("读取设置失败: key=%s: %w", key, result.Error)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	merged, err := s.Get()
	if err != nil {
		return nil, err
	}

	// 并发上限变化时调整派发池
	if _, ok := partial[model.SettingMaxConcurrent]; ok && s.onConcurrencyChange != nil {
		s.onConcurrencyChange(s.MaxConcurrent())
	}

	if s.hub != nil {
		s.hub.Publish(model.EventConfigUpdated, merged)
	}
	s.log.Infof("设置已更新，共 %d 项", len(partial))

	return merged, nil
}

// MaxConcurrent 同时运行的任务上限，非法值回落为 1
func (s *SettingsService) MaxConcurrent() int {
	n := toInt(s.value(model.SettingMaxConcurrent))
	if n <= 0 {
		n = 1
	}
	return n
}

// Bool 读取布尔设置
func (s *SettingsService) Bool(key string) bool {
	v, _ := s.value(key).(bool)
	return v
}

// String 读取字符串设置
func (s *SettingsService) String(key string) string {
	v, _ := s.value(key).(string)
	return v
}

// value 读取单个设置值，出错时回落到默认值
func (s *SettingsService) value(key string) any {
	merged, err := s.Get()
	if err != nil {
		s.log.Warnf("读取设置失败，使用默认值: %v", err)
		merged = model.DefaultSettings()
	}
	return merged[key]
}

// toInt JSON解码后的数字可能是多种类型，统一转成int
func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	}
	return 0
}
