package service

import (
	"time"

	"ytbatch/app/logger"
	"ytbatch/app/model"
	"ytbatch/app/store"

	"github.com/robfig/cron/v3"
)

// retainTerminalFor 终态任务保留时长，超过后由定时清理回收
const retainTerminalFor = 7 * 24 * time.Hour

// CleanupService 定期存储回收：清理过期的终态任务并压缩数据库文件
type CleanupService struct {
	store    *store.JobStore
	settings *SettingsService
	log      *logger.Logger
	cron     *cron.Cron
}

// NewCleanupService 创建清理服务
func NewCleanupService(st *store.JobStore, settings *SettingsService, log *logger.Logger) *CleanupService {
	return &CleanupService{
		store:    st,
		settings: settings,
		log:      log,
		cron:     cron.New(),
	}
}

// Start 注册定时任务，每天凌晨3点执行一次
func (s *CleanupService) Start() error {
	if _, err := s.cron.AddFunc("0 3 * * *", s.runOnce); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Infof("存储清理服务已启动")
	return nil
}

// Stop 停止定时任务，等待在途清理结束
func (s *CleanupService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Infof("存储清理服务已停止")
}

// runOnce 执行一轮清理
func (s *CleanupService) runOnce() {
	if s.settings.Bool(model.SettingAutoCleanup) {
		reaped, err := s.store.Reap(retainTerminalFor)
		if err != nil {
			s.log.Errorf("清理历史任务失败: %v", err)
		} else if reaped > 0 {
			s.log.Infof("清理了 %d 个历史任务（超过7天）", reaped)
		}
	}

	// 删除不会即时缩减 sqlite 文件，定期压缩回收空间
	if err := s.store.Vacuum(); err != nil {
		s.log.Errorf("压缩数据库失败: %v", err)
	}
}
