package store

import (
	"errors"
	"fmt"
	"time"

	"ytbatch/app/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotFound 任务不存在
var ErrNotFound = errors.New("任务不存在")

// JobStore 任务持久化存储，唯一持有 jobs 表的写入权
type JobStore struct {
	db *gorm.DB
}

// NewJobStore 创建任务存储实例
func NewJobStore(db *gorm.DB) *JobStore {
	return &JobStore{db: db}
}

// Create 创建新任务，初始状态为排队中
func (s *JobStore) Create(name string, urlCount int) (*model.Job, error) {
	job := &model.Job{
		ID:           uuid.NewString(),
		Name:         name,
		Status:       model.JobStatusQueued,
		TotalItems:   urlCount,
		Progress:     0,
		ProgressText: "Queued",
		CreatedAt:    time.Now(),
	}

	if err := s.db.Create(job).Error; err != nil {
		return nil, fmt.Errorf("创建任务记录失败: %w", err)
	}
	return job, nil
}

// Get 按ID获取任务
func (s *JobStore) Get(id string) (*model.Job, error) {
	var job model.Job
	if err := s.db.First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("读取任务记录失败: %w", err)
	}
	return &job, nil
}

// Update 对任务应用稀疏字段更新，整体原子生效；
// 空更新不是错误，未知ID返回 ErrNotFound
func (s *JobStore) Update(id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}

	result := s.db.Model(&model.Job{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("更新任务记录失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List 按创建时间倒序返回最近的任务，上限固定以保证列表接口响应速度
func (s *JobStore) List(limit int) ([]model.Job, error) {
	if limit <= 0 {
		limit = 50
	}

	var jobs []model.Job
	if err := s.db.Order("created_at DESC").Limit(limit).Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("获取任务列表失败: %w", err)
	}
	return jobs, nil
}

// Delete 删除任务记录，删除不存在的ID不视为错误
func (s *JobStore) Delete(id string) error {
	if err := s.db.Delete(&model.Job{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("删除任务记录失败: %w", err)
	}
	return nil
}

// ListByStatus 按状态获取任务，用于启动时恢复
func (s *JobStore) ListByStatus(status model.JobStatus) ([]model.Job, error) {
	var jobs []model.Job
	if err := s.db.Where("status = ?", status).Order("created_at ASC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("按状态获取任务失败: %w", err)
	}
	return jobs, nil
}

// Reap 清理指定时间之前进入终态的任务，返回清理数量
func (s *JobStore) Reap(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result := s.db.Where("status IN ? AND created_at < ?",
		[]model.JobStatus{model.JobStatusCompleted, model.JobStatusFailed, model.JobStatusCancelled},
		cutoff).Delete(&model.Job{})
	if result.Error != nil {
		return 0, fmt.Errorf("清理历史任务失败: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Vacuum 回收 sqlite 文件空间，删除不会即时缩减文件，需定期执行
func (s *JobStore) Vacuum() error {
	return s.db.Exec("VACUUM").Error
}
