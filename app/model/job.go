package model

import (
	"time"
)

// JobStatus 任务状态
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"    // 排队中
	JobStatusRunning   JobStatus = "running"   // 下载中
	JobStatusCompleted JobStatus = "completed" // 已完成
	JobStatusFailed    JobStatus = "failed"    // 失败
	JobStatusCancelled JobStatus = "cancelled" // 已取消
)

// Job 批量下载任务模型，一个任务对应一批URL
type Job struct {
	ID           string    `json:"id" gorm:"primarykey;size:36"`
	Name         string    `json:"name" gorm:"size:255;not null;comment:显示名称"`
	Status       JobStatus `json:"status" gorm:"size:20;default:queued;index;comment:任务状态"`
	TotalItems   int       `json:"total_items" gorm:"not null;comment:URL总数"`
	Progress     int       `json:"progress" gorm:"default:0;comment:整体进度(0-100)"`
	ProgressText string    `json:"progress_text" gorm:"size:255;comment:当前步骤描述"`
	Error        string    `json:"error,omitempty" gorm:"type:text;comment:失败原因"`
	CreatedAt    time.Time `json:"created_at" gorm:"index"`
}

// TableName 指定表名
func (Job) TableName() string {
	return "jobs"
}

// IsTerminal 是否处于终态，终态任务除删除外不再变更
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// CanCancel 仅排队中的任务允许取消，已派发的任务由外部执行单元跑完为止
func (j *Job) CanCancel() bool {
	return j.Status == JobStatusQueued
}

// CanRetry 仅失败或已取消的任务允许重试
func (j *Job) CanRetry() bool {
	return j.Status == JobStatusFailed || j.Status == JobStatusCancelled
}
