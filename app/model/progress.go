package model

// 条目状态常量，外部执行单元上报时使用；
// 未识别的状态值不视为错误，原样写入 progress_text
const (
	ItemStatusStarting    = "starting"    // 准备下载
	ItemStatusDownloading = "downloading" // 下载中
	ItemStatusProcessing  = "processing"  // 后处理中
	ItemStatusCompleted   = "completed"   // 已完成
	ItemStatusFailed      = "failed"      // 失败
	ItemStatusJobSummary  = "job_summary" // 整个任务的收尾汇总
)

// ProgressEvent 单个条目的进度事件，不落库，仅用于重算任务级进度
type ProgressEvent struct {
	JobID     string `json:"job_id"`
	ItemLabel string `json:"item_label"`
	Status    string `json:"status"`
	Percent   *int   `json:"percent,omitempty"`
}

// 广播事件类型常量
const (
	EventProgressUpdate = "progress_update" // 条目进度变化
	EventNewJob         = "new_job"         // 新任务创建
	EventJobUpdate      = "job_update"      // 任务字段变化
	EventJobCompleted   = "job_completed"   // 任务进入终态
	EventJobDeleted     = "job_deleted"     // 任务被删除
	EventConfigUpdated  = "config_updated"  // 配置变更
)

// BroadcastEvent 推送给订阅者的事件
type BroadcastEvent struct {
	Kind    string `json:"kind"`
	Payload any    `json:"payload"`
}
