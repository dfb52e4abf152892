package service

import (
	"context"
	"fmt"
	"time"

	"ytbatch/app/config"
	"ytbatch/app/logger"

	"resty.dev/v3"
)

// Dispatcher 派发边界：把一批URL交给外部执行单元处理。
// 控制器只依赖这个契约，不关心下载如何发生；
// 进度通过 ReportProgress 以事件形式回流，派发本身即发即忘
type Dispatcher interface {
	// Dispatch 派发一个任务，返回错误表示外部执行单元拒绝接收
	Dispatch(ctx context.Context, jobID string, urls []string) error
}

// JobAssignment 派发给外部执行单元的任务内容
type JobAssignment struct {
	JobID string   `json:"job_id"`
	URLs  []string `json:"urls"`
}

// RemoteDispatcher 通过HTTP把任务推送给外部执行单元
type RemoteDispatcher struct {
	client *resty.Client
	log    *logger.Logger
}

// NewRemoteDispatcher 创建远程派发器
func NewRemoteDispatcher(cfg config.WorkerConfig, log *logger.Logger) *RemoteDispatcher {
	client := resty.New()
	client.SetBaseURL(cfg.Endpoint)
	client.SetTimeout(time.Duration(cfg.Timeout) * time.Second)

	return &RemoteDispatcher{
		client: client,
		log:    log,
	}
}

// Dispatch 推送任务到外部执行单元的接收接口
func (d *RemoteDispatcher) Dispatch(ctx context.Context, jobID string, urls []string) error {
	assignment := JobAssignment{JobID: jobID, URLs: urls}

	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(assignment).
		Post("/api/assignments")
	if err != nil {
		return fmt.Errorf("派发任务失败: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("外部执行单元拒绝任务: 状态码 %d", resp.StatusCode())
	}

	d.log.Infof("任务已派发到外部执行单元: JobID=%s, URL数=%d", jobID, len(urls))
	return nil
}

// NoopDispatcher 未配置执行单元地址时使用：任务进入运行态后
// 只等待外部主动上报进度，适合执行单元自行轮询取活的部署方式
type NoopDispatcher struct {
	log *logger.Logger
}

// NewNoopDispatcher 创建空派发器
func NewNoopDispatcher(log *logger.Logger) *NoopDispatcher {
	return &NoopDispatcher{log: log}
}

// Dispatch 不做任何事，等待外部上报
func (d *NoopDispatcher) Dispatch(ctx context.Context, jobID string, urls []string) error {
	d.log.Debugf("未配置执行单元地址，任务等待外部上报: JobID=%s", jobID)
	return nil
}
