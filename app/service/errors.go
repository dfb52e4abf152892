package service

import "errors"

// 控制器对外暴露的可区分错误，HTTP层据此映射状态码
var (
	ErrInvalidInput   = errors.New("请求内容无效")
	ErrNotCancellable = errors.New("任务当前状态不允许取消")
	ErrNotRetryable   = errors.New("任务当前状态不允许重试")
)
