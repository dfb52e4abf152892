package handler

import (
	"errors"
	"net/http"
	"strings"

	"ytbatch/app/logger"
	"ytbatch/app/model"
	"ytbatch/app/service"
	"ytbatch/app/store"
	"ytbatch/app/utils/urlfile"

	"github.com/gin-gonic/gin"
)

// JobHandler 任务处理器
type JobHandler struct {
	jobs *service.JobService
	log  *logger.Logger
}

// NewJobHandler 创建任务处理器
func NewJobHandler(jobs *service.JobService, log *logger.Logger) *JobHandler {
	return &JobHandler{jobs: jobs, log: log}
}

// 创建成功响应
func (h *JobHandler) success(c *gin.Context, data any, message string) {
	c.JSON(http.StatusOK, ApiResponse{
		Code:    0,
		Message: message,
		Data:    data,
	})
}

// 创建错误响应
func (h *JobHandler) error(c *gin.Context, statusCode int, errorCode int, message string) {
	c.JSON(statusCode, ApiResponse{
		Code:    errorCode,
		Message: message,
		Data:    nil,
	})
}

// fail 按错误类别映射HTTP状态码
func (h *JobHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.error(c, http.StatusNotFound, 404, "任务不存在")
	case errors.Is(err, service.ErrInvalidInput):
		h.error(c, http.StatusBadRequest, 400, err.Error())
	case errors.Is(err, service.ErrNotCancellable), errors.Is(err, service.ErrNotRetryable):
		h.error(c, http.StatusConflict, 409, err.Error())
	default:
		h.log.Errorf("任务操作失败: %v", err)
		h.error(c, http.StatusInternalServerError, 500, "内部错误")
	}
}

// CreateJobRequest JSON方式创建任务的请求体
type CreateJobRequest struct {
	Name string   `json:"name"`
	URLs []string `json:"urls"`
}

// CreateJob 创建任务：上传URL清单文件或直接提交JSON
func (h *JobHandler) CreateJob(c *gin.Context) {
	name, urls, err := h.parseCreateRequest(c)
	if err != nil {
		h.error(c, http.StatusBadRequest, 400, err.Error())
		return
	}

	job, err := h.jobs.Create(name, urls)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.success(c, job, "创建任务成功")
}

// parseCreateRequest 解析创建请求，multipart上传和JSON两种形式
func (h *JobHandler) parseCreateRequest(c *gin.Context) (string, []string, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			return "", nil, errors.New("未提供URL清单文件")
		}

		f, err := fileHeader.Open()
		if err != nil {
			return "", nil, errors.New("读取上传文件失败")
		}
		defer f.Close()

		urls, err := urlfile.Parse(f)
		if err != nil {
			return "", nil, errors.New("解析URL清单失败")
		}

		name := strings.TrimSuffix(fileHeader.Filename, ".txt")
		return name, urls, nil
	}

	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return "", nil, errors.New("请求体格式无效")
	}
	return req.Name, req.URLs, nil
}

// GetJobs 获取最近任务列表
func (h *JobHandler) GetJobs(c *gin.Context) {
	jobs, err := h.jobs.List(50)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.success(c, jobs, "获取任务列表成功")
}

// GetJob 获取单个任务
func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := h.jobs.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.success(c, job, "获取任务成功")
}

// CancelJob 取消排队中的任务
func (h *JobHandler) CancelJob(c *gin.Context) {
	job, err := h.jobs.Cancel(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.success(c, job, "取消任务成功")
}

// RetryJob 重新排队失败或已取消的任务
func (h *JobHandler) RetryJob(c *gin.Context) {
	job, err := h.jobs.Retry(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.success(c, job, "任务已重新排队")
}

// DeleteJob 删除任务
func (h *JobHandler) DeleteJob(c *gin.Context) {
	if err := h.jobs.Delete(c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	h.success(c, nil, "删除任务成功")
}

// ReportProgress 接收外部执行单元上报的进度事件
func (h *JobHandler) ReportProgress(c *gin.Context) {
	var event model.ProgressEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		h.error(c, http.StatusBadRequest, 400, "进度事件格式无效")
		return
	}
	if event.JobID == "" {
		h.error(c, http.StatusBadRequest, 400, "缺少任务ID")
		return
	}

	if err := h.jobs.ReportProgress(event); err != nil {
		h.fail(c, err)
		return
	}
	h.success(c, nil, "进度已记录")
}
