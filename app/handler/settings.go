package handler

import (
	"net/http"

	"ytbatch/app/logger"
	"ytbatch/app/service"

	"github.com/gin-gonic/gin"
)

// SettingsHandler 运行时设置处理器
type SettingsHandler struct {
	settings *service.SettingsService
	log      *logger.Logger
}

// NewSettingsHandler 创建设置处理器
func NewSettingsHandler(settings *service.SettingsService, log *logger.Logger) *SettingsHandler {
	return &SettingsHandler{settings: settings, log: log}
}

// 创建成功响应
func (h *SettingsHandler) success(c *gin.Context, data any, message string) {
	c.JSON(http.StatusOK, ApiResponse{
		Code:    0,
		Message: message,
		Data:    data,
	})
}

// 创建错误响应
func (h *SettingsHandler) error(c *gin.Context, statusCode int, errorCode int, message string) {
	c.JSON(statusCode, ApiResponse{
		Code:    errorCode,
		Message: message,
		Data:    nil,
	})
}

// GetConfig 获取完整设置（默认值叠加持久化覆盖）
func (h *SettingsHandler) GetConfig(c *gin.Context) {
	merged, err := h.settings.Get()
	if err != nil {
		h.log.Errorf("读取设置失败: %v", err)
		h.error(c, http.StatusInternalServerError, 500, "读取设置失败")
		return
	}
	h.success(c, merged, "获取设置成功")
}

// UpdateConfig 部分更新设置：给定键覆盖，其余保持不变
func (h *SettingsHandler) UpdateConfig(c *gin.Context) {
	var partial map[string]any
	if err := c.ShouldBindJSON(&partial); err != nil {
		h.error(c, http.StatusBadRequest, 400, "请求体格式无效")
		return
	}

	merged, err := h.settings.Set(partial)
	if err != nil {
		h.log.Errorf("更新设置失败: %v", err)
		h.error(c, http.StatusInternalServerError, 500, "更新设置失败")
		return
	}
	h.success(c, merged, "更新设置成功")
}
