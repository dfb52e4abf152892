package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"ytbatch/app/logger"
	"ytbatch/app/service"

	"github.com/gin-gonic/gin"
)

// EventHandler 实时事件流处理器，以SSE把广播事件推给浏览器
type EventHandler struct {
	hub  *service.EventHub
	jobs *service.JobService
	log  *logger.Logger
}

// NewEventHandler 创建事件流处理器
func NewEventHandler(hub *service.EventHub, jobs *service.JobService, log *logger.Logger) *EventHandler {
	return &EventHandler{hub: hub, jobs: jobs, log: log}
}

// Stream 订阅事件流。连接建立后先推送当前任务快照，
// 此后只收到订阅之后发生的事件，连接断开即终止，不可恢复
func (h *EventHandler) Stream(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, ApiResponse{Code: 500, Message: "不支持流式响应"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	sub := h.hub.Subscribe()
	defer h.hub.Unsubscribe(sub)

	// 初始快照，晚来的订阅者据此补齐当前状态
	if jobs, err := h.jobs.List(50); err == nil {
		writeSSEEvent(c.Writer, flusher, "snapshot", jobs)
	}

	for {
		select {
		case event, open := <-sub.C:
			if !open {
				return
			}
			writeSSEEvent(c.Writer, flusher, event.Kind, event.Payload)
		case <-c.Request.Context().Done():
			return
		}
	}
}

// writeSSEEvent 序列化并写出单个SSE事件帧
func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}
