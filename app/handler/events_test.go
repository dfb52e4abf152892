package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ytbatch/app/config"
	"ytbatch/app/logger"
	"ytbatch/app/model"
	"ytbatch/app/service"
	"ytbatch/app/store"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestWriteSSEEventFrameFormat(t *testing.T) {
	w := httptest.NewRecorder()

	writeSSEEvent(w, w, "progress_update", map[string]string{"job_id": "j1"})

	body := w.Body.String()
	if !strings.HasPrefix(body, "event: progress_update\n") {
		t.Errorf("缺少事件行: %q", body)
	}
	if !strings.Contains(body, `data: {"job_id":"j1"}`) {
		t.Errorf("缺少数据行: %q", body)
	}
	if !strings.HasSuffix(body, "\n\n") {
		t.Errorf("帧末尾应为空行: %q", body)
	}
}

func TestStreamSendsSnapshotAndLiveEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("打开测试数据库失败: %v", err)
	}
	if err := db.AutoMigrate(&model.Job{}, &model.Setting{}); err != nil {
		t.Fatalf("迁移表结构失败: %v", err)
	}

	log := logger.New(config.LogConfig{Level: "error", Format: "text", Output: "stdout"})
	hub := service.NewEventHub(log)
	jobStore := store.NewJobStore(db)
	settings := service.NewSettingsService(db, log, hub)
	jobs := service.NewJobService(jobStore, settings, service.NewNoopDispatcher(log), hub, log, t.TempDir())

	if _, err := jobs.Create("batch1", []string{"https://a.example/v1"}); err != nil {
		t.Fatalf("创建任务失败: %v", err)
	}

	r := gin.New()
	r.GET("/api/events", NewEventHandler(hub, jobs, log).Stream)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		r.ServeHTTP(w, req)
		close(done)
	}()

	// 等连接建立并收到快照，再广播一条实时事件
	deadline := time.Now().Add(3 * time.Second)
	for hub.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.SubscriberCount() == 0 {
		t.Fatal("订阅未建立")
	}

	hub.Publish(model.EventProgressUpdate, map[string]string{"job_id": "j1"})
	time.Sleep(100 * time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("断开连接后处理器未退出")
	}

	body := w.Body.String()
	if !strings.Contains(body, "event: snapshot") {
		t.Errorf("缺少初始快照: %q", body)
	}
	if !strings.Contains(body, "event: progress_update") {
		t.Errorf("缺少实时事件: %q", body)
	}
	if got := w.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %s, 期望 text/event-stream", got)
	}
	if hub.SubscriberCount() != 0 {
		t.Errorf("断开后订阅者未注销: %d", hub.SubscriberCount())
	}
}
