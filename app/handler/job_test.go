package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"ytbatch/app/config"
	"ytbatch/app/logger"
	"ytbatch/app/model"
	"ytbatch/app/service"
	"ytbatch/app/store"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
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

	jobHandler := NewJobHandler(jobs, log)
	settingsHandler := NewSettingsHandler(settings, log)

	r := gin.New()
	api := r.Group("/api")
	{
		api.POST("/jobs", jobHandler.CreateJob)
		api.GET("/jobs", jobHandler.GetJobs)
		api.GET("/jobs/:id", jobHandler.GetJob)
		api.POST("/jobs/:id/cancel", jobHandler.CancelJob)
		api.POST("/jobs/:id/retry", jobHandler.RetryJob)
		api.DELETE("/jobs/:id", jobHandler.DeleteJob)
		api.POST("/progress", jobHandler.ReportProgress)
		api.GET("/config", settingsHandler.GetConfig)
		api.PUT("/config", settingsHandler.UpdateConfig)
	}
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("编码请求体失败: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) ApiResponse {
	t.Helper()
	var resp ApiResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解码响应失败: %v, body=%s", err, w.Body.String())
	}
	return resp
}

func TestCreateJobFromJSON(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/jobs", map[string]any{
		"name": "batch1",
		"urls": []string{"https://a.example/v1", "https://a.example/v2"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("状态码 = %d, 期望 200, body=%s", w.Code, w.Body.String())
	}

	resp := decodeResponse(t, w)
	job, ok := resp.Data.(map[string]any)
	if !ok {
		t.Fatalf("响应 Data 不是对象: %v", resp.Data)
	}
	if job["status"] != string(model.JobStatusQueued) {
		t.Errorf("status = %v, 期望 queued", job["status"])
	}
	if job["total_items"] != float64(2) {
		t.Errorf("total_items = %v, 期望 2", job["total_items"])
	}
	if job["id"] == "" {
		t.Error("任务ID不应为空")
	}
}

func TestCreateJobRejectsEmptyURLs(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/jobs", map[string]any{
		"name": "batch1",
		"urls": []string{},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("状态码 = %d, 期望 400", w.Code)
	}
}

func TestGetJobUnknownIDReturns404(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/jobs/no-such-id", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("状态码 = %d, 期望 404", w.Code)
	}
}

func TestReportProgressUnknownJobReturns404(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/progress", map[string]any{
		"job_id":     "no-such-id",
		"item_label": "video_001",
		"status":     "downloading",
		"percent":    10,
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("状态码 = %d, 期望 404", w.Code)
	}
}

func TestReportProgressRequiresJobID(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/progress", map[string]any{
		"item_label": "video_001",
		"status":     "downloading",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("状态码 = %d, 期望 400", w.Code)
	}
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/jobs", map[string]any{
		"name": "batch1",
		"urls": []string{"https://a.example/v1"},
	})
	resp := decodeResponse(t, w)
	jobID := resp.Data.(map[string]any)["id"].(string)

	// 取消排队任务
	w = doJSON(t, r, http.MethodPost, "/api/jobs/"+jobID+"/cancel", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("取消状态码 = %d, 期望 200", w.Code)
	}

	// 终态任务重复取消冲突
	w = doJSON(t, r, http.MethodPost, "/api/jobs/"+jobID+"/cancel", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("重复取消状态码 = %d, 期望 409", w.Code)
	}

	// 已取消的任务可以重试
	w = doJSON(t, r, http.MethodPost, "/api/jobs/"+jobID+"/retry", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("重试状态码 = %d, 期望 200", w.Code)
	}
	resp = decodeResponse(t, w)
	if resp.Data.(map[string]any)["status"] != string(model.JobStatusQueued) {
		t.Errorf("重试后 status = %v, 期望 queued", resp.Data.(map[string]any)["status"])
	}

	// 删除后再删除仍然成功
	w = doJSON(t, r, http.MethodDelete, "/api/jobs/"+jobID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("删除状态码 = %d, 期望 200", w.Code)
	}
	w = doJSON(t, r, http.MethodDelete, "/api/jobs/"+jobID, nil)
	if w.Code != http.StatusOK {
		t.Errorf("重复删除状态码 = %d, 期望 200", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/api/jobs/"+jobID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("删除后查询状态码 = %d, 期望 404", w.Code)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/config", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("读取配置状态码 = %d, 期望 200", w.Code)
	}
	resp := decodeResponse(t, w)
	cfg := resp.Data.(map[string]any)
	if cfg["theme"] != "dark" {
		t.Errorf("theme = %v, 期望默认 dark", cfg["theme"])
	}

	w = doJSON(t, r, http.MethodPut, "/api/config", map[string]any{"video_quality": "720p"})
	if w.Code != http.StatusOK {
		t.Fatalf("更新配置状态码 = %d, 期望 200", w.Code)
	}
	resp = decodeResponse(t, w)
	cfg = resp.Data.(map[string]any)
	if cfg["video_quality"] != "720p" {
		t.Errorf("video_quality = %v, 期望 720p", cfg["video_quality"])
	}
	if cfg["theme"] != "dark" {
		t.Errorf("未触及的 theme = %v, 期望保持 dark", cfg["theme"])
	}
}
