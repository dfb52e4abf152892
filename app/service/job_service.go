package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"ytbatch/app/logger"
	"ytbatch/app/model"
	"ytbatch/app/store"
	"ytbatch/app/utils/urlfile"

	"github.com/patrickmn/go-cache"
)

const (
	// queueCapacity 排队任务缓冲上限
	queueCapacity = 1024
	// stateRetention 终态任务的条目进度在内存中保留的时长
	stateRetention = 24 * time.Hour
)

// itemProgress 单个条目的最新进度，同一条目后到的事件覆盖先到的
type itemProgress struct {
	Status  string
	Percent int
}

// jobState 单个任务的瞬态聚合状态，mu 串行化该任务的全部事件
type jobState struct {
	mu     sync.Mutex
	total  int
	urls   []string
	items  map[string]itemProgress
	done   chan struct{}
	closed bool
}

func newJobState(total int, urls []string) *jobState {
	return &jobState{
		total: total,
		urls:  urls,
		items: make(map[string]itemProgress),
		done:  make(chan struct{}),
	}
}

// finish 标记任务收尾，重复调用无效果
func (st *jobState) finish() {
	if !st.closed {
		st.closed = true
		close(st.done)
	}
}

// JobService 任务生命周期控制器：持有合法状态迁移、
// 聚合条目进度、按配置的并发上限派发排队任务
type JobService struct {
	store      *store.JobStore
	settings   *SettingsService
	dispatcher Dispatcher
	hub        *EventHub
	log        *logger.Logger
	inputDir   string

	// states 按任务ID缓存条目进度，终态后带TTL等待回收
	states  *cache.Cache
	stateMu sync.Mutex

	queue   chan string
	workers chan struct{} // 控制并发任务数的信号量
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewJobService 创建任务生命周期控制器
func NewJobService(st *store.JobStore, settings *SettingsService, dispatcher Dispatcher, hub *EventHub, log *logger.Logger, inputDir string) *JobService {
	return &JobService{
		store:      st,
		settings:   settings,
		dispatcher: dispatcher,
		hub:        hub,
		log:        log,
		inputDir:   inputDir,
		states:     cache.New(cache.NoExpiration, 30*time.Minute),
		queue:      make(chan string, queueCapacity),
	}
}

// Create 创建新任务并排队等待派发，空URL列表直接拒绝
func (s *JobService) Create(name string, urls []string) (*model.Job, error) {
	cleaned := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			cleaned = append(cleaned, u)
		}
	}
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("%w: URL列表为空", ErrInvalidInput)
	}

	job, err := s.store.Create(name, len(cleaned))
	if err != nil {
		return nil, err
	}

	// URL清单落盘，进程重启后据此恢复排队任务
	if err := s.writeURLFile(job.ID, cleaned); err != nil {
		s.log.Warnf("写入URL清单失败: JobID=%s, 错误: %v", job.ID, err)
	}

	s.stateMu.Lock()
	s.states.Set(job.ID, newJobState(len(cleaned), cleaned), cache.NoExpiration)
	s.stateMu.Unlock()

	s.hub.Publish(model.EventNewJob, job)
	s.log.Infof("任务已创建: JobID=%s, Name=%s, URL数=%d", job.ID, job.Name, len(cleaned))

	s.enqueue(job.ID)
	return job, nil
}

// Get 获取单个任务
func (s *JobService) Get(id string) (*model.Job, error) {
	return s.store.Get(id)
}

// List 获取最近任务列表
func (s *JobService) List(limit int) ([]model.Job, error) {
	return s.store.List(limit)
}

// Cancel 取消排队中的任务，已派发的任务由外部执行单元跑完为止
func (s *JobService) Cancel(id string) (*model.Job, error) {
	st := s.stateFor(id, 0)
	st.mu.Lock()
	defer st.mu.Unlock()

	job, err := s.store.Get(id)
	if err != nil {
		s.states.Delete(id)
		return nil, err
	}
	if !job.CanCancel() {
		return nil, fmt.Errorf("%w: 当前状态为 %s", ErrNotCancellable, job.Status)
	}

	fields := map[string]any{
		"status":        model.JobStatusCancelled,
		"progress_text": "Cancelled",
	}
	if err := s.store.Update(id, fields); err != nil {
		return nil, err
	}
	st.finish()
	s.states.Set(id, st, stateRetention)

	job.Status = model.JobStatusCancelled
	job.ProgressText = "Cancelled"
	s.hub.Publish(model.EventJobUpdate, job)
	s.hub.Publish(model.EventJobCompleted, job)
	s.log.Infof("任务已取消: JobID=%s", id)
	return job, nil
}

// Retry 重新排队失败或已取消的任务：进度清零、错误清空
func (s *JobService) Retry(id string) (*model.Job, error) {
	job, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if !job.CanRetry() {
		return nil, fmt.Errorf("%w: 当前状态为 %s", ErrNotRetryable, job.Status)
	}

	fields := map[string]any{
		"status":        model.JobStatusQueued,
		"progress":      0,
		"progress_text": "Queued",
		"error":         "",
	}
	if err := s.store.Update(id, fields); err != nil {
		return nil, err
	}

	// 条目进度全部作废，重建聚合状态
	s.stateMu.Lock()
	s.states.Set(id, newJobState(job.TotalItems, s.loadURLs(id)), cache.NoExpiration)
	s.stateMu.Unlock()

	job.Status = model.JobStatusQueued
	job.Progress = 0
	job.ProgressText = "Queued"
	job.Error = ""
	s.hub.Publish(model.EventJobUpdate, job)
	s.log.Infof("任务已重新排队: JobID=%s", id)

	s.enqueue(id)
	return job, nil
}

// Delete 删除任务，任何状态均可删除，重复删除不视为错误
func (s *JobService) Delete(id string) error {
	if err := s.store.Delete(id); err != nil {
		return err
	}

	s.stateMu.Lock()
	if v, ok := s.states.Get(id); ok {
		st := v.(*jobState)
		st.mu.Lock()
		st.finish()
		st.mu.Unlock()
		s.states.Delete(id)
	}
	s.stateMu.Unlock()

	// URL清单一并清除
	_ = os.Remove(s.urlFilePath(id))

	s.hub.Publish(model.EventJobDeleted, map[string]string{"job_id": id})
	s.log.Infof("任务已删除: JobID=%s", id)
	return nil
}

// ReportProgress 接收外部执行单元上报的条目进度事件。
// 同一条目的事件后到覆盖先到，重复与乱序均可容忍；
// 终态任务的事件直接忽略
func (s *JobService) ReportProgress(event model.ProgressEvent) error {
	job, err := s.store.Get(event.JobID)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		s.log.Debugf("忽略终态任务的进度事件: JobID=%s", job.ID)
		return nil
	}

	st := s.stateFor(job.ID, job.TotalItems)
	st.mu.Lock()
	defer st.mu.Unlock()

	// 任务级事件：条目标签为空
	if event.ItemLabel == "" {
		return s.applyJobEvent(job, st, event)
	}
	return s.applyItemEvent(job, st, event)
}

// applyJobEvent 处理任务级事件（收尾汇总或整体失败）
func (s *JobService) applyJobEvent(job *model.Job, st *jobState, event model.ProgressEvent) error {
	switch event.Status {
	case model.ItemStatusJobSummary, "job_completed":
		return s.finalize(job, st)
	case model.ItemStatusFailed, "job_failed":
		// 外部执行单元显式宣告整体失败
		return s.fail(job, st, "worker reported job failure")
	default:
		// 未识别的任务级状态原样进入 progress_text
		fields := map[string]any{"progress_text": event.Status}
		if err := s.store.Update(job.ID, fields); err != nil {
			return err
		}
		job.ProgressText = event.Status
		s.publishProgress(job, event)
		return nil
	}
}

// applyItemEvent 处理条目级事件并重算任务级进度
func (s *JobService) applyItemEvent(job *model.Job, st *jobState, event model.ProgressEvent) error {
	percent := 0
	if event.Percent != nil {
		percent = *event.Percent
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if event.Status == model.ItemStatusCompleted {
		percent = 100
	}

	st.items[event.ItemLabel] = itemProgress{Status: event.Status, Percent: percent}

	// 全部条目尘埃落定则直接收尾，不必等待汇总事件
	if st.total > 0 && s.settledCount(st) >= st.total {
		return s.finalize(job, st)
	}

	progress := s.aggregate(job, st)
	text := fmt.Sprintf("%s: %s", event.ItemLabel, event.Status)

	fields := map[string]any{
		"progress":      progress,
		"progress_text": text,
	}
	if err := s.store.Update(job.ID, fields); err != nil {
		return err
	}

	job.Progress = progress
	job.ProgressText = text
	s.publishProgress(job, event)
	return nil
}

// aggregate 任务级进度 = floor(各条目进度之和 / 条目总数)，
// 运行期间单调不减，失败条目计为0
func (s *JobService) aggregate(job *model.Job, st *jobState) int {
	if st.total <= 0 {
		return job.Progress
	}

	sum := 0
	for _, item := range st.items {
		switch item.Status {
		case model.ItemStatusFailed:
			// 计为0
		case model.ItemStatusCompleted:
			sum += 100
		default:
			sum += item.Percent
		}
	}

	progress := sum / st.total
	if progress > 100 {
		progress = 100
	}
	if progress < job.Progress {
		progress = job.Progress
	}
	return progress
}

// settledCount 已结束（完成或失败）的条目数
func (s *JobService) settledCount(st *jobState) int {
	n := 0
	for _, item := range st.items {
		if item.Status == model.ItemStatusCompleted || item.Status == model.ItemStatusFailed {
			n++
		}
	}
	return n
}

// finalize 按条目结果收尾：只要有条目成功即视为完成，
// 全部失败才算任务失败（尽力而为的批处理语义）
func (s *JobService) finalize(job *model.Job, st *jobState) error {
	completed := 0
	failed := 0
	for _, item := range st.items {
		switch item.Status {
		case model.ItemStatusCompleted:
			completed++
		case model.ItemStatusFailed:
			failed++
		}
	}

	if completed == 0 && st.total > 0 {
		return s.fail(job, st, "All downloads failed")
	}

	fields := map[string]any{
		"status":        model.JobStatusCompleted,
		"progress":      100,
		"progress_text": fmt.Sprintf("Done: %d ok, %d error", completed, failed),
	}
	if err := s.store.Update(job.ID, fields); err != nil {
		return err
	}
	st.finish()
	s.states.Set(job.ID, st, stateRetention)

	job.Status = model.JobStatusCompleted
	job.Progress = 100
	job.ProgressText = fields["progress_text"].(string)
	s.hub.Publish(model.EventJobUpdate, job)
	s.hub.Publish(model.EventJobCompleted, job)
	s.log.Infof("任务已完成: JobID=%s, 成功=%d, 失败=%d", job.ID, completed, failed)
	return nil
}

// fail 任务整体失败，error 仅在此处写入
func (s *JobService) fail(job *model.Job, st *jobState, reason string) error {
	fields := map[string]any{
		"status":        model.JobStatusFailed,
		"progress_text": "Failed",
		"error":         reason,
	}
	if err := s.store.Update(job.ID, fields); err != nil {
		return err
	}
	st.finish()
	s.states.Set(job.ID, st, stateRetention)

	job.Status = model.JobStatusFailed
	job.ProgressText = "Failed"
	job.Error = reason
	s.hub.Publish(model.EventJobUpdate, job)
	s.hub.Publish(model.EventJobCompleted, job)
	s.log.Warnf("任务失败: JobID=%s, 原因: %s", job.ID, reason)
	return nil
}

// publishProgress 广播条目进度与任务快照
func (s *JobService) publishProgress(job *model.Job, event model.ProgressEvent) {
	s.hub.Publish(model.EventProgressUpdate, map[string]any{
		"job_id":     event.JobID,
		"item_label": event.ItemLabel,
		"status":     event.Status,
		"percent":    event.Percent,
		"timestamp":  time.Now().Unix(),
	})
	s.hub.Publish(model.EventJobUpdate, job)
}

// Start 启动派发循环：恢复遗留任务后以推送方式消费队列
func (s *JobService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.log.Warnf("任务派发循环已经在运行中")
		return
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.workers = make(chan struct{}, s.settings.MaxConcurrent())
	s.running = true

	s.recoverJobs()

	s.wg.Add(1)
	go s.runLoop()

	s.log.Infof("任务派发循环已启动，并发上限: %d", cap(s.workers))
}

// Stop 停止派发循环
func (s *JobService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.cancel()
	s.wg.Wait()
	s.running = false
	s.log.Infof("任务派发循环已停止")
}

// SetConcurrency 调整并发上限。在途任务持有旧信号量的槽位，
// 会向旧通道归还，新派发使用新通道
func (s *JobService) SetConcurrency(n int) {
	if n <= 0 {
		n = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}

	s.workers = make(chan struct{}, n)
	s.log.Infof("并发上限已调整为: %d", n)
}

// runLoop 派发循环：排队任务到达即占用槽位派发，无轮询
func (s *JobService) runLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case id := <-s.queue:
			s.mu.Lock()
			slots := s.workers
			s.mu.Unlock()

			select {
			case <-s.ctx.Done():
				return
			case slots <- struct{}{}:
				s.dispatchJob(id, slots)
			}
		}
	}
}

// dispatchJob 把一个排队任务交给派发边界，终态时归还槽位
func (s *JobService) dispatchJob(id string, slots chan struct{}) {
	release := func() { <-slots }

	st := s.stateFor(id, 0)
	st.mu.Lock()

	job, err := s.store.Get(id)
	if err != nil || job.Status != model.JobStatusQueued {
		// 排队期间被取消或删除
		st.mu.Unlock()
		release()
		return
	}

	fields := map[string]any{
		"status":        model.JobStatusRunning,
		"progress_text": "Initializing...",
	}
	if err := s.store.Update(id, fields); err != nil {
		s.log.Errorf("标记任务运行失败: JobID=%s, 错误: %v", id, err)
		st.mu.Unlock()
		release()
		return
	}
	job.Status = model.JobStatusRunning
	job.ProgressText = "Initializing..."
	urls := st.urls
	st.mu.Unlock()

	s.hub.Publish(model.EventJobUpdate, job)

	if err := s.dispatcher.Dispatch(s.ctx, id, urls); err != nil {
		st.mu.Lock()
		_ = s.fail(job, st, fmt.Sprintf("dispatch failed: %v", err))
		st.mu.Unlock()
		release()
		return
	}

	// 等任务进入终态再归还槽位，保证同时运行的任务数不超上限
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer release()
		select {
		case <-st.done:
		case <-s.ctx.Done():
		}
	}()
}

// recoverJobs 启动恢复：上次运行中的任务回到排队态，排队任务重新入队
func (s *JobService) recoverJobs() {
	running, err := s.store.ListByStatus(model.JobStatusRunning)
	if err != nil {
		s.log.Errorf("恢复运行中任务失败: %v", err)
	}
	for _, job := range running {
		fields := map[string]any{
			"status":        model.JobStatusQueued,
			"progress":      0,
			"progress_text": "Queued",
		}
		if err := s.store.Update(job.ID, fields); err != nil {
			s.log.Errorf("重置任务状态失败: JobID=%s, 错误: %v", job.ID, err)
		}
	}

	queued, err := s.store.ListByStatus(model.JobStatusQueued)
	if err != nil {
		s.log.Errorf("恢复排队任务失败: %v", err)
		return
	}
	for _, job := range queued {
		urls := s.loadURLs(job.ID)
		if len(urls) == 0 {
			st := s.stateFor(job.ID, job.TotalItems)
			st.mu.Lock()
			_ = s.fail(&job, st, "input list missing")
			st.mu.Unlock()
			continue
		}

		s.stateMu.Lock()
		s.states.Set(job.ID, newJobState(job.TotalItems, urls), cache.NoExpiration)
		s.stateMu.Unlock()
		s.enqueue(job.ID)
	}

	if len(queued) > 0 || len(running) > 0 {
		s.log.Infof("启动恢复完成: 重新排队 %d 个任务", len(queued)+len(running))
	}
}

// stateFor 获取或重建任务的聚合状态
func (s *JobService) stateFor(id string, total int) *jobState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if v, ok := s.states.Get(id); ok {
		return v.(*jobState)
	}

	urls := s.loadURLs(id)
	if total == 0 {
		total = len(urls)
	}
	st := newJobState(total, urls)
	s.states.Set(id, st, cache.NoExpiration)
	return st
}

// enqueue 入队等待派发，队列满视为异常但任务仍保持排队态
func (s *JobService) enqueue(id string) {
	select {
	case s.queue <- id:
	default:
		s.log.Errorf("派发队列已满，任务滞留排队态: JobID=%s", id)
	}
}

func (s *JobService) urlFilePath(id string) string {
	return filepath.Join(s.inputDir, id+".txt")
}

func (s *JobService) writeURLFile(id string, urls []string) error {
	if err := os.MkdirAll(s.inputDir, 0755); err != nil {
		return err
	}
	content := strings.Join(urls, "\n") + "\n"
	return os.WriteFile(s.urlFilePath(id), []byte(content), 0644)
}

func (s *JobService) loadURLs(id string) []string {
	urls, err := urlfile.ParseFile(s.urlFilePath(id))
	if err != nil {
		return nil
	}
	return urls
}
