package filewatcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"ytbatch/app/logger"
	"ytbatch/app/service"
	"ytbatch/app/utils/urlfile"

	"github.com/fsnotify/fsnotify"
)

// settleDelay 等待文件写入稳定的时长，避免读到半个文件
const settleDelay = 500 * time.Millisecond

// InboxWatcher 收件目录监控器：放入目录的 .txt URL清单自动成为任务
type InboxWatcher struct {
	dir      string
	jobs     *service.JobService
	watcher  *fsnotify.Watcher
	log      *logger.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
	watching bool
	mu       sync.Mutex
}

// New 创建收件目录监控器
func New(dir string, jobs *service.JobService, log *logger.Logger) (*InboxWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %w", err)
	}

	return &InboxWatcher{
		dir:     dir,
		jobs:    jobs,
		watcher: watcher,
		log:     log,
		stopCh:  make(chan struct{}),
	}, nil
}

// Start 启动监控
func (w *InboxWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watching {
		return fmt.Errorf("收件目录监控器已经在运行")
	}

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("创建收件目录失败: %w", err)
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("添加监控目录失败: %w", err)
	}

	w.watching = true
	w.wg.Add(1)
	go w.watchLoop()

	w.log.Infof("收件目录监控已启动: %s", w.dir)
	return nil
}

// Stop 停止监控
func (w *InboxWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.watching {
		return nil
	}

	close(w.stopCh)
	w.watcher.Close()
	w.wg.Wait()
	w.watching = false

	w.log.Infof("收件目录监控已停止")
	return nil
}

// watchLoop 消费文件系统事件
func (w *InboxWatcher) watchLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, ".txt") {
				continue
			}
			w.handleInboxFile(event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Errorf("文件监控错误: %v", err)
		}
	}
}

// handleInboxFile 把清单文件转成任务，处理后改名避免重复导入
func (w *InboxWatcher) handleInboxFile(path string) {
	// 等待写入方写完
	time.Sleep(settleDelay)

	urls, err := urlfile.ParseFile(path)
	if err != nil {
		w.log.Errorf("解析收件清单失败: %s, 错误: %v", path, err)
		return
	}
	if len(urls) == 0 {
		w.log.Warnf("收件清单没有有效URL，跳过: %s", path)
		return
	}

	name := strings.TrimSuffix(filepath.Base(path), ".txt")
	job, err := w.jobs.Create(name, urls)
	if err != nil {
		w.log.Errorf("收件清单创建任务失败: %s, 错误: %v", path, err)
		return
	}

	if err := os.Rename(path, path+".imported"); err != nil {
		w.log.Warnf("收件清单改名失败: %s, 错误: %v", path, err)
	}

	w.log.Infof("收件清单已导入: %s -> JobID=%s, URL数=%d", filepath.Base(path), job.ID, len(urls))
}
