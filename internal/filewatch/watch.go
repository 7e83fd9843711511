// Package filewatch 监听当前打开文件在磁盘上的外部修改。
package filewatch

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/multi-agent/deckstudio/pkg/logger"
)

// Watcher 同一时刻只跟踪一个文件; 监听其父目录以覆盖编辑器的 rename+create 写法。
type Watcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onChange chan string
	done     chan struct{}

	mu     sync.Mutex
	target string
	dir    string
	timer  *time.Timer
}

// New 创建 watcher, debounce <= 0 时取 100ms。
func New(debounce time.Duration) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	watcher := &Watcher{
		watcher:  w,
		debounce: debounce,
		onChange: make(chan string, 1),
		done:     make(chan struct{}),
	}
	go watcher.loop()
	return watcher, nil
}

// Changes 被跟踪文件变化时收到其路径。
func (w *Watcher) Changes() <-chan string {
	return w.onChange
}

// Watch 切换跟踪目标。
func (w *Watcher) Watch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)

	w.mu.Lock()
	defer w.mu.Unlock()
	if dir != w.dir {
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
		if w.dir != "" {
			_ = w.watcher.Remove(w.dir)
		}
		w.dir = dir
	}
	w.target = abs
	logger.Debug("filewatch: tracking", logger.FieldPath, abs)
	return nil
}

// Unwatch 停止跟踪。
func (w *Watcher) Unwatch() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dir != "" {
		_ = w.watcher.Remove(w.dir)
	}
	w.dir, w.target = "", ""
	if w.timer != nil {
		w.timer.Stop()
	}
}

// Close 停止监听。
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule(event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("filewatch: watcher error", logger.FieldError, err)
		}
	}
}

// schedule debounce: 每次写入重置计时器。
func (w *Watcher) schedule(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.target == "" || filepath.Clean(name) != w.target {
		return
	}
	target := w.target
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case w.onChange <- target:
		default: // already signaled, skip
		}
	})
}
