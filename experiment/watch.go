package experiment

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch 监听文件变化并重新运行 run。多次变化在 debounce 内合并为一次，
// 运行串行执行，运行期间的变化只会再排队一次。ctx 结束时返回
func Watch(ctx context.Context, paths []string, debounce time.Duration, logger *zap.Logger, run func(context.Context) error) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(paths) == 0 {
		return fmt.Errorf("nothing to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	targets := make(map[string]bool, len(paths))
	dirs := make(map[string]bool)
	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		targets[abs] = true
		dir := filepath.Dir(abs)
		if dirs[dir] {
			continue
		}
		// 监听目录，编辑器的原子替换不会丢失 watch
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		dirs[dir] = true
	}

	pending := make(chan struct{}, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-pending:
				if err := run(ctx); err != nil {
					logger.Error("watched run failed", zap.Error(err))
				}
			}
		}
	}()
	defer wg.Wait()

	var timerMu sync.Mutex
	var timer *time.Timer
	trigger := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			select {
			case pending <- struct{}{}:
			default:
			}
		})
	}

	for {
		select {
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			abs, err := filepath.Abs(evt.Name)
			if err != nil || !targets[abs] {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			logger.Info("input changed", zap.String("path", abs), zap.String("op", evt.Op.String()))
			trigger()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", zap.Error(err))
		case <-ctx.Done():
			timerMu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timerMu.Unlock()
			return nil
		}
	}
}
