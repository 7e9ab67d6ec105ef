package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"margins/internal/pipeline"
)

var watchDebounce time.Duration

// watchCmd re-renders whenever a model file changes. Intended for
// iterating on figure configuration against fresh fitting output, not
// for production runs.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-render figures whenever a model file changes",
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 2*time.Second, "Quiet period before re-rendering")
}

func runWatch(cmd *cobra.Command, args []string) error {
	p, err := pipeline.New(cfg, logger)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Join(cfg.DataDir, "models")); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	renderAll := func() {
		man, err := p.Run(nil)
		if err != nil {
			// Keep watching: upstream may be mid-write.
			logger.Error("render failed", zap.Error(err))
			return
		}
		logger.Info("render complete", zap.String("run_id", man.RunID))
	}
	renderAll()

	var timer *time.Timer
	pending := make(chan struct{}, 1)
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(ev.Name, ".db") {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			logger.Debug("model file changed", zap.String("file", ev.Name), zap.String("op", ev.Op.String()))
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, func() {
				select {
				case pending <- struct{}{}:
				default:
				}
			})
		case <-pending:
			renderAll()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		case <-sigCh:
			logger.Info("shutting down watch")
			return nil
		}
	}
}
