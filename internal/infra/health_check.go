package infra

import (
	"context"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

const checkExecInterval = 5 * time.Second

// MonitorExecutable signals once when the running binary is replaced on disk.
func MonitorExecutable(ctx context.Context) <-chan struct{} {
	exeFilename, err := os.Executable()
	if err != nil {
		log.WithField("error", err.Error()).Warn("cant resolve executable path for monitor")
		return make(chan struct{})
	}
	return MonitorFile(ctx, exeFilename, checkExecInterval)
}

// MonitorFile signals once when the modification time of path changes. The
// channel is closed when ctx is done.
func MonitorFile(ctx context.Context, path string, interval time.Duration) <-chan struct{} {
	ch := make(chan struct{}, 1)
	entry := log.WithFields(log.Fields{"object": "FileMonitor", "path": path})

	stat, err := os.Stat(path)
	if err != nil {
		entry.WithField("error", err.Error()).Warn("cant stat file for monitor")
		return ch
	}
	originalTime := stat.ModTime()

	go func() {
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stat, err := os.Stat(path)
				if err != nil {
					entry.WithField("error", err.Error()).Warn("cant stat file for monitor tick")
					continue
				}
				if !originalTime.Equal(stat.ModTime()) {
					ch <- struct{}{}
					return
				}
			}
		}
	}()
	return ch
}
