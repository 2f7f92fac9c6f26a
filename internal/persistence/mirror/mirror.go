package mirror

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Stats is a point-in-time snapshot of the upload queue.
type Stats struct {
	QueueDepth    int
	QueueCapacity int
	Enqueued      uint64
	Dropped       uint64
	Uploaded      uint64
	Failed        uint64
}

// Mirror uploads files under saveDir as they are written. Enqueue never
// blocks the caller for more than enqueueWait; a saturated queue drops
// the oldest-news upload rather than stalling an autosave.
type Mirror struct {
	client  *Client
	saveDir string
	prefix  string
	log     *log.Logger

	jobs        chan string
	enqueueWait time.Duration
	wg          sync.WaitGroup

	enqueued atomic.Uint64
	dropped  atomic.Uint64
	uploaded atomic.Uint64
	failed   atomic.Uint64
}

func New(client *Client, saveDir, prefix string, workers int, logger *log.Logger) *Mirror {
	if workers <= 0 {
		workers = 1
	}
	m := &Mirror{
		client:      client,
		saveDir:     saveDir,
		prefix:      strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/"),
		log:         logger,
		jobs:        make(chan string, 256),
		enqueueWait: 100 * time.Millisecond,
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for p := range m.jobs {
				m.upload(p)
			}
		}()
	}
	return m
}

// Enqueue schedules localPath for upload. Safe on a nil mirror.
func (m *Mirror) Enqueue(localPath string) {
	if m == nil || m.client == nil {
		return
	}
	m.enqueued.Add(1)
	select {
	case m.jobs <- localPath:
		return
	default:
	}
	t := time.NewTimer(m.enqueueWait)
	defer t.Stop()
	select {
	case m.jobs <- localPath:
	case <-t.C:
		m.dropped.Add(1)
		m.printf("save mirror dropped %s (queue full)", localPath)
	}
}

// Close drains the queue and waits for in-flight uploads.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	close(m.jobs)
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(m.jobs),
		QueueCapacity: cap(m.jobs),
		Enqueued:      m.enqueued.Load(),
		Dropped:       m.dropped.Load(),
		Uploaded:      m.uploaded.Load(),
		Failed:        m.failed.Load(),
	}
}

func (m *Mirror) upload(localPath string) {
	key, err := m.objectKey(localPath)
	if err != nil {
		m.printf("save mirror skipped %s: %v", localPath, err)
		return
	}

	const attempts = 3
	var lastErr error
	for i := 1; i <= attempts; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		lastErr = m.client.PutFile(ctx, key, localPath)
		cancel()
		if lastErr == nil {
			m.uploaded.Add(1)
			m.printf("save mirror uploaded %s", key)
			return
		}
		if i < attempts {
			time.Sleep(time.Duration(i*i) * 200 * time.Millisecond)
		}
	}
	m.failed.Add(1)
	m.printf("save mirror failed %s: %v", key, lastErr)
}

// objectKey maps a local save path to its bucket key, relative to the
// save directory.
func (m *Mirror) objectKey(localPath string) (string, error) {
	if localPath == "" {
		return "", fmt.Errorf("empty path")
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	absDir, err := filepath.Abs(m.saveDir)
	if err != nil {
		return "", err
	}
	absLocal, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absDir, absLocal)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside the save dir %s", absLocal, absDir)
	}
	if m.prefix != "" {
		rel = path.Join(m.prefix, rel)
	}
	return rel, nil
}

func (m *Mirror) printf(format string, args ...any) {
	if m.log != nil {
		m.log.Printf(format, args...)
	}
}
