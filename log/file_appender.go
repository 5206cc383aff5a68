package log

import (
	"bytes"
	"sync"
	"time"
)

const (
	_asyncByteSizePerIOWrite = 4 << 20
)

// FileAppender writes events to a size rotated file. In async mode Write
// only queues the event; a background goroutine batches queued events into
// one write every AsyncWriteInterval, or sooner when the queue fills up.
type FileAppender struct {
	lock    sync.Mutex
	file    *rotatingFile
	isAsync bool

	bufChan    chan *bytes.Buffer
	flushChan  chan chan struct{}
	closeOnce  sync.Once
	done       chan struct{}
	batch      *bytes.Buffer
	bufferPool sync.Pool
	interval   time.Duration
}

// NewFileAppender opens nothing until the first write. cfg must be valid.
func NewFileAppender(cfg *LogCfg) *FileAppender {
	a := &FileAppender{
		file:     newRotatingFile(cfg.LogPath, cfg.FileSplitMB, cfg.MaxBackups),
		isAsync:  cfg.IsAsync,
		interval: cfg.AsyncWriteInterval,
	}
	if a.isAsync {
		a.bufferPool.New = func() any { return &bytes.Buffer{} }
		a.batch = bytes.NewBuffer(make([]byte, 0, 64<<10))
		a.bufChan = make(chan *bytes.Buffer, cfg.AsyncCacheSize)
		a.flushChan = make(chan chan struct{})
		a.done = make(chan struct{})
		go a.asyncWriteLoop()
	}
	return a
}

func (a *FileAppender) Write(buf []byte) (int, error) {
	if !a.isAsync {
		return a.writeSync(buf)
	}

	b := a.bufferPool.Get().(*bytes.Buffer)
	b.Reset()
	b.Write(buf)
	select {
	case a.bufChan <- b:
	case <-a.done:
		a.bufferPool.Put(b)
		return a.writeSync(buf)
	}
	return len(buf), nil
}

// Refresh waits until every queued event is written and synced.
func (a *FileAppender) Refresh() error {
	if !a.isAsync {
		a.lock.Lock()
		defer a.lock.Unlock()
		return a.file.Sync()
	}
	ack := make(chan struct{})
	select {
	case a.flushChan <- ack:
		<-ack
	case <-a.done:
	}
	return nil
}

// Close flushes queued events and closes the file.
func (a *FileAppender) Close() error {
	if a.isAsync {
		a.closeOnce.Do(func() {
			ack := make(chan struct{})
			a.flushChan <- ack
			<-ack
			close(a.done)
		})
	}
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.file.Close()
}

func (a *FileAppender) writeSync(buf []byte) (int, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.file.Write(buf)
}

func (a *FileAppender) drain() {
	for {
		select {
		case b := <-a.bufChan:
			if a.batch.Len()+b.Len() > _asyncByteSizePerIOWrite {
				a.flushBatch()
			}
			a.batch.Write(b.Bytes())
			a.bufferPool.Put(b)
		default:
			a.flushBatch()
			return
		}
	}
}

func (a *FileAppender) flushBatch() {
	if a.batch.Len() == 0 {
		return
	}
	_, _ = a.writeSync(a.batch.Bytes())
	a.batch.Reset()
}

func (a *FileAppender) asyncWriteLoop() {
	t := time.NewTicker(a.interval)
	defer t.Stop()
	for {
		select {
		case ack := <-a.flushChan:
			a.drain()
			a.lock.Lock()
			_ = a.file.Sync()
			a.lock.Unlock()
			close(ack)
		case <-t.C:
			a.drain()
		case <-a.done:
			a.drain()
			return
		}
	}
}
