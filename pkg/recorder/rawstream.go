package recorder

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/depthstream/depthstream/pkg/capture"
	"github.com/depthstream/depthstream/pkg/logger"
	oss "github.com/depthstream/depthstream/pkg/os"
)

// dumpQueue is how many frames can wait for the disk.
const dumpQueue = 8

type dumpJob struct {
	name string
	data []byte
}

// FrameDump saves every captured depth frame into its own .raw file,
// readable back with the replay source.
// Frames are written by a single worker, Write blocks when the queue is full.
// Write and Close must be called from the same goroutine.
type FrameDump struct {
	dir  string
	log  *logger.Logger
	jobs chan dumpJob
	wg   sync.WaitGroup

	mu     sync.Mutex
	errs   int
	closed bool
}

func NewFrameDump(dir string, log *logger.Logger) (*FrameDump, error) {
	path, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := oss.CheckCreateDir(path); err != nil {
		return nil, err
	}
	log.Info().Msgf("[recording] raw frames will be saved into [%v]", path)
	p := &FrameDump{dir: path, log: log, jobs: make(chan dumpJob, dumpQueue)}
	p.wg.Add(1)
	go p.run()
	return p, nil
}

// Write queues the frame for saving.
// The frame data is copied since it's only borrowed from the source.
func (p *FrameDump) Write(frame capture.DepthFrame) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		p.failed()
		return
	}
	data := make([]byte, frame.Size())
	copy(data, frame.Data)
	p.jobs <- dumpJob{name: capture.RawFileName(frame.Number, frame.Width, frame.Height, frame.Stride), data: data}
}

func (p *FrameDump) run() {
	defer p.wg.Done()
	for job := range p.jobs {
		if err := os.WriteFile(filepath.Join(p.dir, job.name), job.data, 0644); err != nil {
			p.log.Error().Err(err).Msgf("[recording] couldn't save %v", job.name)
			p.failed()
		}
	}
}

func (p *FrameDump) failed() {
	p.mu.Lock()
	p.errs++
	p.mu.Unlock()
}

// Errors returns the number of frames that couldn't be saved.
func (p *FrameDump) Errors() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errs
}

// Close waits for the queued frames to be saved.
func (p *FrameDump) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	close(p.jobs)
	p.wg.Wait()
	return nil
}
