package recorder

import (
	"fmt"
	"io"

	"github.com/depthstream/depthstream/pkg/encoder"
	oss "github.com/depthstream/depthstream/pkg/os"
)

// IoError is a failed output write.
type IoError struct {
	Seq uint64
	Err error
}

func (e *IoError) Error() string { return fmt.Sprintf("failed to write packet %v: %v", e.Seq, e.Err) }
func (e *IoError) Unwrap() error { return e.Err }

// Sink appends packet payloads to an output stream in the order they come.
// Nothing is rolled back on failure.
type Sink struct {
	w       io.Writer
	c       io.Closer
	lock    *oss.Flock
	path    string
	packets uint64
	bytes   int64
}

func NewSink(w io.Writer) *Sink { return &Sink{w: w} }

// OpenFile creates (or truncates) the output file and locks it
// for the lifetime of the sink.
func OpenFile(path string) (*Sink, error) {
	lock, err := oss.NewFileLock(path)
	if err != nil {
		return nil, err
	}
	if err = lock.TryLock(); err != nil {
		return nil, err
	}
	f, err := oss.CreateFile(path)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	return &Sink{w: f, c: f, lock: lock, path: path}, nil
}

func (s *Sink) Write(p encoder.Packet) error {
	n, err := s.w.Write(p.Data)
	s.bytes += int64(n)
	if err == nil && n < len(p.Data) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return &IoError{Seq: p.Seq, Err: err}
	}
	s.packets++
	return nil
}

func (s *Sink) Packets() uint64 { return s.packets }
func (s *Sink) Bytes() int64    { return s.bytes }
func (s *Sink) Path() string    { return s.path }

func (s *Sink) Close() (err error) {
	if s.c != nil {
		err = s.c.Close()
		s.c = nil
	}
	if s.lock != nil {
		if e := s.lock.Unlock(); err == nil {
			err = e
		}
		s.lock = nil
	}
	return
}
