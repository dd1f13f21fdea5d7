// Package encodertest provides an in-memory encoder.Service for tests.
package encodertest

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"sync"

	"github.com/depthstream/depthstream/pkg/encoder"
)

var (
	ErrSend    = errors.New("encodertest: send rejected")
	ErrReceive = errors.New("encodertest: receive failed")
)

// Service imitates an encoder that holds Delay frames back (like B-frame
// reordering) and emits one packet per frame.
// Packet payload is the 8-byte frame number followed by the CRC32 of both planes.
type Service struct {
	// Delay is the number of frames kept inside the encoder.
	Delay int
	// FailSendAt rejects the n-th (1-based) frame, 0 disables.
	FailSendAt int
	// FailReceiveAt fails the n-th (1-based) receive that has a packet, 0 disables.
	FailReceiveAt int
	// FailFlush rejects the flush signal.
	FailFlush bool

	mu        sync.Mutex
	held      []encoder.Packet
	ready     []encoder.Packet
	sent      int
	received  int
	flushed   bool
	closed    bool
	Linesizes [][2]int
	Flushes   int
	Receives  int
}

func New(delay int) *Service { return &Service{Delay: delay} }

// Payload is what the service emits for a frame.
func Payload(f *encoder.Frame) []byte {
	b := make([]byte, 12)
	binary.BigEndian.PutUint64(b, f.Number)
	c := crc32.NewIEEE()
	_, _ = c.Write(f.Planes[0].Data)
	_, _ = c.Write(f.Planes[1].Data)
	binary.BigEndian.PutUint32(b[8:], c.Sum32())
	return b
}

func (s *Service) Send(f *encoder.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f == nil {
		s.Flushes++
		if s.FailFlush {
			return ErrSend
		}
		s.flushed = true
		s.ready = append(s.ready, s.held...)
		s.held = nil
		return nil
	}
	if s.flushed {
		return errors.New("encodertest: frame after flush")
	}
	s.sent++
	if s.FailSendAt > 0 && s.sent == s.FailSendAt {
		return ErrSend
	}
	s.Linesizes = append(s.Linesizes, [2]int{f.Planes[0].Linesize, f.Planes[1].Linesize})
	s.held = append(s.held, encoder.Packet{Data: Payload(f)})
	for len(s.held) > s.Delay {
		s.ready = append(s.ready, s.held[0])
		s.held = s.held[1:]
	}
	return nil
}

func (s *Service) Receive() (*encoder.Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Receives++
	if len(s.ready) == 0 {
		if s.flushed {
			return nil, encoder.ErrEOF
		}
		return nil, nil
	}
	s.received++
	if s.FailReceiveAt > 0 && s.received == s.FailReceiveAt {
		return nil, ErrReceive
	}
	p := s.ready[0]
	s.ready = s.ready[1:]
	return &p, nil
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Service) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Sent returns the number of frames submitted, including a rejected one.
func (s *Service) Sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}
