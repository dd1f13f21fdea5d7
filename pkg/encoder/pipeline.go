package encoder

import (
	"errors"

	"github.com/depthstream/depthstream/pkg/logger"
)

type State int32

const (
	Idle State = iota
	Streaming
	Flushing
	Drained
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Streaming:
		return "streaming"
	case Flushing:
		return "flushing"
	case Drained:
		return "drained"
	}
	return "unknown"
}

// Pipeline drives the send/receive protocol of a Service:
//
//	Idle -> Streaming -> Flushing -> Drained
//
// It is not safe for concurrent use.
type Pipeline struct {
	svc     Service
	log     *logger.Logger
	state   State
	seq     uint64
	flushed bool
	closed  bool

	OnState func(State)
}

func NewPipeline(svc Service, log *logger.Logger) *Pipeline {
	if log == nil {
		log = logger.Default()
	}
	return &Pipeline{svc: svc, log: log}
}

func (p *Pipeline) State() State { return p.state }

func (p *Pipeline) setState(s State) {
	if p.state == s {
		return
	}
	p.log.Debug().Msgf("encoder: %v -> %v", p.state, s)
	p.state = s
	if p.OnState != nil {
		p.OnState(s)
	}
}

// Submit sends a frame to the encoder, nil starts flushing.
func (p *Pipeline) Submit(frame *Frame) error {
	if p.state >= Flushing {
		return &SubmitError{Flush: frame == nil, Err: ErrFlushed}
	}
	if frame == nil {
		p.setState(Flushing)
		if err := p.svc.Send(nil); err != nil {
			return &SubmitError{Flush: true, Err: err}
		}
		return nil
	}
	p.setState(Streaming)
	if err := p.svc.Send(frame); err != nil {
		return &SubmitError{Frame: frame.Number, Err: err}
	}
	return nil
}

// DrainReady collects the packets the encoder has ready.
// On failure the packets drained so far are returned with the error.
func (p *Pipeline) DrainReady() (packets []Packet, err error) {
	if p.state == Drained {
		return nil, nil
	}
	for {
		pkt, err := p.svc.Receive()
		if err != nil {
			if errors.Is(err, ErrEOF) {
				p.drained()
				return packets, nil
			}
			return packets, &ReceiveError{Err: err}
		}
		if pkt == nil {
			p.drained()
			return packets, nil
		}
		pkt.Seq = p.seq
		p.seq++
		packets = append(packets, *pkt)
	}
}

func (p *Pipeline) drained() {
	if p.state == Flushing {
		p.setState(Drained)
	}
}

// Flush signals the end of stream and drains whatever the encoder
// still holds. It runs once even if the stream failed before.
func (p *Pipeline) Flush() ([]Packet, error) {
	if p.flushed {
		return nil, ErrAlreadyFlushed
	}
	p.flushed = true

	var sendErr error
	if p.state < Flushing {
		sendErr = p.Submit(nil)
		if sendErr != nil {
			p.log.Warn().Err(sendErr).Msg("encoder: flush signal failed, draining anyway")
		}
	}
	packets, err := p.DrainReady()
	p.setState(Drained)
	if sendErr != nil {
		return packets, sendErr
	}
	return packets, err
}

// Packets returns the number of packets drained so far.
func (p *Pipeline) Packets() uint64 { return p.seq }

// Close ends the encoder session.
func (p *Pipeline) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return p.svc.Close()
}
