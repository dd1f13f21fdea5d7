//go:build astiav

// Package libav encodes frames in-process with libavcodec.
// VAAPI codecs get frames uploaded into hardware surfaces of the
// configured render node.
package libav

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/asticode/go-astiav"
	"github.com/depthstream/depthstream/pkg/encoder"
	"github.com/depthstream/depthstream/pkg/encoder/yuv"
	"github.com/depthstream/depthstream/pkg/logger"
)

const DefaultDevice = "/dev/dri/renderD128"

type Encoder struct {
	conf encoder.Config
	log  *logger.Logger

	codec  *astiav.CodecContext
	device *astiav.HardwareDeviceContext
	frames *astiav.HardwareFramesContext
	sw     *astiav.Frame
	hw     *astiav.Frame
	pkt    *astiav.Packet
	buf    []byte
	pts    int64
}

func init() {
	encoder.Register("libav", func(conf encoder.Config, log *logger.Logger) (encoder.Service, error) {
		return NewEncoder(conf, log)
	})
}

func NewEncoder(conf encoder.Config, log *logger.Logger) (enc *Encoder, err error) {
	codec := astiav.FindEncoderByName(conf.Codec)
	if codec == nil {
		return nil, fmt.Errorf("no %v encoder", conf.Codec)
	}
	e := &Encoder{conf: conf, log: log.Tag("libav")}
	defer func() {
		if err != nil {
			_ = e.Close()
		}
	}()

	if e.codec = astiav.AllocCodecContext(codec); e.codec == nil {
		return nil, errors.New("codec context allocation failed")
	}
	e.codec.SetWidth(conf.Width)
	e.codec.SetHeight(conf.Height)
	e.codec.SetTimeBase(astiav.NewRational(1, conf.Framerate))
	e.codec.SetFramerate(astiav.NewRational(conf.Framerate, 1))
	if conf.Bitrate > 0 {
		e.codec.SetBitRate(int64(conf.Bitrate))
	}

	swFormat := astiav.PixelFormatP010Le
	if conf.IsVaapi() {
		dev := conf.Device
		if dev == "" {
			dev = DefaultDevice
		}
		if e.device, err = astiav.CreateHardwareDeviceContext(astiav.HardwareDeviceTypeVAAPI, dev, nil, 0); err != nil {
			return nil, fmt.Errorf("vaapi device %v: %w", dev, err)
		}
		if e.frames = astiav.AllocHardwareFramesContext(e.device); e.frames == nil {
			return nil, errors.New("hardware frames context allocation failed")
		}
		e.frames.SetHardwarePixelFormat(astiav.PixelFormatVaapi)
		e.frames.SetSoftwarePixelFormat(swFormat)
		e.frames.SetWidth(conf.Width)
		e.frames.SetHeight(conf.Height)
		e.frames.SetInitialPoolSize(20)
		if err = e.frames.Initialize(); err != nil {
			return nil, fmt.Errorf("hardware frames: %w", err)
		}
		e.codec.SetPixelFormat(astiav.PixelFormatVaapi)
		e.codec.SetHardwareFramesContext(e.frames)
		e.hw = astiav.AllocFrame()
	} else {
		e.codec.SetPixelFormat(swFormat)
	}

	opts := astiav.NewDictionary()
	defer opts.Free()
	_ = opts.Set("bf", strconv.Itoa(conf.MaxBFrames), 0)
	if conf.Profile != "" {
		_ = opts.Set("profile", conf.Profile, 0)
	}
	if err = e.codec.Open(codec, opts); err != nil {
		return nil, fmt.Errorf("open %v: %w", conf.Codec, err)
	}

	e.sw = astiav.AllocFrame()
	e.sw.SetWidth(conf.Width)
	e.sw.SetHeight(conf.Height)
	e.sw.SetPixelFormat(swFormat)
	if err = e.sw.AllocBuffer(0); err != nil {
		return nil, fmt.Errorf("frame buffer: %w", err)
	}
	e.pkt = astiav.AllocPacket()
	e.log.Info().Msgf("%v %vx%v@%v bf=%v", conf.Codec, conf.Width, conf.Height, conf.Framerate, conf.MaxBFrames)
	return e, nil
}

func (e *Encoder) Send(frame *encoder.Frame) error {
	if frame == nil {
		return e.codec.SendFrame(nil)
	}
	e.buf = yuv.Pack(e.buf, frame, e.conf.Width, e.conf.Height)
	if err := e.sw.MakeWritable(); err != nil {
		return err
	}
	if err := e.sw.Data().SetBytes(e.buf, 1); err != nil {
		return err
	}
	e.sw.SetPts(e.pts)
	e.pts++

	f := e.sw
	if e.frames != nil {
		e.hw.Unref()
		if err := e.hw.AllocHardwareBuffer(e.frames); err != nil {
			return fmt.Errorf("hardware buffer: %w", err)
		}
		if err := e.sw.TransferHardwareData(e.hw); err != nil {
			return fmt.Errorf("upload: %w", err)
		}
		e.hw.SetPts(e.sw.Pts())
		f = e.hw
	}
	return e.codec.SendFrame(f)
}

func (e *Encoder) Receive() (*encoder.Packet, error) {
	if err := e.codec.ReceivePacket(e.pkt); err != nil {
		switch {
		case errors.Is(err, astiav.ErrEagain):
			return nil, nil
		case errors.Is(err, astiav.ErrEof):
			return nil, encoder.ErrEOF
		}
		return nil, err
	}
	defer e.pkt.Unref()
	data := make([]byte, len(e.pkt.Data()))
	copy(data, e.pkt.Data())
	return &encoder.Packet{Data: data}, nil
}

func (e *Encoder) Close() error {
	if e.pkt != nil {
		e.pkt.Free()
		e.pkt = nil
	}
	if e.hw != nil {
		e.hw.Free()
		e.hw = nil
	}
	if e.sw != nil {
		e.sw.Free()
		e.sw = nil
	}
	if e.codec != nil {
		e.codec.Free()
		e.codec = nil
	}
	if e.frames != nil {
		e.frames.Free()
		e.frames = nil
	}
	if e.device != nil {
		e.device.Free()
		e.device = nil
	}
	return nil
}
