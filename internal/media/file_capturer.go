package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	pmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const oggPageDuration = 20 * time.Millisecond

// FileCapturer plays an IVF (VP8) file as the camera and an Ogg (Opus) file
// as the microphone. An empty path yields an idle device that keeps the
// track negotiated but sends nothing.
type FileCapturer struct {
	VideoPath string
	AudioPath string
}

func (c FileCapturer) Open(kind Kind) (Device, error) {
	path := c.VideoPath
	if kind == Audio {
		path = c.AudioPath
	}
	if path == "" {
		return idleDevice{}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, classifyOpenError(err)
	}

	switch kind {
	case Video:
		reader, header, err := ivfreader.NewWith(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, path, err)
		}
		interval := time.Second
		if header.TimebaseDenominator != 0 {
			interval = time.Duration(float64(time.Second) * float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator))
		}
		return &ivfDevice{file: f, reader: reader, interval: interval}, nil

	case Audio:
		reader, _, err := oggreader.NewWith(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, path, err)
		}
		return &oggDevice{file: f, reader: reader}, nil
	}

	f.Close()
	return nil, fmt.Errorf("%w: unknown kind %q", ErrDeviceUnavailable, kind)
}

func classifyOpenError(err error) error {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
}

type idleDevice struct{}

func (idleDevice) Run(ctx context.Context, _ SampleSink) error {
	<-ctx.Done()
	return ctx.Err()
}

func (idleDevice) Close() error { return nil }

type ivfDevice struct {
	file     *os.File
	reader   *ivfreader.IVFReader
	interval time.Duration
}

func (d *ivfDevice) Run(ctx context.Context, sink SampleSink) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		frame, _, err := d.reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := sink.WriteSample(pmedia.Sample{Data: frame, Duration: d.interval}); err != nil {
			return err
		}
	}
}

func (d *ivfDevice) Close() error { return d.file.Close() }

type oggDevice struct {
	file   *os.File
	reader *oggreader.OggReader
}

func (d *oggDevice) Run(ctx context.Context, sink SampleSink) error {
	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()

	var lastGranule uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		page, header, err := d.reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		// Granule position counts 48kHz samples.
		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		duration := time.Duration(float64(samples) / 48000 * float64(time.Second))

		if err := sink.WriteSample(pmedia.Sample{Data: page, Duration: duration}); err != nil {
			return err
		}
	}
}

func (d *oggDevice) Close() error { return d.file.Close() }
