package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/broadcomms/meeting-ledger/internal/logging"
	pion "github.com/pion/webrtc/v4"
	pmedia "github.com/pion/webrtc/v4/pkg/media"
)

var (
	ErrPermissionDenied  = errors.New("permission denied")
	ErrDeviceUnavailable = errors.New("device unavailable")
)

// Kind distinguishes the two local capture tracks.
type Kind string

const (
	Video Kind = "video"
	Audio Kind = "audio"
)

// AcquisitionError reports which device could not be opened.
type AcquisitionError struct {
	Kind Kind
	Err  error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("acquire %s: %v", e.Kind, e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// State is the combined enablement snapshot broadcast to the meeting.
type State struct {
	VideoEnabled bool
	AudioEnabled bool
}

// SampleSink receives encoded samples from a device.
type SampleSink interface {
	WriteSample(pmedia.Sample) error
}

// Device produces samples for one local track.
type Device interface {
	// Run pumps samples into sink until ctx is done or the source ends.
	Run(ctx context.Context, sink SampleSink) error
	Close() error
}

// Capturer opens capture devices.
type Capturer interface {
	Open(kind Kind) (Device, error)
}

// Source acquires the local audio+video stream.
type Source struct {
	capturer Capturer
	log      *slog.Logger
}

func NewSource(c Capturer, log *slog.Logger) *Source {
	return &Source{capturer: c, log: logging.OrDefault(log).With("component", "media")}
}

// Acquire opens both devices and starts their sample pumps. Nothing is left
// open when it fails.
func (s *Source) Acquire(ctx context.Context, streamID string) (*Stream, error) {
	video, err := s.open(Video, streamID, pion.RTPCodecCapability{MimeType: pion.MimeTypeVP8})
	if err != nil {
		return nil, err
	}

	audio, err := s.open(Audio, streamID, pion.RTPCodecCapability{MimeType: pion.MimeTypeOpus})
	if err != nil {
		video.device.Close()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	stream := &Stream{video: video, audio: audio, cancel: cancel, log: s.log}
	stream.pump(runCtx, video)
	stream.pump(runCtx, audio)

	s.log.Debug("local media acquired", "stream", streamID)
	return stream, nil
}

func (s *Source) open(kind Kind, streamID string, codec pion.RTPCodecCapability) (*Track, error) {
	device, err := s.capturer.Open(kind)
	if err != nil {
		return nil, &AcquisitionError{Kind: kind, Err: err}
	}

	local, err := pion.NewTrackLocalStaticSample(codec, string(kind), streamID)
	if err != nil {
		device.Close()
		return nil, &AcquisitionError{Kind: kind, Err: err}
	}

	t := &Track{kind: kind, local: local, device: device}
	t.enabled.Store(true)
	return t, nil
}

// Track is one local capture track with an enable switch. A disabled track
// keeps its sender but stops writing samples.
type Track struct {
	kind    Kind
	local   *pion.TrackLocalStaticSample
	device  Device
	enabled atomic.Bool
}

func (t *Track) WriteSample(sample pmedia.Sample) error {
	if !t.enabled.Load() {
		return nil
	}
	return t.local.WriteSample(sample)
}

func (t *Track) Kind() Kind { return t.kind }

func (t *Track) Enabled() bool { return t.enabled.Load() }

// Local exposes the pion track for attaching to peer connections.
func (t *Track) Local() pion.TrackLocal { return t.local }

// Stream is the capture handle shared by every peer connection.
type Stream struct {
	video  *Track
	audio  *Track
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	log    *slog.Logger
}

func (s *Stream) pump(ctx context.Context, t *Track) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := t.device.Run(ctx, t); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("capture stopped", "kind", t.kind, "error", err)
		}
	}()
}

// Tracks returns the outbound tracks, video first.
func (s *Stream) Tracks() []pion.TrackLocal {
	return []pion.TrackLocal{s.video.local, s.audio.local}
}

// AudioTrack is the read-only view used by consumers of the microphone
// other than peer connections.
func (s *Stream) AudioTrack() *Track { return s.audio }

func (s *Stream) VideoTrack() *Track { return s.video }

func (s *Stream) SetVideoEnabled(enabled bool) { s.video.enabled.Store(enabled) }

func (s *Stream) SetAudioEnabled(enabled bool) { s.audio.enabled.Store(enabled) }

func (s *Stream) State() State {
	return State{VideoEnabled: s.video.Enabled(), AudioEnabled: s.audio.Enabled()}
}

// Stop halts capture and releases both devices. Safe to call twice.
func (s *Stream) Stop() {
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
		s.video.device.Close()
		s.audio.device.Close()
	})
}
