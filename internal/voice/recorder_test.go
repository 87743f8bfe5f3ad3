package voice

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/voice-mode/internal/audio"
)

func constant(n int, v int16) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestPCMRing(t *testing.T) {
	r := newPCMRing(4)
	assert.Empty(t, r.last(4))

	r.write([]int16{1, 2})
	assert.Equal(t, []int16{1, 2}, r.last(4))
	r.write([]int16{3, 4, 5})
	assert.Equal(t, []int16{2, 3, 4, 5}, r.last(10))
	assert.Equal(t, []int16{4, 5}, r.last(2))

	r.write([]int16{6, 7, 8, 9, 10, 11})
	assert.Equal(t, []int16{8, 9, 10, 11}, r.last(4))
	assert.Equal(t, 4, r.len())

	r.reset()
	assert.Empty(t, r.last(4))
}

func TestSamplerWindow(t *testing.T) {
	s := newSampler(0)
	assert.Equal(t, 0.0, s.level())

	s.push(constant(512, 3277), 16000)
	assert.InDelta(t, 0.1, s.level(), 1e-3)

	// Only the newest window counts.
	s.push(constant(DefaultAnalysisWindow, 0), 16000)
	assert.Equal(t, 0.0, s.level())

	s.push(constant(128, 6554), 16000)
	assert.InDelta(t, 0.2/1.4142, s.level(), 1e-3)

	s.reset()
	assert.Equal(t, 0.0, s.level())
}

func TestSamplerGoesSilentWhenFramesStop(t *testing.T) {
	s := newSampler(160) // 10 ms at 16 kHz
	t0 := time.Unix(0, 0)
	s.push(constant(160, 6554), 16000)
	s.tick(t0, 5*time.Millisecond)
	assert.InDelta(t, 0.2, s.level(), 1e-3)

	s.tick(t0.Add(15*time.Millisecond), 5*time.Millisecond)
	assert.InDelta(t, 0.2, s.level(), 1e-3, "within span plus grace")

	s.tick(t0.Add(16*time.Millisecond), 5*time.Millisecond)
	assert.Equal(t, 0.0, s.level())

	// A fresh frame is heard again right away.
	s.push(constant(160, 6554), 16000)
	s.tick(t0.Add(40*time.Millisecond), 5*time.Millisecond)
	assert.InDelta(t, 0.2, s.level(), 1e-3)
}

func frameAt(ms int, samples []int16) audio.Frame {
	return audio.Frame{Samples: samples, SampleRate: 1000, At: time.UnixMilli(int64(ms))}
}

func TestRecorderStartRequiresLiveCapture(t *testing.T) {
	r := newRecorder(0)
	err := r.start(false, time.Now())
	var de *DeviceError
	require.ErrorAs(t, err, &de)
	assert.ErrorIs(t, err, ErrCaptureNotLive)
	assert.False(t, r.recording())
}

func TestRecorderSingleActive(t *testing.T) {
	r := newRecorder(0)
	require.NoError(t, r.start(true, time.Now()))
	assert.ErrorIs(t, r.start(true, time.Now()), ErrRecorderActive)
}

func TestRecorderStopWithoutStartIsNoop(t *testing.T) {
	r := newRecorder(0)
	_, ok := r.stop(time.Now())
	assert.False(t, ok)
}

func TestRecorderAssemblesWithPreRoll(t *testing.T) {
	r := newRecorder(3 * time.Millisecond) // 3 samples at 1 kHz
	r.observe(frameAt(0, []int16{1, 2, 3, 4}))
	r.observe(frameAt(4, []int16{5, 6}))

	start := time.UnixMilli(6)
	require.NoError(t, r.start(true, start))
	r.observe(frameAt(6, []int16{7, 8}))
	r.observe(frameAt(8, []int16{9}))

	u, ok := r.stop(time.UnixMilli(9))
	require.True(t, ok)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, []int16{4, 5, 6, 7, 8, 9}, u.Clip.Samples)
	assert.Equal(t, 1000, u.Clip.SampleRate)
	assert.Equal(t, start, u.StartedAt)
	assert.Equal(t, time.UnixMilli(9), u.EndedAt)

	// Later frames never leak into a finalized utterance.
	r.observe(frameAt(9, []int16{10}))
	assert.Equal(t, []int16{4, 5, 6, 7, 8, 9}, u.Clip.Samples)
	assert.False(t, r.recording())
}

func TestRecorderCancelDiscards(t *testing.T) {
	r := newRecorder(5 * time.Millisecond)
	r.observe(frameAt(0, []int16{1, 2, 3}))
	require.NoError(t, r.start(true, time.Now()))
	r.observe(frameAt(3, []int16{4}))
	r.cancel()
	assert.False(t, r.recording())
	_, ok := r.stop(time.Now())
	assert.False(t, ok)

	// The pre-roll is discarded with it.
	require.NoError(t, r.start(true, time.Now()))
	u, ok := r.stop(time.Now())
	require.True(t, ok)
	assert.Empty(t, u.Clip.Samples)
}

func TestRecorderRateChangeCancelsRecording(t *testing.T) {
	r := newRecorder(2 * time.Millisecond)
	require.NoError(t, r.observe(frameAt(0, []int16{1, 2})))
	require.NoError(t, r.start(true, time.Now()))
	require.NoError(t, r.observe(frameAt(2, []int16{3})))

	err := r.observe(audio.Frame{Samples: []int16{4, 5}, SampleRate: 2000})
	assert.ErrorIs(t, err, ErrSampleRateChanged)
	assert.False(t, r.recording())
	_, ok := r.stop(time.Now())
	assert.False(t, ok)

	// The pre-roll restarts at the new rate.
	require.NoError(t, r.observe(audio.Frame{Samples: []int16{6, 7, 8, 9, 10}, SampleRate: 2000}))
	require.NoError(t, r.start(true, time.Now()))
	u, ok := r.stop(time.Now())
	require.True(t, ok)
	assert.Equal(t, []int16{7, 8, 9, 10}, u.Clip.Samples)
	assert.Equal(t, 2000, u.Clip.SampleRate)
}

type stubDevice struct {
	opens int
	err   error
}

func (d *stubDevice) Open(context.Context) (Stream, error) {
	d.opens++
	if d.err != nil {
		return nil, d.err
	}
	return NewPushDevice(1).Open(context.Background())
}

func TestExclusiveOpen(t *testing.T) {
	dev := &stubDevice{}
	ex := NewExclusive(dev)

	s1, err := ex.Open(context.Background())
	require.NoError(t, err)
	_, err = ex.Open(context.Background())
	assert.ErrorIs(t, err, ErrDeviceBusy)

	require.NoError(t, s1.Close())
	require.NoError(t, s1.Close())
	s2, err := ex.Open(context.Background())
	require.NoError(t, err)
	require.NoError(t, s2.Close())
	assert.Equal(t, 2, dev.opens)

	dev.err = errors.New("permission denied")
	_, err = ex.Open(context.Background())
	assert.EqualError(t, err, "permission denied")
	// A failed open does not hold the device.
	dev.err = nil
	_, err = ex.Open(context.Background())
	assert.NoError(t, err)
}

func TestPushDevice(t *testing.T) {
	d := NewPushDevice(2)
	d.Deliver(audio.Frame{Samples: []int16{1}}) // no stream: dropped

	s, err := d.Open(context.Background())
	require.NoError(t, err)
	_, err = d.Open(context.Background())
	assert.ErrorIs(t, err, ErrDeviceBusy)

	d.Deliver(audio.Frame{Samples: []int16{2}})
	f, err := s.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int16{2}, f.Samples)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	d.End()
	_, err = s.Read(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	_, err = d.Open(context.Background())
	assert.ErrorIs(t, err, ErrDeviceEnded)
	assert.NoError(t, s.Close())
}

func TestPushDeviceReopenAfterClose(t *testing.T) {
	d := NewPushDevice(0)
	s, err := d.Open(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	_, err = s.Read(context.Background())
	assert.ErrorIs(t, err, io.EOF)

	s2, err := d.Open(context.Background())
	require.NoError(t, err)
	d.Deliver(audio.Frame{Samples: []int16{9}})
	f, err := s2.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int16{9}, f.Samples)
}
