package vad

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func ms(n int) time.Time { return epoch.Add(time.Duration(n) * time.Millisecond) }

// feed observes level every step from start (inclusive) to end (exclusive).
func feed(d *Detector, level float64, start, end, step int) []Transition {
	var out []Transition
	for t := start; t < end; t += step {
		out = append(out, d.Observe(Sample{Level: level, At: ms(t)})...)
	}
	return out
}

func testConfig() Config {
	return Config{Threshold: 0.08, MinSpeaking: 250 * time.Millisecond, Silence: 900 * time.Millisecond}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 0.02, cfg.Threshold)
	assert.Equal(t, 250*time.Millisecond, cfg.MinSpeaking)
	assert.Equal(t, 900*time.Millisecond, cfg.Silence)
}

func TestOnsetConfirmedAfterMinSpeaking(t *testing.T) {
	d := New(testConfig())

	got := feed(d, 0.2, 0, 250, 10)
	assert.Empty(t, got)
	assert.False(t, d.Speaking())

	got = feed(d, 0.2, 250, 310, 10)
	require.Len(t, got, 1)
	assert.True(t, got[0].Speaking)
	assert.Equal(t, ms(250), got[0].At)
	assert.True(t, d.Speaking())
}

func TestSilenceEndsSpeech(t *testing.T) {
	d := New(testConfig())
	feed(d, 0.2, 0, 1000, 10)
	require.True(t, d.Speaking())

	got := feed(d, 0.01, 1000, 1900, 10)
	assert.Empty(t, got)
	assert.True(t, d.Speaking())

	got = feed(d, 0.01, 1900, 2000, 10)
	require.Len(t, got, 1)
	assert.False(t, got[0].Speaking)
	assert.Equal(t, ms(1900), got[0].At)
	assert.False(t, d.Speaking())
}

func TestShortSpikeNeverConfirms(t *testing.T) {
	d := New(testConfig())
	got := feed(d, 0.5, 0, 200, 10)
	got = append(got, feed(d, 0.0, 200, 3000, 10)...)
	assert.Empty(t, got)
	assert.False(t, d.Speaking())
}

func TestDipShorterThanSilenceKeepsSpeaking(t *testing.T) {
	d := New(testConfig())
	feed(d, 0.2, 0, 1000, 10)
	require.True(t, d.Speaking())

	got := feed(d, 0.0, 1000, 1500, 10)
	got = append(got, feed(d, 0.2, 1500, 2000, 10)...)
	got = append(got, feed(d, 0.0, 2000, 2800, 10)...)
	assert.Empty(t, got)
	assert.True(t, d.Speaking())

	got = feed(d, 0.0, 2800, 3000, 10)
	require.Len(t, got, 1)
	assert.Equal(t, ms(2900), got[0].At)
}

func TestThresholdIsExclusive(t *testing.T) {
	d := New(testConfig())
	assert.Empty(t, feed(d, 0.08, 0, 1000, 10))
	assert.False(t, d.Speaking())
}

func TestSparseSamplesFireAtDeadline(t *testing.T) {
	d := New(testConfig())
	assert.Empty(t, d.Observe(Sample{Level: 0.3, At: ms(0)}))

	// A sub-threshold sample after the deadline cannot cancel the elapsed onset.
	got := d.Observe(Sample{Level: 0.0, At: ms(400)})
	require.Len(t, got, 1)
	assert.True(t, got[0].Speaking)
	assert.Equal(t, ms(250), got[0].At)

	// That same sample armed the silence timer, which elapses by t=1400.
	got = d.Observe(Sample{Level: 0.0, At: ms(1400)})
	require.Len(t, got, 1)
	assert.False(t, got[0].Speaking)
	assert.Equal(t, ms(1300), got[0].At)
}

func TestZeroDurations(t *testing.T) {
	d := New(Config{Threshold: 0.1})
	got := d.Observe(Sample{Level: 0.5, At: ms(0)})
	require.Len(t, got, 1)
	assert.True(t, got[0].Speaking)

	got = d.Observe(Sample{Level: 0.0, At: ms(10)})
	require.Len(t, got, 1)
	assert.False(t, got[0].Speaking)
}

func TestResetCancelsPendingTimers(t *testing.T) {
	d := New(testConfig())
	feed(d, 0.2, 0, 200, 10)
	d.Reset()
	// The onset that was pending before the reset must not fire later.
	got := d.Observe(Sample{Level: 0.0, At: ms(600)})
	assert.Empty(t, got)

	feed(d, 0.2, 1000, 1500, 10)
	require.True(t, d.Speaking())
	feed(d, 0.0, 1500, 1600, 10)
	d.Reset()
	assert.False(t, d.Speaking())
	assert.Empty(t, feed(d, 0.0, 1600, 4000, 10))
}

func TestPropertyQuietNeverSpeaks(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := testConfig()
		d := New(cfg)
		levels := rapid.SliceOfN(rapid.Float64Range(0, cfg.Threshold), 1, 500).Draw(t, "levels")
		for i, l := range levels {
			if got := d.Observe(Sample{Level: l, At: ms(i * 16)}); len(got) != 0 {
				t.Fatalf("unexpected transition %+v at sample %d", got, i)
			}
		}
	})
}

func TestPropertyBurstsShorterThanOnsetNeverSpeak(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := testConfig()
		d := New(cfg)
		step := 10
		maxLoud := int(cfg.MinSpeaking/time.Millisecond)/step - 1
		now := 0
		runs := rapid.IntRange(1, 30).Draw(t, "runs")
		for i := 0; i < runs; i++ {
			loud := rapid.IntRange(1, maxLoud).Draw(t, "loud")
			quiet := rapid.IntRange(1, 50).Draw(t, "quiet")
			for j := 0; j < loud; j++ {
				if got := d.Observe(Sample{Level: 0.5, At: ms(now)}); len(got) != 0 {
					t.Fatalf("burst of %d samples confirmed speech", loud)
				}
				now += step
			}
			for j := 0; j < quiet; j++ {
				d.Observe(Sample{Level: 0.0, At: ms(now)})
				now += step
			}
		}
		if d.Speaking() {
			t.Fatalf("detector speaking after short bursts")
		}
	})
}

func TestPropertyTransitionsAlternate(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		d := New(testConfig())
		levels := rapid.SliceOfN(rapid.Float64Range(0, 0.3), 1, 800).Draw(t, "levels")
		want := true
		for i, l := range levels {
			for _, tr := range d.Observe(Sample{Level: l, At: ms(i * 16)}) {
				if tr.Speaking != want {
					t.Fatalf("transition %v out of order at sample %d", tr.Speaking, i)
				}
				want = !want
			}
		}
		if d.Speaking() != !want {
			t.Fatalf("speaking state %v disagrees with last transition", d.Speaking())
		}
	})
}
