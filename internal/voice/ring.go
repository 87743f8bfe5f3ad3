package voice

// pcmRing keeps the most recent samples of the capture. The sampler reads its
// analysis window from one; the recorder takes pre-roll from another.
type pcmRing struct {
	buf      []int16
	writePos int
	filled   int
}

func newPCMRing(samples int) *pcmRing {
	if samples < 1 {
		samples = 1
	}
	return &pcmRing{buf: make([]int16, samples)}
}

func (c *pcmRing) write(samples []int16) {
	if len(samples) > len(c.buf) {
		samples = samples[len(samples)-len(c.buf):]
	}
	for _, s := range samples {
		c.buf[c.writePos] = s
		c.writePos = (c.writePos + 1) % len(c.buf)
	}
	c.filled += len(samples)
	if c.filled > len(c.buf) {
		c.filled = len(c.buf)
	}
}

// last returns up to n of the newest samples, oldest first. Never more than was written.
func (c *pcmRing) last(n int) []int16 {
	if n > c.filled {
		n = c.filled
	}
	if n <= 0 {
		return nil
	}
	out := make([]int16, n)
	start := (c.writePos - n + len(c.buf)) % len(c.buf)
	for i := 0; i < n; i++ {
		out[i] = c.buf[(start+i)%len(c.buf)]
	}
	return out
}

func (c *pcmRing) len() int { return c.filled }

func (c *pcmRing) reset() {
	c.writePos = 0
	c.filled = 0
}
