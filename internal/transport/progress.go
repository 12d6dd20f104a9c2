package transport

import "io"

// progress converts byte counts into monotonically increasing percentages,
// capped at 99 so that 100 is only ever set once the endpoint acknowledges.
type progress struct {
	total int64
	done  int64
	last  int
	fn    ProgressFunc
}

func newProgress(total int64, fn ProgressFunc) *progress {
	return &progress{total: total, fn: fn}
}

func (p *progress) add(n int) {
	if p.fn == nil || p.total <= 0 || n <= 0 {
		return
	}
	p.done += int64(n)
	pct := int(p.done * 100 / p.total)
	if pct > 99 {
		pct = 99
	}
	if pct > p.last {
		p.last = pct
		p.fn(pct)
	}
}

// reader wraps r and counts the bytes pulled through it.
func (p *progress) reader(r io.Reader) io.Reader {
	return &countingReader{r: r, p: p}
}

// Read lets p act as a sink for clients that report progress by reading the
// number of uploaded bytes from an io.Reader.
func (p *progress) Read(b []byte) (int, error) {
	p.add(len(b))
	return len(b), nil
}

type countingReader struct {
	r io.Reader
	p *progress
}

func (c *countingReader) Read(b []byte) (int, error) {
	n, err := c.r.Read(b)
	c.p.add(n)
	return n, err
}
