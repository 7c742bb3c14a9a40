package encoder

// Counter turns a wrapping hardware register, sampled once per period, into an
// unbounded signed count.
type Counter struct {
	Now, Last uint32
	// Increment is the wrap-corrected change over the last period.
	Increment int64
	Total     int64
	// Overflows counts register wraps: positive for upward wraps, negative
	// for downward.  Diagnostic only.
	Overflows int64

	width     Width
	threshold int64
}

func NewCounter(width Width, jumpThreshold int64) Counter {
	return Counter{
		width:     width,
		threshold: jumpThreshold,
	}
}

// Update consumes one raw register sample.
func (c *Counter) Update(raw uint32) {
	mod := c.width.Modulus()
	c.Now = uint32(int64(raw) & (mod - 1))

	delta := int64(c.Now) - int64(c.Last)
	if delta > c.threshold {
		// The register went down through zero.
		delta -= mod
		c.Overflows--
	} else if delta < -c.threshold {
		// The register went up through its maximum.
		delta += mod
		c.Overflows++
	}

	c.Increment = delta
	c.Total += delta
	c.Last = c.Now
}

// Reset zeroes the counter, keeping its width and threshold.
func (c *Counter) Reset() {
	*c = NewCounter(c.width, c.threshold)
}

// Prime adopts raw as the reference sample without counting any motion, for
// registers that cannot be zeroed.
func (c *Counter) Prime(raw uint32) {
	c.Now = uint32(int64(raw) & (c.width.Modulus() - 1))
	c.Last = c.Now
	c.Increment = 0
}
