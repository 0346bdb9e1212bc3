// SPDX-License-Identifier: MPL-2.0

package builder

import (
	"bytes"
	"io"
	"sync"
)

// maxCapture bounds the test output kept for reports.
const maxCapture = 16 << 10

// capture keeps the tail of what is written to it.
type capture struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Write(p)
	if over := c.buf.Len() - maxCapture; over > 0 {
		c.buf.Next(over)
	}
	return len(p), nil
}

func (c *capture) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

// sink returns req's log writer, or io.Discard.
func sink(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
