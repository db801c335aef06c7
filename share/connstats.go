package chshare

import (
	"fmt"
	"sync/atomic"
)

// ConnStats keeps the currently open and total tunnel counts of a server or client
type ConnStats struct {
	total atomic.Int32
	open  atomic.Int32
}

// Open counts a newly opened tunnel and returns the new total
func (c *ConnStats) Open() int32 {
	c.open.Add(1)
	return c.total.Add(1)
}

// Close counts a tunnel that has ended
func (c *ConnStats) Close() {
	c.open.Add(-1)
}

// OpenCount returns the number of tunnels currently open
func (c *ConnStats) OpenCount() int32 {
	return c.open.Load()
}

func (c *ConnStats) String() string {
	return fmt.Sprintf("[%d/%d]", c.open.Load(), c.total.Load())
}
