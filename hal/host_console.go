//go:build !tinygo

package hal

import (
	"image/color"
	"strings"
	"sync"

	"tinygo.org/x/drivers"
	"tinygo.org/x/tinyfont"
	"tinygo.org/x/tinyfont/proggy"
)

const (
	consoleWidth  = 320
	consoleHeight = 200

	consoleLineH    = 10
	consoleBaseline = 8
	consoleMargin   = 2
)

var consoleFG = color.RGBA{R: 0xE0, G: 0xE0, B: 0xE0, A: 0xFF}

// console renders the most recent log lines into an RGB565 framebuffer.
// It is an io.Writer, so it can be used as a logger tee.
type console struct {
	mu      sync.Mutex
	fb      *hostFramebuffer
	d       *consoleDisplay
	lines   []string
	partial strings.Builder
	rows    int
	dirty   bool
}

func newConsole(width, height int) *console {
	fb := newHostFramebuffer(width, height)
	return &console{
		fb:   fb,
		d:    &consoleDisplay{fb: fb},
		rows: height / consoleLineH,
	}
}

func (c *console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, b := range p {
		switch b {
		case '\n':
			c.lines = append(c.lines, c.partial.String())
			c.partial.Reset()
		case '\r':
		default:
			c.partial.WriteByte(b)
		}
	}
	if n := len(c.lines) - c.rows; n > 0 {
		c.lines = append(c.lines[:0], c.lines[n:]...)
	}
	c.dirty = true
	return len(p), nil
}

// snapshot redraws the console if needed and copies its pixels into dst.
func (c *console) snapshot(dst []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dirty {
		c.redraw()
		c.dirty = false
	}
	copy(dst, c.fb.buf)
}

func (c *console) redraw() {
	clear(c.fb.buf)
	font := &proggy.TinySZ8pt7b
	for i, line := range c.lines {
		y := int16(i*consoleLineH + consoleBaseline)
		tinyfont.WriteLine(c.d, font, consoleMargin, y, line, consoleFG)
	}
}

// consoleDisplay adapts a host framebuffer to drivers.Displayer.
type consoleDisplay struct {
	fb *hostFramebuffer
}

var _ drivers.Displayer = (*consoleDisplay)(nil)

func (d *consoleDisplay) Size() (x, y int16) {
	return int16(d.fb.width), int16(d.fb.height)
}

func (d *consoleDisplay) SetPixel(x, y int16, c color.RGBA) {
	ix, iy := int(x), int(y)
	if ix < 0 || ix >= d.fb.width || iy < 0 || iy >= d.fb.height {
		return
	}
	pixel := rgb565(c.R, c.G, c.B)
	off := iy*d.fb.stride + ix*2
	d.fb.buf[off] = byte(pixel)
	d.fb.buf[off+1] = byte(pixel >> 8)
}

func (d *consoleDisplay) Display() error { return d.fb.Present() }
