//go:build !tinygo

package hal

// hostFramebuffer is an RGB565 pixel buffer, little-endian per pixel.
type hostFramebuffer struct {
	width  int
	height int
	stride int
	buf    []byte
}

func newHostFramebuffer(width, height int) *hostFramebuffer {
	stride := width * 2
	return &hostFramebuffer{
		width:  width,
		height: height,
		stride: stride,
		buf:    make([]byte, stride*height),
	}
}

func (f *hostFramebuffer) Present() error { return nil }

// pixelAt returns the RGB565 value at (x, y).
func (f *hostFramebuffer) pixelAt(x, y int) uint16 {
	off := y*f.stride + x*2
	return uint16(f.buf[off]) | uint16(f.buf[off+1])<<8
}
