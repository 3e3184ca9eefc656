//go:build !tinygo && cgo

package hal

import (
	"image"
	"image/color"

	"ember/internal/buildinfo"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
)

const (
	pinStripH = 40
	pinBoxW   = 56
	pinBoxH   = 14
)

var (
	pinOn  = color.RGBA{R: 0x30, G: 0xE0, B: 0x60, A: 0xFF}
	pinOff = color.RGBA{R: 0x30, G: 0x30, B: 0x38, A: 0xFF}
)

// RunWindow starts a desktop window showing the board's pins and a log
// console. It blocks until the window closes or the core faults.
func RunWindow(newApp NewApp, cfg HostConfig) error {
	h := NewHost(cfg)
	con := newConsole(consoleWidth, consoleHeight)
	h.Tee(con)

	reset, err := newApp(h)
	if err != nil {
		return err
	}
	h.cpu.Boot(reset)
	defer h.cpu.Stop()

	g := &hostGame{h: h, con: con}
	ebiten.SetWindowTitle("ember (" + buildinfo.Short() + ")")
	ebiten.SetWindowSize(consoleWidth*2, (pinStripH+consoleHeight)*2)
	ebiten.SetTPS(60)
	err = ebiten.RunGame(g)
	if err == ebiten.Termination {
		return nil
	}
	return err
}

type hostGame struct {
	h       *Host
	con     *console
	img     *image.RGBA
	conImg  *ebiten.Image
	scratch []byte
}

func (g *hostGame) Update() error {
	select {
	case <-g.h.cpu.Halted():
		if err := g.h.cpu.Err(); err != nil {
			return err
		}
		return ebiten.Termination
	default:
	}
	return nil
}

func (g *hostGame) Draw(screen *ebiten.Image) {
	for i, p := range g.h.pins {
		x := 8 + i*(pinBoxW+24)
		box := screen.SubImage(image.Rect(x, 6, x+pinBoxW, 6+pinBoxH)).(*ebiten.Image)
		if level, err := p.Read(); err == nil && level {
			box.Fill(pinOn)
		} else {
			box.Fill(pinOff)
		}
		ebitenutil.DebugPrintAt(screen, p.Name(), x, 6+pinBoxH)
	}

	if g.img == nil {
		g.img = image.NewRGBA(image.Rect(0, 0, consoleWidth, consoleHeight))
		g.scratch = make([]byte, consoleWidth*consoleHeight*2)
		g.conImg = ebiten.NewImage(consoleWidth, consoleHeight)
	}
	g.con.snapshot(g.scratch)

	src := g.scratch
	dst := g.img.Pix
	for i := 0; i+1 < len(src) && i/2*4+3 < len(dst); i += 2 {
		r, gg, b := rgb888From565(uint16(src[i]) | uint16(src[i+1])<<8)
		j := (i / 2) * 4
		dst[j+0] = r
		dst[j+1] = gg
		dst[j+2] = b
		dst[j+3] = 0xFF
	}
	g.conImg.WritePixels(g.img.Pix)

	op := &ebiten.DrawImageOptions{}
	op.GeoM.Translate(0, pinStripH)
	screen.DrawImage(g.conImg, op)
}

func (g *hostGame) Layout(outsideWidth, outsideHeight int) (int, int) {
	return consoleWidth, pinStripH + consoleHeight
}
