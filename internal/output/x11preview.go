package output

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/anthonynsimon/bild/transform"
	"github.com/bryanchriswhite/framecompositor/internal/logger"
	"github.com/bryanchriswhite/framecompositor/internal/pixel"
)

// putImageHeader is the size of a PutImage request without its data
const putImageHeader = 24

// X11Preview shows frames in a local X11 window
type X11Preview struct {
	width  int
	height int
	title  string

	conn   *xgb.Conn
	screen *xproto.ScreenInfo
	window xproto.Window
	gc     xproto.Gcontext

	// rows of the window sent per PutImage request
	stripRows int

	running bool
	mu      sync.Mutex
}

// NewX11Preview creates a preview window of the given size
func NewX11Preview(width, height int, title string) *X11Preview {
	return &X11Preview{
		width:  width,
		height: height,
		title:  title,
	}
}

// Start connects to the X server and shows the window
func (p *X11Preview) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("preview already running")
	}
	if p.width <= 0 || p.height <= 0 {
		return fmt.Errorf("invalid preview size %dx%d", p.width, p.height)
	}

	conn, err := xgb.NewConn()
	if err != nil {
		return fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)
	if screen.RootDepth != 24 && screen.RootDepth != 32 {
		conn.Close()
		return fmt.Errorf("unsupported root depth %d", screen.RootDepth)
	}

	windowID, err := xproto.NewWindowId(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create window ID: %w", err)
	}

	mask := uint32(xproto.CwBackPixel | xproto.CwEventMask)
	values := []uint32{
		0x000000, // Black background
		xproto.EventMaskExposure | xproto.EventMaskStructureNotify,
	}
	err = xproto.CreateWindowChecked(
		conn,
		screen.RootDepth,
		windowID,
		screen.Root,
		0, 0,
		uint16(p.width), uint16(p.height),
		0,
		xproto.WindowClassInputOutput,
		screen.RootVisual,
		mask,
		values,
	).Check()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create window: %w", err)
	}

	p.conn = conn
	p.screen = screen
	p.window = windowID

	log := logger.WithComponent("output")
	if err := p.setWindowTitle(p.title); err != nil {
		log.Warn().Err(err).Msg("Failed to set window title")
	}
	if err := p.setWindowClass("framecomp", "framecompositor"); err != nil {
		log.Warn().Err(err).Msg("Failed to set window class")
	}

	if err := xproto.MapWindowChecked(conn, windowID).Check(); err != nil {
		p.closeLocked()
		return fmt.Errorf("failed to map window: %w", err)
	}

	gc, err := xproto.NewGcontextId(conn)
	if err != nil {
		p.closeLocked()
		return fmt.Errorf("failed to create graphics context: %w", err)
	}
	if err := xproto.CreateGCChecked(conn, gc, xproto.Drawable(windowID), 0, nil).Check(); err != nil {
		p.closeLocked()
		return fmt.Errorf("failed to create GC: %w", err)
	}
	p.gc = gc
	conn.Sync()

	p.stripRows = stripRows(p.width*4, int(setup.MaximumRequestLength)*4)
	p.running = true

	log.Info().
		Int("width", p.width).
		Int("height", p.height).
		Uint32("window_id", uint32(windowID)).
		Int("strip_rows", p.stripRows).
		Msg("Preview window created")
	return nil
}

// Stop closes the window and the X connection
func (p *X11Preview) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}
	p.closeLocked()
	p.running = false
	logger.WithComponent("output").Info().Msg("Preview window closed")
	return nil
}

func (p *X11Preview) closeLocked() {
	if p.conn == nil {
		return
	}
	if p.gc != 0 {
		xproto.FreeGC(p.conn, p.gc)
		p.gc = 0
	}
	if p.window != 0 {
		xproto.DestroyWindow(p.conn, p.window)
		p.window = 0
	}
	p.conn.Sync()
	p.conn.Close()
	p.conn = nil
}

// WriteFrame letterboxes the frame into the window and draws it
func (p *X11Preview) WriteFrame(frame *pixel.Buffer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return fmt.Errorf("preview not running")
	}
	if err := frame.Validate(); err != nil {
		return fmt.Errorf("failed to draw frame: %w", err)
	}

	var data []byte
	if frame.Width == p.width && frame.Height == p.height {
		data = frame.Pix
	} else {
		// Window-sized BGRA; the X server ignores the alpha byte at depth 24
		data = pixel.FromImage(letterbox(frame.ToRGBA(), p.width, p.height)).Pix
	}

	stride := p.width * 4
	for y := 0; y < p.height; y += p.stripRows {
		rows := p.stripRows
		if y+rows > p.height {
			rows = p.height - y
		}
		err := xproto.PutImageChecked(
			p.conn,
			xproto.ImageFormatZPixmap,
			xproto.Drawable(p.window),
			p.gc,
			uint16(p.width), uint16(rows),
			0, int16(y),
			0,
			p.screen.RootDepth,
			data[y*stride:(y+rows)*stride],
		).Check()
		if err != nil {
			return fmt.Errorf("failed to put image rows %d-%d: %w", y, y+rows, err)
		}
	}

	p.conn.Sync()
	return nil
}

// Name returns the output type name
func (p *X11Preview) Name() string {
	return "X11 Preview"
}

// IsRunning returns true if the window is shown
func (p *X11Preview) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// letterbox scales img to fit inside width x height, keeping its aspect
// ratio, centred on black
func letterbox(img *image.RGBA, width, height int) *image.RGBA {
	b := img.Bounds()
	scale := float64(width) / float64(b.Dx())
	if s := float64(height) / float64(b.Dy()); s < scale {
		scale = s
	}

	dw := int(float64(b.Dx()) * scale)
	dh := int(float64(b.Dy()) * scale)
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}

	out := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(out, out.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	scaled := transform.Resize(img, dw, dh, transform.Linear)
	offset := image.Pt((width-dw)/2, (height-dh)/2)
	draw.Draw(out, image.Rectangle{Min: offset, Max: offset.Add(image.Pt(dw, dh))}, scaled, image.Point{}, draw.Src)
	return out
}

// stripRows returns how many rows of stride bytes fit in one request of at
// most maxRequest bytes
func stripRows(stride, maxRequest int) int {
	rows := (maxRequest - putImageHeader) / stride
	if rows < 1 {
		rows = 1
	}
	return rows
}

func (p *X11Preview) setWindowTitle(title string) error {
	titleAtom, err := p.getAtom("_NET_WM_NAME")
	if err != nil {
		return err
	}
	utf8Atom, err := p.getAtom("UTF8_STRING")
	if err != nil {
		return err
	}

	return xproto.ChangePropertyChecked(
		p.conn,
		xproto.PropModeReplace,
		p.window,
		titleAtom,
		utf8Atom,
		8,
		uint32(len(title)),
		[]byte(title),
	).Check()
}

func (p *X11Preview) setWindowClass(instance, class string) error {
	classAtom, err := p.getAtom("WM_CLASS")
	if err != nil {
		return err
	}

	// WM_CLASS format: instance\0class\0
	classStr := instance + "\x00" + class + "\x00"

	return xproto.ChangePropertyChecked(
		p.conn,
		xproto.PropModeReplace,
		p.window,
		classAtom,
		xproto.AtomString,
		8,
		uint32(len(classStr)),
		[]byte(classStr),
	).Check()
}

func (p *X11Preview) getAtom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(p.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	return reply.Atom, nil
}
