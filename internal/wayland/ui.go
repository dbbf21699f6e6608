package wayland

import (
	"fmt"
	"image"
	"image/color"
	"runtime"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/neurlang/wayland/wl"
	"golang.org/x/sys/unix"

	"github.com/tuxx/lockgate/internal/auth"
	"github.com/tuxx/lockgate/internal/log"
	"github.com/tuxx/lockgate/internal/output"
	"github.com/tuxx/lockgate/internal/session"
)

var _ session.UI = (*UI)(nil)

const (
	maxInput   = 1024
	shakeDelay = 80 * time.Millisecond
)

var shakeSteps = []int{10, -10, 0, 10, -10, 0, 10, -10, 0}

type Style struct {
	Background color.RGBA
	DebugExit  bool
}

// UI runs every drawing and input task on one locked OS thread.
type UI struct {
	client *Client
	style  Style

	mu       sync.Mutex
	tasks    []func()
	stopped  bool
	notify   chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// owned by the UI goroutine
	surfaces    map[*Surface]struct{}
	keys        keyDecoder
	view        view
	input       []byte
	awaiting    *auth.Prompt
	bridge      *auth.Bridge
	onExit      func()
	shakeGen    int
	countdown   int
	retryUntil  time.Time
	retryPrefix string
}

func NewUI(c *Client, style Style) *UI {
	return &UI{
		client:   c,
		style:    style,
		notify:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		surfaces: make(map[*Surface]struct{}),
		input:    make([]byte, 0, 64),
		view:     view{background: style.Background, title: "Locked"},
	}
}

// RunOnUI queues fn behind every task queued before it. Tasks queued after
// Stop are dropped.
func (u *UI) RunOnUI(fn func()) {
	u.mu.Lock()
	if u.stopped {
		u.mu.Unlock()
		return
	}
	u.tasks = append(u.tasks, fn)
	u.mu.Unlock()

	select {
	case u.notify <- struct{}{}:
	default:
	}
}

// Run executes queued tasks until Stop. It pins itself to the calling
// goroutine's OS thread.
func (u *UI) Run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(u.done)

	for {
		if u.runQueued() {
			continue
		}
		select {
		case <-u.notify:
		case <-u.stop:
			u.runQueued()
			u.keys.close()
			return
		}
	}
}

func (u *UI) runQueued() bool {
	u.mu.Lock()
	tasks := u.tasks
	u.tasks = nil
	u.mu.Unlock()

	for _, fn := range tasks {
		fn()
	}
	return len(tasks) > 0
}

// Stop ends Run after the tasks already queued.
func (u *UI) Stop() {
	u.stopOnce.Do(func() {
		u.mu.Lock()
		u.stopped = true
		u.mu.Unlock()
		close(u.stop)
	})
}

func (u *UI) Done() <-chan struct{} {
	return u.done
}

// OnDebugExit sets what Escape does when debug exit is enabled.
func (u *UI) OnDebugExit(fn func()) {
	u.RunOnUI(func() { u.onExit = fn })
}

// Follow shows the bridge's messages and sends typed credentials to it.
// onSuccess runs once authentication succeeded, off the UI goroutine.
func (u *UI) Follow(b *auth.Bridge, onSuccess func()) {
	u.RunOnUI(func() { u.bridge = b })

	go func() {
		for m := range b.Messages() {
			log.Debug("UI received %s", m)
			u.RunOnUI(func() { u.apply(m) })
			if m.Kind == auth.MessageOutcome && m.Outcome.Kind == auth.OutcomeSuccess {
				onSuccess()
			}
		}
	}()
}

func (u *UI) apply(m auth.Message) {
	switch m.Kind {
	case auth.MessagePrompt:
		u.applyPrompt(m.Prompt)
	case auth.MessageLoading:
		if m.Loading {
			u.setStatus("Verifying...")
		}
	case auth.MessageOutcome:
		u.applyOutcome(m.Outcome)
	}
	u.redraw()
}

func (u *UI) applyPrompt(p auth.Prompt) {
	if !p.NeedsResponse() {
		u.setStatus(p.Text)
		return
	}
	u.awaiting = &p
	u.clearInput()
	u.countdown++
	u.setStatus(strings.TrimSpace(p.Text))
}

func (u *UI) applyOutcome(o auth.Outcome) {
	u.awaiting = nil
	u.clearInput()

	switch o.Kind {
	case auth.OutcomeSuccess:
		u.setStatus("Unlocking")
	case auth.OutcomeCancelled:
		u.setStatus("")
	case auth.OutcomeFailed:
		prefix := o.Reason
		if o.LockedOut {
			prefix = "Too many failed attempts"
		}
		u.startCountdown(prefix, o.Retry)
		u.shake()
	}
}

func (u *UI) setStatus(s string) {
	u.view.status = s
}

// startCountdown shows prefix with the time left until the next attempt.
func (u *UI) startCountdown(prefix string, d time.Duration) {
	u.countdown++
	u.retryPrefix = prefix
	u.retryUntil = time.Now().Add(d)
	if d < time.Second {
		u.setStatus(prefix)
		return
	}
	u.tick(u.countdown)
}

func (u *UI) tick(gen int) {
	if gen != u.countdown {
		return
	}
	remaining := time.Until(u.retryUntil)
	if remaining <= 0 {
		u.setStatus(u.retryPrefix)
		u.redraw()
		return
	}
	u.setStatus(fmt.Sprintf("%s, retry in %s", u.retryPrefix, auth.FormatDuration(remaining)))
	u.redraw()

	time.AfterFunc(time.Second, func() { u.RunOnUI(func() { u.tick(gen) }) })
}

func (u *UI) shake() {
	u.shakeGen++
	gen := u.shakeGen
	var step func(i int)
	step = func(i int) {
		if gen != u.shakeGen || i >= len(shakeSteps) {
			return
		}
		u.view.offset = shakeSteps[i]
		u.redraw()
		time.AfterFunc(shakeDelay, func() { u.RunOnUI(func() { step(i + 1) }) })
	}
	step(0)
}

func (u *UI) handleKey(key uint32) {
	p := u.keys.decode(key)

	switch p.action {
	case keyNone:
		return
	case keyClear:
		if u.style.DebugExit && u.onExit != nil {
			log.Info("Debug exit triggered by ESC key")
			u.onExit()
			return
		}
		u.clearInput()
	case keyChar:
		if u.awaiting == nil || len(u.input)+utf8.UTFMax > maxInput {
			return
		}
		u.input = utf8.AppendRune(u.input, p.char)
	case keyErase:
		if _, size := utf8.DecodeLastRune(u.input); size > 0 {
			n := len(u.input) - size
			clear(u.input[n:])
			u.input = u.input[:n]
		}
	case keySubmit:
		u.submit()
	}
	u.syncInput()
	u.redraw()
}

func (u *UI) submit() {
	if u.awaiting == nil || u.bridge == nil {
		return
	}
	u.awaiting = nil
	cred := auth.NewCredential(u.input)
	u.input = u.input[:0]
	if !u.bridge.Submit(cred) {
		log.Debug("Credential was not accepted")
	}
}

func (u *UI) clearInput() {
	clear(u.input)
	u.input = u.input[:0]
	u.syncInput()
}

func (u *UI) syncInput() {
	u.view.dots = 0
	u.view.echo = ""
	if u.awaiting != nil && u.awaiting.Kind == auth.PromptEcho {
		u.view.echo = string(u.input)
		return
	}
	u.view.dots = utf8.RuneCount(u.input)
}

func (u *UI) redraw() {
	for s := range u.surfaces {
		s.draw()
	}
}

// NewDrawable creates the wl_surface that becomes o's lock surface.
func (u *UI) NewDrawable(o output.Output) (session.Drawable, error) {
	u.client.wire.Lock()
	ws, err := u.client.compositor.CreateSurface()
	u.client.wire.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to create surface: %w", err)
	}
	return &Surface{ui: u, output: o, surface: ws}, nil
}

// Surface is the drawable behind one lock surface.
type Surface struct {
	ui      *UI
	output  output.Output
	surface *wl.Surface
	buffer  *wl.Buffer
	width   int
	height  int
}

func (s *Surface) Configure(width, height uint32) {
	s.width, s.height = int(width), int(height)
	s.ui.surfaces[s] = struct{}{}
	log.Debug("Configured surface on %s: %dx%d", s.output.ID, width, height)
	s.draw()
}

func (s *Surface) Destroy() {
	delete(s.ui.surfaces, s)

	c := s.ui.client
	c.wire.Lock()
	defer c.wire.Unlock()
	if s.buffer != nil {
		_ = s.buffer.Destroy()
		s.buffer = nil
	}
	_ = s.surface.Destroy()
}

func (s *Surface) draw() {
	if s.width <= 0 || s.height <= 0 {
		return
	}
	img, err := s.ui.view.render(s.width, s.height)
	if err != nil {
		log.Error("Failed to render lock screen text: %v", err)
	}
	if err := s.present(img); err != nil {
		log.Error("Failed to present surface on %s: %v", s.output.ID, err)
	}
}

// present copies img into a fresh shm buffer and commits it.
func (s *Surface) present(img *image.RGBA) error {
	stride := s.width * 4
	size := stride * s.height

	fd, err := unix.MemfdCreate("lockgate-buffer", unix.MFD_CLOEXEC)
	if err != nil {
		return fmt.Errorf("failed to create memfd: %w", err)
	}
	defer unix.Close(fd)

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		return fmt.Errorf("failed to truncate memfd: %w", err)
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("failed to mmap: %w", err)
	}
	defer unix.Munmap(data)

	copyARGB(data, img)

	c := s.ui.client
	c.wire.Lock()
	defer c.wire.Unlock()

	pool, err := c.shm.CreatePool(uintptr(fd), int32(size))
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}
	buffer, err := pool.CreateBuffer(0, int32(s.width), int32(s.height), int32(stride), wl.ShmFormatArgb8888)
	_ = pool.Destroy()
	if err != nil {
		return fmt.Errorf("failed to create buffer: %w", err)
	}

	s.surface.Attach(buffer, 0, 0)
	s.surface.Damage(0, 0, int32(s.width), int32(s.height))
	s.surface.Commit()

	if s.buffer != nil {
		_ = s.buffer.Destroy()
	}
	s.buffer = buffer
	return nil
}
