// Package chrome manages headless Chrome processes for PDF rendering.
package chrome

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	u "pdfapi/internal/utils"
)

var (
	// ErrPoolDisabled is returned by NewPool when pdf.chrome_pool_size is zero.
	ErrPoolDisabled = errors.New("chrome pool disabled")
	// ErrPoolClosed is returned by Acquire and Restart after Close.
	ErrPoolClosed = errors.New("chrome pool closed")
)

// Tab is a browser tab leased from a Pool. Run chromedp actions on Ctx and
// hand it back with Release.
type Tab struct {
	Ctx     context.Context
	cancel  context.CancelFunc
	browser context.Context
}

// Cancel closes the tab early. Release must still be called.
func (t *Tab) Cancel() {
	if t.cancel != nil {
		t.cancel()
	}
}

// BrowserLost reports whether the browser the tab was opened on has gone away.
func (t *Tab) BrowserLost() bool {
	return t.browser != nil && t.browser.Err() != nil
}

// Stats is a snapshot of pool usage.
type Stats struct {
	Enabled      bool      `json:"enabled"`
	Capacity     int       `json:"capacity"`
	Idle         int       `json:"idle"`
	InUse        int       `json:"in_use"`
	PoolSizeConf int       `json:"pool_size_conf"`
	ProfileDir   string    `json:"profile_dir"`
	Restarts     int       `json:"restarts"`
	LastRestart  time.Time `json:"last_restart"`
}

// Pool shares one browser process between a bounded number of tabs. The
// semaphore admits at most cap(sem) concurrent renders.
type Pool struct {
	cfg u.Config
	sem chan struct{}

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	profileDir    string
	closed        bool
	restarts      int
	lastRestart   time.Time
}

// NewPool prepares a pool admitting cfg.PDF.ChromePoolSize concurrent tabs.
// The browser itself is launched by the first Acquire.
func NewPool(cfg u.Config) (*Pool, error) {
	size := cfg.PDF.ChromePoolSize
	if size <= 0 {
		return nil, ErrPoolDisabled
	}

	dir, err := createProfileDir(cfg)
	if err != nil {
		return nil, fmt.Errorf("cannot create profile dir: %w", err)
	}

	p := &Pool{cfg: cfg, sem: make(chan struct{}, size), profileDir: dir}
	for i := 0; i < size; i++ {
		p.sem <- struct{}{}
	}
	u.Info("Chrome pool ready", "size", size, "profile_dir", dir)
	return p, nil
}

// startLocked launches the browser. Callers hold p.mu.
func (p *Pool) startLocked() error {
	if p.profileDir == "" {
		dir, err := createProfileDir(p.cfg)
		if err != nil {
			return fmt.Errorf("cannot create profile dir: %w", err)
		}
		p.profileDir = dir
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), AllocatorOptions(p.cfg, p.profileDir)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run binds the browser to browserCtx, so it must not carry a
	// timeout of its own; the warmup deadline is enforced from outside.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(browserCtx) }()

	var err error
	warmup := time.Duration(p.cfg.PDF.TimeoutSecs) * time.Second
	select {
	case err = <-started:
	case <-time.After(warmup):
		err = fmt.Errorf("chrome warmup: %w", context.DeadlineExceeded)
	}
	if err != nil {
		browserCancel()
		allocCancel()
		return err
	}

	p.allocCancel = allocCancel
	p.browserCtx = browserCtx
	p.browserCancel = browserCancel
	return nil
}

// stopLocked terminates the browser and removes its profile. Callers hold p.mu.
func (p *Pool) stopLocked() {
	if p.browserCancel != nil {
		p.browserCancel()
	}
	if p.allocCancel != nil {
		p.allocCancel()
	}
	if p.profileDir != "" {
		_ = os.RemoveAll(p.profileDir)
	}
	p.browserCtx = nil
	p.browserCancel = nil
	p.allocCancel = nil
	p.profileDir = ""
}

// Acquire waits for a free slot and opens a new tab, launching the browser
// if it is not running.
func (p *Pool) Acquire(ctx context.Context) (*Tab, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	select {
	case <-p.sem:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem <- struct{}{}
		return nil, ErrPoolClosed
	}
	if p.browserCtx == nil {
		if err := p.startLocked(); err != nil {
			p.mu.Unlock()
			p.sem <- struct{}{}
			return nil, err
		}
	}
	browserCtx := p.browserCtx
	p.mu.Unlock()

	tabCtx, cancel := chromedp.NewContext(browserCtx)
	return &Tab{Ctx: tabCtx, cancel: cancel, browser: browserCtx}, nil
}

// Release closes the tab and frees its slot.
func (p *Pool) Release(tab *Tab, renderErr error) {
	if tab == nil {
		return
	}
	if tab.cancel != nil {
		tab.cancel()
	}
	if renderErr != nil && IsSessionInterrupted(renderErr) {
		u.Warn("Chrome tab released after interrupted session", "error", renderErr)
	}
	select {
	case p.sem <- struct{}{}:
	default:
	}
}

// Restart discards the browser process and its profile. The next Acquire
// launches a fresh one; tabs leased from the old browser fail on their next
// action.
func (p *Pool) Restart() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}

	p.stopLocked()
	dir, err := createProfileDir(p.cfg)
	if err != nil {
		return fmt.Errorf("cannot create profile dir: %w", err)
	}
	p.profileDir = dir
	p.restarts++
	p.lastRestart = time.Now()
	u.Warn("Chrome pool restarted", "restarts", p.restarts)
	return nil
}

// RestartIfCurrent restarts the pool only when tab still belongs to the
// running browser. Tabs failing because another lease already triggered a
// restart leave the fresh browser alone.
func (p *Pool) RestartIfCurrent(tab *Tab) (bool, error) {
	p.mu.Lock()
	current := tab != nil && tab.browser != nil && p.browserCtx == tab.browser
	p.mu.Unlock()
	if !current {
		return false, nil
	}
	return true, p.Restart()
}

// Close stops the browser. It is safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.stopLocked()
}

// Stats reports capacity and current usage.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	capacity := cap(p.sem)
	idle := len(p.sem)
	return Stats{
		Enabled:      !p.closed && capacity > 0,
		Capacity:     capacity,
		Idle:         idle,
		InUse:        capacity - idle,
		PoolSizeConf: p.cfg.PDF.ChromePoolSize,
		ProfileDir:   p.profileDir,
		Restarts:     p.restarts,
		LastRestart:  p.lastRestart,
	}
}

// IsSessionInterrupted reports whether err means the browser connection was
// lost rather than the page failing to render. Context errors are not
// counted: they come from the lease's own deadline or the caller going away.
func IsSessionInterrupted(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"target closed", "invalid context", "websocket", "session closed", "browser closed"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func createProfileDir(cfg u.Config) (string, error) {
	base := cfg.PDF.UserDataDir
	if base != "" {
		if err := os.MkdirAll(base, 0o700); err != nil {
			return "", err
		}
	}
	return os.MkdirTemp(base, "chromedata-*")
}
