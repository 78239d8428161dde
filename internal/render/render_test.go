package render

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfapi/internal/chrome"
	"pdfapi/internal/domain"
	u "pdfapi/internal/utils"
)

type fakeEngine struct {
	calls atomic.Int32
	out   []byte
	err   error
}

func (f *fakeEngine) RenderPDF(ctx context.Context, html string) ([]byte, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return append([]byte(nil), f.out...), nil
}

func testConfig(t *testing.T) u.Config {
	t.Helper()
	cfg := u.DefaultConfig()
	cfg.PDF.ChromePath = "/nonexistent/chrome-binary"
	cfg.PDF.TimeoutSecs = 2
	cfg.PDF.UserDataDir = filepath.Join(t.TempDir(), "profiles")
	cfg.Limits.MaxPDFBytes = 1 << 20
	return cfg
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mrs, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mrs.Close)
	return mrs, redis.NewClient(&redis.Options{Addr: mrs.Addr()})
}

func TestChromeEngine_MissingBinary(t *testing.T) {
	cfg := testConfig(t)
	e := NewChromeEngine(cfg, OptionsFromConfig(cfg))

	_, err := e.RenderPDF(context.Background(), "<html><body>hi</body></html>")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRender)
}

func TestChromeEngine_CanceledContext(t *testing.T) {
	cfg := testConfig(t)
	cfg.PDF.ChromePath = ""
	e := NewChromeEngine(cfg, OptionsFromConfig(cfg))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.RenderPDF(ctx, "<p>x</p>")
	assert.ErrorIs(t, err, domain.ErrRender)
}

func TestChromeEngine_LeavesNoProfileBehind(t *testing.T) {
	cfg := testConfig(t)
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)
	e := NewChromeEngine(cfg, OptionsFromConfig(cfg))

	_, err := e.RenderPDF(context.Background(), "<p>x</p>")
	require.Error(t, err)

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRodEngine_MissingBinary(t *testing.T) {
	cfg := testConfig(t)
	e := NewRodEngine(cfg, OptionsFromConfig(cfg))

	_, err := e.RenderPDF(context.Background(), "<p>x</p>")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRender)
}

func TestPooledEngine_AcquireFailureIsRenderError(t *testing.T) {
	cfg := testConfig(t)
	cfg.PDF.ChromePoolSize = 1
	pool, err := chrome.NewPool(cfg)
	require.NoError(t, err)
	defer pool.Close()

	e := NewPooledEngine(pool, OptionsFromConfig(cfg))
	_, err = e.RenderPDF(context.Background(), "<p>x</p>")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRender)
	assert.Equal(t, 1, pool.Stats().Idle)
}

func TestValidatingEngine_TooLarge(t *testing.T) {
	next := &fakeEngine{out: make([]byte, 11)}
	e := NewValidatingEngine(next, false, 10)

	_, err := e.RenderPDF(context.Background(), "x")
	assert.ErrorIs(t, err, domain.ErrRender)
	assert.ErrorIs(t, err, ErrPDFTooLarge)
}

func TestValidatingEngine_RejectsGarbage(t *testing.T) {
	next := &fakeEngine{out: []byte("definitely not a pdf")}
	e := NewValidatingEngine(next, true, 0)

	_, err := e.RenderPDF(context.Background(), "x")
	assert.ErrorIs(t, err, domain.ErrRender)
	assert.ErrorIs(t, err, ErrInvalidPDF)
}

func TestValidatingEngine_SizeOnly(t *testing.T) {
	next := &fakeEngine{out: []byte("%PDF-1.4 stub")}
	e := NewValidatingEngine(next, false, 1024)

	pdf, err := e.RenderPDF(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4 stub"), pdf)
}

func TestValidatingEngine_PassesThroughErrors(t *testing.T) {
	boom := renderErr(errors.New("chrome crashed"))
	e := NewValidatingEngine(&fakeEngine{err: boom}, true, 10)

	_, err := e.RenderPDF(context.Background(), "x")
	assert.ErrorIs(t, err, domain.ErrRender)
	assert.NotErrorIs(t, err, ErrInvalidPDF)
}

func TestCachedEngine_HitSkipsRender(t *testing.T) {
	mrs, rdb := newRedis(t)
	next := &fakeEngine{out: []byte("%PDF")}
	e := NewCachedEngine(next, rdb, "chromedp", time.Minute)
	ctx := context.Background()

	first, err := e.RenderPDF(ctx, "<p>a</p>")
	require.NoError(t, err)
	second, err := e.RenderPDF(ctx, "<p>a</p>")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), next.calls.Load())
	assert.True(t, mrs.Exists(e.cacheKey("<p>a</p>")))
}

func TestCachedEngine_ScopeAndDocumentSeparateEntries(t *testing.T) {
	_, rdb := newRedis(t)
	a := NewCachedEngine(&fakeEngine{}, rdb, "chromedp|A4", time.Minute)
	b := NewCachedEngine(&fakeEngine{}, rdb, "rod|A4", time.Minute)

	assert.NotEqual(t, a.cacheKey("<p>x</p>"), b.cacheKey("<p>x</p>"))
	assert.NotEqual(t, a.cacheKey("<p>x</p>"), a.cacheKey("<p>y</p>"))
	assert.Equal(t, a.cacheKey("<p>x</p>"), a.cacheKey("<p>x</p>"))
}

func TestCachedEngine_FailuresAreNotCached(t *testing.T) {
	mrs, rdb := newRedis(t)
	next := &fakeEngine{err: renderErr(errors.New("boom"))}
	e := NewCachedEngine(next, rdb, "s", time.Minute)

	_, err := e.RenderPDF(context.Background(), "<p>a</p>")
	assert.ErrorIs(t, err, domain.ErrRender)
	assert.False(t, mrs.Exists(e.cacheKey("<p>a</p>")))
}

func TestCachedEngine_RedisDownFallsThrough(t *testing.T) {
	mrs, rdb := newRedis(t)
	mrs.Close()
	next := &fakeEngine{out: []byte("%PDF")}
	e := NewCachedEngine(next, rdb, "s", 0)

	pdf, err := e.RenderPDF(context.Background(), "<p>a</p>")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF"), pdf)
	assert.Equal(t, time.Minute, e.ttl)
}

func TestNew_Composition(t *testing.T) {
	_, rdb := newRedis(t)
	cfg := testConfig(t)

	cfg.Cache.PDFCacheEnabled = true
	engine, err := New(cfg, nil, rdb)
	require.NoError(t, err)
	cached, ok := engine.(*CachedEngine)
	require.True(t, ok)
	validated, ok := cached.next.(*ValidatingEngine)
	require.True(t, ok)
	assert.IsType(t, &ChromeEngine{}, validated.next)

	cfg.Cache.PDFCacheEnabled = false
	cfg.PDF.ValidateOutput = false
	cfg.Limits.MaxPDFBytes = 0
	cfg.PDF.Engine = u.EngineRod
	engine, err = New(cfg, nil, rdb)
	require.NoError(t, err)
	assert.IsType(t, &RodEngine{}, engine)

	cfg.PDF.Engine = "wkhtmltopdf"
	_, err = New(cfg, nil, nil)
	assert.Error(t, err)
}

func TestNew_UsesPoolWhenGiven(t *testing.T) {
	cfg := testConfig(t)
	cfg.PDF.ValidateOutput = false
	cfg.Limits.MaxPDFBytes = 0
	cfg.PDF.ChromePoolSize = 1
	pool, err := chrome.NewPool(cfg)
	require.NoError(t, err)
	defer pool.Close()

	engine, err := New(cfg, pool, nil)
	require.NoError(t, err)
	pooled, ok := engine.(*PooledEngine)
	require.True(t, ok)
	assert.Same(t, pool, pooled.Pool())
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := u.DefaultConfig()
	opts := OptionsFromConfig(cfg)
	assert.Equal(t, 8.27, opts.Paper.Width)
	assert.Equal(t, 11.69, opts.Paper.Height)
	assert.Zero(t, opts.Margin)
	assert.False(t, opts.PrintBackground)
	assert.Equal(t, 30*time.Second, opts.Timeout)

	cfg.PDF.Margin = 0.4
	cfg.PDF.PrintBackground = true
	opts = OptionsFromConfig(cfg)
	assert.Equal(t, 0.4, opts.Margin)
	assert.True(t, opts.PrintBackground)
}
