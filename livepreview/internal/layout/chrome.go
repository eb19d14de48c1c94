package layout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/net/html"

	"github.com/hazyhaar/livepick/livepreview/internal/dom"
	"github.com/hazyhaar/livepick/livepreview/selection"
)

// ChromeConfig configures a ChromeProbe.
type ChromeConfig struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local headless Chrome.
	RemoteURL string
	Viewport  Viewport
	Logger    *slog.Logger
}

// ChromeProbe measures elements by loading the serialised preview into
// a headless Chrome tab. The page is reloaded only when the markup
// returned by the document func changes.
type ChromeProbe struct {
	cfg      ChromeConfig
	document func() string

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	page    *rod.Page
	loaded  string
}

// NewChromeProbe creates a probe. document returns the full HTML of the
// preview (markup plus stylesheet) at measurement time. Chrome is
// started lazily on the first Measure.
func NewChromeProbe(cfg ChromeConfig, document func() string) *ChromeProbe {
	cfg.Viewport.defaults()
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ChromeProbe{cfg: cfg, document: document}
}

const rectScript = `(attr, tag) => {
	const el = document.querySelector('[' + attr + '="' + tag + '"]');
	if (!el) return "";
	const r = el.getBoundingClientRect();
	return JSON.stringify({x: r.left + window.scrollX, y: r.top + window.scrollY, width: r.width, height: r.height});
}`

type rectJSON struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Measure returns n's border box as Chrome lays it out. n must carry an
// identity tag; the tag is how the node is found in the Chrome copy.
func (c *ChromeProbe) Measure(ctx context.Context, n *html.Node) (selection.Rect, error) {
	tag, ok := dom.Attr(n, dom.IdentityAttr)
	if !dom.IsElement(n) || !ok {
		return selection.Rect{}, ErrNotMeasurable
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	page, err := c.pageLocked()
	if err != nil {
		return selection.Rect{}, err
	}
	if doc := c.document(); doc != c.loaded {
		if err := page.Context(ctx).SetDocumentContent(doc); err != nil {
			return selection.Rect{}, fmt.Errorf("layout: load document: %w", err)
		}
		c.loaded = doc
	}

	res, err := page.Context(ctx).Eval(rectScript, dom.IdentityAttr, tag)
	if err != nil {
		return selection.Rect{}, fmt.Errorf("layout: measure %s: %w", tag, err)
	}
	raw := res.Value.Str()
	if raw == "" {
		return selection.Rect{}, ErrNotMeasurable
	}
	var r rectJSON
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return selection.Rect{}, fmt.Errorf("layout: decode rect: %w", err)
	}
	return selection.NewRect(r.X, r.Y, r.Width, r.Height), nil
}

func (c *ChromeProbe) pageLocked() (*rod.Page, error) {
	if c.page != nil {
		return c.page, nil
	}
	log := c.cfg.Logger

	wsURL := c.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(true)
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("layout: launch chrome: %w", err)
		}
		wsURL = u
		c.lnch = l
		log.Info("layout: launched local chrome", "url", wsURL)
	} else {
		log.Info("layout: connecting to remote chrome", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		c.cleanupLocked()
		return nil, fmt.Errorf("layout: connect chrome: %w", err)
	}
	c.browser = b

	page, err := b.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		c.cleanupLocked()
		return nil, fmt.Errorf("layout: create tab: %w", err)
	}
	err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             int(c.cfg.Viewport.Width),
		Height:            int(c.cfg.Viewport.Height),
		DeviceScaleFactor: 1,
	})
	if err != nil {
		log.Warn("layout: set viewport failed", "error", err)
	}
	c.page = page
	return page, nil
}

// Close shuts the tab and Chrome down.
func (c *ChromeProbe) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
	return nil
}

func (c *ChromeProbe) cleanupLocked() {
	if c.page != nil {
		c.page.Close()
		c.page = nil
	}
	if c.browser != nil {
		c.browser.Close()
		c.browser = nil
	}
	if c.lnch != nil {
		c.lnch.Cleanup()
		c.lnch = nil
	}
	c.loaded = ""
}
