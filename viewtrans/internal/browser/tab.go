package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// NavigateTimeout bounds navigation and load wait for a new tab.
const NavigateTimeout = 30 * time.Second

// Tab is an open page a session translates.
type Tab struct {
	ID   string
	URL  string
	Page *rod.Page

	router  *rod.HijackRouter
	surface *Surface
}

// OpenTab creates a tab on the manager's browser, applies stealth and
// resource blocking, and navigates to pageURL.
func OpenTab(ctx context.Context, mgr *Manager, id, pageURL string) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	var (
		page *rod.Page
		err  error
	)
	if mgr.cfg.Stealth >= LevelHeadless {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	t := &Tab{ID: id, URL: pageURL, Page: page}
	t.router = blockResources(page, mgr.cfg.ResourceBlocking)

	navCtx, cancel := context.WithTimeout(ctx, NavigateTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		t.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	t.surface = newSurface(page, id, mgr.cfg.Logger.With("tab", id))
	mgr.cfg.Logger.Info("browser: tab opened", "tab", id, "url", pageURL)
	return t, nil
}

// Surface returns the page.Surface for this tab.
func (t *Tab) Surface() *Surface { return t.surface }

// Close closes the tab and its request interceptor.
func (t *Tab) Close() error {
	if t.surface != nil {
		t.surface.close()
	}
	if t.router != nil {
		_ = t.router.Stop()
		t.router = nil
	}
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
