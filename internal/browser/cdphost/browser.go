// internal/browser/cdphost/browser.go
package cdphost

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scroller/internal/config"
)

// ExecOptions builds the allocator options for cfg.
func ExecOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("enable-automation", true),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
	}
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	// key=value arguments become valued flags, bare names boolean ones.
	for _, arg := range cfg.Args {
		key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if found {
			opts = append(opts, chromedp.Flag(key, value))
		} else {
			opts = append(opts, chromedp.Flag(key, true))
		}
	}
	return opts
}

// Launch starts a browser, opens a tab and navigates it to url. The
// returned cancel function closes the tab and then the browser.
func Launch(ctx context.Context, cfg config.BrowserConfig, url string, logger *zap.Logger) (context.Context, context.CancelFunc, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, ExecOptions(cfg)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(logger.Sugar().Debugf))
	cancel := func() {
		tabCancel()
		allocCancel()
	}

	// The first Run allocates the browser and must not use a timeout context.
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("failed to start browser: %w", err)
	}
	navCtx, navCancel := context.WithTimeout(tabCtx, cfg.NavigationTimeout)
	defer navCancel()
	if err := chromedp.Run(navCtx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("failed to load %s: %w", url, err)
	}
	logger.Info("Page loaded.", zap.String("url", url))
	return tabCtx, cancel, nil
}
