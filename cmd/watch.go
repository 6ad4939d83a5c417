// cmd/watch.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/scroller/internal/browser/cdphost"
	"github.com/xkilldash9x/scroller/internal/config"
	"github.com/xkilldash9x/scroller/internal/observability"
	"github.com/xkilldash9x/scroller/pkg/scroller"
)

const (
	// journalFlushInterval bounds how long records sit in memory during watch.
	journalFlushInterval = time.Second
	// settleDelay lets the page report the last scroll before shutdown.
	settleDelay     = 500 * time.Millisecond
	shutdownTimeout = 10 * time.Second
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <url>",
		Short: "Opens a page in Chrome and prints scene events as it scrolls",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatch,
	}

	f := cmd.Flags()
	f.String("scenes", ".scene", "CSS selector for the scene elements")
	f.String("container", "", "CSS selector for the container element")
	f.Bool("headless", true, "run Chrome without a window")
	f.Bool("auto-scroll", true, "scroll the page from the command")
	f.Float64("scroll-step", 120, "pixels per auto-scroll step")
	f.Float64("scroll-rate", 8, "auto-scroll steps per second")
	f.Int("scroll-steps", 0, "stop after this many steps (0 scrolls until interrupted)")
	f.Float64("offset", scroller.DefaultOffset, "trigger line as a fraction of the viewport height")
	f.Bool("progress", false, "emit progress events")
	f.String("variant", "namespaced", "event names: namespaced or plain")
	f.String("sink", "none", "journal sink: none, jsonl or postgres")
	f.String("journal", "", "journal file for the jsonl sink")

	bindFlag(cmd, "scenes", "browser.scene_selector")
	bindFlag(cmd, "container", "browser.container_selector")
	bindFlag(cmd, "headless", "browser.headless")
	bindFlag(cmd, "auto-scroll", "browser.auto_scroll.enabled")
	bindFlag(cmd, "scroll-step", "browser.auto_scroll.step")
	bindFlag(cmd, "scroll-rate", "browser.auto_scroll.rate")
	bindFlag(cmd, "scroll-steps", "browser.auto_scroll.steps")
	bindFlag(cmd, "offset", "scroller.offset")
	bindFlag(cmd, "progress", "scroller.progress")
	bindFlag(cmd, "variant", "scroller.variant")
	bindFlag(cmd, "sink", "recorder.sink")
	bindFlag(cmd, "journal", "recorder.path")
	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := configFrom(ctx)
	if err != nil {
		return err
	}
	bc := cfg.Browser()
	logger := observability.GetLogger().Named("watch")

	tabCtx, closeBrowser, err := cdphost.Launch(ctx, bc, args[0], logger)
	if err != nil {
		return err
	}
	defer closeBrowser()

	host, err := cdphost.New(tabCtx, logger)
	if err != nil {
		return err
	}
	defer host.Close()

	scenes, container, err := resolveTargets(ctx, host, bc)
	if err != nil {
		return err
	}
	logger.Info("Scenes resolved.", zap.Int("scenes", len(scenes)), zap.Bool("container", container != ""))

	engine := scroller.New[cdphost.ElementRef](host, engineConfig(cfg.Scroller(), scenes, container, logger))
	printer := newEventPrinter(cmd.OutOrStdout(), func(ref cdphost.ElementRef) string { return string(ref) })
	printer.subscribe(engine)

	rec, stopJournal, err := startJournal(ctx, cfg, engine, func(ref cdphost.ElementRef) string { return string(ref) }, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := stopJournal(shutdownCtx); err != nil {
			logger.Error("Failed to close journal.", zap.Error(err))
		}
	}()

	if err := engine.Init(); err != nil {
		return err
	}
	defer engine.Close()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	if bc.AutoScroll.Enabled {
		g.Go(func() error {
			defer stop()
			return autoScroll(gctx, host, bc.AutoScroll, logger)
		})
	}
	if rec != nil {
		g.Go(func() error {
			ticker := time.NewTicker(journalFlushInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if err := rec.Flush(gctx); err != nil && gctx.Err() == nil {
						logger.Warn("Journal flush failed; retrying on the next tick.", zap.Error(err))
					}
				}
			}
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		logger.Info("Interrupted; shutting down.")
	}
	fmt.Fprintln(cmd.OutOrStdout(), "summary", printer.summary(engine.EventTypes()))
	return nil
}

// resolveTargets tags the scene elements and the optional container.
func resolveTargets(ctx context.Context, host *cdphost.Host, bc config.BrowserConfig) ([]cdphost.ElementRef, cdphost.ElementRef, error) {
	scenes, err := host.Resolve(ctx, bc.SceneSelector)
	if err != nil {
		return nil, "", err
	}
	if len(scenes) == 0 {
		return nil, "", fmt.Errorf("no scenes match %q", bc.SceneSelector)
	}
	if bc.ContainerSelector == "" {
		return scenes, "", nil
	}
	containers, err := host.Resolve(ctx, bc.ContainerSelector)
	if err != nil {
		return nil, "", err
	}
	if len(containers) == 0 {
		return nil, "", fmt.Errorf("no container matches %q", bc.ContainerSelector)
	}
	return scenes, containers[0], nil
}

// pageScroller is the part of the CDP host the auto-scroller drives.
type pageScroller interface {
	ScrollBy(ctx context.Context, dy float64) error
}

// autoScroll scrolls by cfg.Step at cfg.Rate steps per second until
// cfg.Steps have run or ctx ends.
func autoScroll(ctx context.Context, page pageScroller, cfg config.AutoScrollConfig, logger *zap.Logger) error {
	limiter := rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst)
	logger.Info("Auto-scroll started.", zap.Float64("step", cfg.Step), zap.Float64("rate", cfg.Rate), zap.Int("steps", cfg.Steps))

	for i := 0; cfg.Steps == 0 || i < cfg.Steps; i++ {
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("auto-scroll pacing failed: %w", err)
		}
		if err := page.ScrollBy(ctx, cfg.Step); err != nil {
			if ctx.Err() != nil || errors.Is(err, cdphost.ErrClosed) {
				return nil
			}
			return fmt.Errorf("auto-scroll step %d failed: %w", i+1, err)
		}
	}

	select {
	case <-ctx.Done():
	case <-time.After(settleDelay):
	}
	logger.Info("Auto-scroll finished.", zap.Int("steps", cfg.Steps))
	return nil
}
