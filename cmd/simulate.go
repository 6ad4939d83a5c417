// cmd/simulate.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scroller/internal/browser/virtual"
	"github.com/xkilldash9x/scroller/internal/observability"
	"github.com/xkilldash9x/scroller/pkg/scroller"
)

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate [fixture.html]",
		Short: "Scrolls a simulated viewport over an HTML fixture and prints scene events",
		Long: `Lays out an HTML fixture as a stack of blocks (data-height or an inline
height style on each element) and scrolls a virtual viewport over it. Use
"-" to read the fixture from standard input.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runSimulate,
	}

	f := cmd.Flags()
	f.String("scenes", "", "XPath selecting the scene elements")
	f.String("container", "", "XPath selecting the container element")
	f.Float64("viewport-height", 800, "height of the virtual viewport")
	f.StringSlice("positions", nil, "scroll offsets to visit, in order")
	f.Float64("step", 100, "sweep increment when no positions are given")
	f.Float64("offset", scroller.DefaultOffset, "trigger line as a fraction of the viewport height")
	f.Bool("progress", false, "emit progress events")
	f.String("variant", "namespaced", "event names: namespaced or plain")
	f.String("sink", "none", "journal sink: none, jsonl or postgres")
	f.String("journal", "", "journal file for the jsonl sink")

	bindFlag(cmd, "scenes", "simulation.scene_xpath")
	bindFlag(cmd, "container", "simulation.container_xpath")
	bindFlag(cmd, "viewport-height", "simulation.viewport_height")
	bindFlag(cmd, "positions", "simulation.positions")
	bindFlag(cmd, "step", "simulation.step")
	bindFlag(cmd, "offset", "scroller.offset")
	bindFlag(cmd, "progress", "scroller.progress")
	bindFlag(cmd, "variant", "scroller.variant")
	bindFlag(cmd, "sink", "recorder.sink")
	bindFlag(cmd, "journal", "recorder.path")
	return cmd
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := configFrom(ctx)
	if err != nil {
		return err
	}
	sim := cfg.Simulation()
	logger := observability.GetLogger().Named("simulate")

	fixture := sim.Fixture
	if len(args) == 1 {
		fixture = args[0]
	}
	doc, err := loadFixture(cmd.InOrStdin(), fixture)
	if err != nil {
		return err
	}

	scenes, err := doc.Select(sim.SceneXPath)
	if err != nil {
		return err
	}
	if len(scenes) == 0 {
		return fmt.Errorf("no scenes match %q", sim.SceneXPath)
	}
	var container *virtual.Node
	if sim.ContainerXPath != "" {
		if container, err = doc.SelectOne(sim.ContainerXPath); err != nil {
			return err
		}
	}
	logger.Info("Fixture loaded.",
		zap.Int("scenes", len(scenes)),
		zap.Float64("document_height", doc.Height()),
		zap.Bool("container", container != nil),
	)

	win := virtual.NewWindow(doc, sim.ViewportHeight, logger)
	engine := scroller.New[*virtual.Node](win, engineConfig(cfg.Scroller(), scenes, container, logger))

	label := (*virtual.Node).String
	printer := newEventPrinter(cmd.OutOrStdout(), label)
	printer.subscribe(engine)

	_, stopJournal, err := startJournal(ctx, cfg, engine, label, logger)
	if err != nil {
		return err
	}
	closeJournal := func() error {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return stopJournal(shutdownCtx)
	}

	if err := engine.Init(); err != nil {
		engine.Close()
		return errors.Join(err, closeJournal())
	}
	win.Tick()

	positions := sim.Positions
	if len(positions) == 0 {
		if positions, err = sweep(win.MaxScroll(), sim.Step); err != nil {
			engine.Close()
			return errors.Join(err, closeJournal())
		}
	}

	var runErr error
	for _, y := range positions {
		if runErr = ctx.Err(); runErr != nil {
			break
		}
		win.ScrollTo(y)
	}
	engine.Close()

	fmt.Fprintln(cmd.OutOrStdout(), "summary", printer.summary(engine.EventTypes()))
	return errors.Join(runErr, closeJournal())
}

// loadFixture parses the fixture at path, or in when path is "-".
func loadFixture(in io.Reader, path string) (*virtual.Document, error) {
	switch path {
	case "":
		return nil, errors.New("no fixture given; pass a file or set simulation.fixture")
	case "-":
		return virtual.Parse(in)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixture: %w", err)
	}
	defer f.Close()
	return virtual.Parse(f)
}

// sweep scrolls down to limit in increments of step and back to the top.
func sweep(limit, step float64) ([]float64, error) {
	if step <= 0 {
		return nil, fmt.Errorf("simulation.step must be positive, got %v", step)
	}
	var down []float64
	for y := step; y < limit; y += step {
		down = append(down, y)
	}
	down = append(down, limit)

	out := append([]float64(nil), down...)
	for i := len(down) - 2; i >= 0; i-- {
		out = append(out, down[i])
	}
	return append(out, 0), nil
}
