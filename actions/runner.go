package actions

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"

	"github.com/crawlkit/crawlkit/log"
)

const defaultTimeout = 20 * time.Second

// Runner executes an action sequence against a chromedp tab context.
// Execution is sequential; a failing strict action aborts the remainder and
// the page is captured in whatever state it reached.
type Runner struct {
	DefaultTimeoutS float64
}

// Run executes as in order. The returned results always cover the executed
// prefix; err is non-nil only when a strict action failed.
func (r *Runner) Run(ctx context.Context, as []Action) ([]Result, error) {
	logger := log.LoggerFromContext(ctx)
	results := make([]Result, 0, len(as))
	for i, a := range as {
		t0 := time.Now()
		err := r.runOne(ctx, a)
		res := Result{Type: a.Type, OK: err == nil, ElapsedMS: float64(time.Since(t0).Milliseconds())}
		if err != nil {
			res.Error = err.Error()
			logger.Debug("action failed", slog.Int("index", i), slog.String("type", a.Type), slog.String("err", err.Error()))
			results = append(results, res)
			if a.IsStrict() {
				return results, fmt.Errorf("action %d (%s): %w", i, a.Type, err)
			}
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

func (r *Runner) runOne(ctx context.Context, a Action) error {
	timeout := defaultTimeout
	if r.DefaultTimeoutS > 0 {
		timeout = time.Duration(r.DefaultTimeoutS * float64(time.Second))
	}
	if a.TimeoutS > 0 {
		timeout = time.Duration(a.TimeoutS * float64(time.Second))
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch a.Type {
	case TypeWaitFor:
		return chromedp.Run(actx, chromedp.WaitReady(a.Selector, chromedp.ByQuery))

	case TypeClick:
		repeat := max(1, a.Repeat)
		for range repeat {
			if err := clickIfPresent(actx, a.Selector, a.Strict); err != nil {
				return err
			}
			sleepJitter(actx, a.PauseS, 0.25)
		}
		return nil

	case TypeHover:
		return hover(actx, a.Selector)

	case TypeType:
		tasks := chromedp.Tasks{chromedp.Focus(a.Selector, chromedp.ByQuery)}
		if a.Clear == nil || *a.Clear {
			tasks = append(tasks, chromedp.SetValue(a.Selector, "", chromedp.ByQuery))
		}
		tasks = append(tasks, chromedp.SendKeys(a.Selector, a.Text, chromedp.ByQuery))
		return chromedp.Run(actx, tasks)

	case TypeClosePopup:
		// click-if-present; absence is fine
		return clickIfPresent(actx, a.Selector, false)

	case TypeScroll:
		repeat := max(1, a.Repeat)
		minPx, maxPx := a.MinPx, a.MaxPx
		if maxPx <= 0 {
			minPx, maxPx = 250, 600
		}
		for range repeat {
			px := minPx
			if maxPx > minPx {
				px += rand.Intn(maxPx - minPx + 1)
			}
			if err := chromedp.Run(actx, chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", px), nil)); err != nil {
				return err
			}
			sleepJitter(actx, a.PauseS, 0.25)
		}
		return nil

	case TypeSleep:
		seconds := a.Seconds
		switch a.Preset {
		case PresetShort:
			seconds = 0.8
		case PresetMedium:
			seconds = 2.0
		case PresetLong:
			seconds = 5.0
		}
		sleepJitter(actx, seconds, 0.25)
		return nil

	case TypeMouseDrift:
		return mouseDrift(actx)

	default:
		// unknown types are caught at config load; ignore here for forward
		// compatibility
		return nil
	}
}

// clickIfPresent clicks the first node matching sel. Unless strict, a
// missing element is not an error.
func clickIfPresent(ctx context.Context, sel string, strict bool) error {
	var nodes []*cdp.Node
	if err := chromedp.Run(ctx, chromedp.Nodes(sel, &nodes, chromedp.ByQuery, chromedp.AtLeast(0))); err != nil {
		return err
	}
	if len(nodes) == 0 {
		if strict {
			return fmt.Errorf("no node matches selector %q", sel)
		}
		return nil
	}
	return chromedp.Run(ctx, chromedp.MouseClickNode(nodes[0]))
}

// hover dispatches a mouseMoved event at the element centroid.
func hover(ctx context.Context, sel string) error {
	var nodes []*cdp.Node
	if err := chromedp.Run(ctx, chromedp.Nodes(sel, &nodes, chromedp.ByQuery)); err != nil {
		return err
	}
	if len(nodes) == 0 {
		return fmt.Errorf("no node matches selector %q", sel)
	}
	return chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		box, err := dom.GetBoxModel().WithNodeID(nodes[0].NodeID).Do(ctx)
		if err != nil {
			return err
		}
		x, y := quadCentroid(box.Content)
		return input.DispatchMouseEvent(input.MouseMoved, x, y).Do(ctx)
	}))
}

func mouseDrift(ctx context.Context) error {
	return chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		x := 200 + rand.Float64()*400
		y := 150 + rand.Float64()*300
		for range 3 {
			x += rand.Float64()*40 - 20
			y += rand.Float64()*40 - 20
			if err := input.DispatchMouseEvent(input.MouseMoved, x, y).Do(ctx); err != nil {
				return err
			}
			time.Sleep(time.Duration(30+rand.Intn(60)) * time.Millisecond)
		}
		return nil
	}))
}

func quadCentroid(quad dom.Quad) (float64, float64) {
	if len(quad) < 8 {
		return 0, 0
	}
	var x, y float64
	for i := 0; i < 8; i += 2 {
		x += quad[i]
		y += quad[i+1]
	}
	return x / 4, y / 4
}

// sleepJitter sleeps seconds with +-frac randomization, honoring ctx.
func sleepJitter(ctx context.Context, seconds, frac float64) {
	if seconds <= 0 {
		return
	}
	d := seconds * (1 + (rand.Float64()*2-1)*frac)
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(d * float64(time.Second))):
	}
}
