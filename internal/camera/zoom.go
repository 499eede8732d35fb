package camera

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// defaultZoomLevels is swept when the device does not report a range for
// the absolute zoom position.
const defaultZoomLevels = 32

// zoomStep is one lens position and the focal length it gives.
type zoomStep struct {
	Level       uint8
	FocalLength float64
}

// zoomTo writes the absolute position and pulses the absolute zoom
// control. The position is written once, not converged: the device only
// moves the lens on the control pulse.
func (e *Engine) zoomTo(ctx context.Context, level uint8) error {
	g, err := e.iface.Enter(ctx)
	if err != nil {
		return err
	}
	err = g.Set(PropZoomAbsolutePosition, Uint8(level))
	g.Release()
	if err != nil {
		return err
	}
	return e.hold(ctx, CtrlZoomControlAbsolute, e.opts.ZoomAbsoluteHold)
}

func (e *Engine) zoomToFocalLength(ctx context.Context, focal float64) error {
	if focal <= 0 || math.IsNaN(focal) || math.IsInf(focal, 0) {
		return fmt.Errorf("%w: focal length %v", ErrInvalidValue, focal)
	}
	if len(e.zoomTable) == 0 {
		table, err := e.sweepZoom(ctx)
		if err != nil {
			return fmt.Errorf("measuring zoom magnification: %w", err)
		}
		e.zoomTable = table
	}
	step := closestZoomStep(e.zoomTable, focal)
	e.logInfo("zooming to focal length", "requested_mm", focal, "level", step.Level,
		"focal_mm", step.FocalLength)
	return e.zoomTo(ctx, step.Level)
}

// closestZoomStep returns the step whose focal length is nearest focal.
// Ties go to the wider position.
func closestZoomStep(table []zoomStep, focal float64) zoomStep {
	best := table[0]
	for _, s := range table[1:] {
		if math.Abs(s.FocalLength-focal) < math.Abs(best.FocalLength-focal) {
			best = s
		}
	}
	return best
}

// zoomLevels lists the lens positions to sweep.
func (e *Engine) zoomLevels(ctx context.Context) ([]uint8, error) {
	info, err := e.cachedValue(ctx, PropZoomAbsolutePosition, true)
	if err != nil && !errors.Is(err, ErrUnknownProperty) {
		return nil, err
	}
	lo, hi, step := uint64(0), uint64(defaultZoomLevels-1), uint64(1)
	if c := info.Constraints; c != nil && c.Range != nil {
		if n, ok := c.Range.Min.Uint(); ok {
			lo = n
		}
		if n, ok := c.Range.Max.Uint(); ok {
			hi = min(n, math.MaxUint8)
		}
		if n, ok := c.Range.Step.Uint(); ok && n > 0 {
			step = n
		}
	}
	var levels []uint8
	for l := lo; l <= hi; l += step {
		levels = append(levels, uint8(l))
	}
	if len(levels) == 0 {
		return nil, fmt.Errorf("%w: empty zoom range", ErrInvalidValue)
	}
	return levels, nil
}

// sweepZoom visits every lens position and reads the magnification the
// device reports there. The focal length is the wide-end focal length
// scaled by the magnification percentage.
func (e *Engine) sweepZoom(ctx context.Context) ([]zoomStep, error) {
	levels, err := e.zoomLevels(ctx)
	if err != nil {
		return nil, err
	}
	e.logInfo("sweeping zoom range", "levels", len(levels))

	table := make([]zoomStep, 0, len(levels))
	for _, level := range levels {
		if err := e.zoomTo(ctx, level); err != nil {
			return nil, err
		}
		if err := sleep(ctx, e.opts.ZoomSettle); err != nil {
			return nil, err
		}
		info, err := e.cachedValue(ctx, PropZoomMagnificationInfo, true)
		if err != nil {
			return nil, err
		}
		elems, ok := info.Current.Elems()
		if !ok || len(elems) < 2 {
			return nil, fmt.Errorf("%w: zoom magnification info is %s", ErrInvalidValue, info.Current)
		}
		table = append(table, zoomStep{
			Level:       level,
			FocalLength: e.opts.MinFocalLength * float64(elems[1]) / 100,
		})
	}
	return table, nil
}
