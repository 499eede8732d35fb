package camera

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Convergence defaults.
const (
	defaultEnsureAttempts = 10
	defaultEnsureSpacing  = 100 * time.Millisecond
)

// Ensure drives a property to target and waits until the device reports it.
//
// Each attempt acquires the permit, reads the cached value and, if it does
// not match, writes target and refreshes the cache. A property that was never
// reported counts as not yet converged. The permit is released between
// attempts so other callers can interleave.
//
// Returns:
//   - nil once the cache holds target
//   - ErrSettingFailed if the device raises the setting-failure caution flag
//   - ErrConvergenceTimeout when the attempt budget is exhausted
//   - any transport or worker error, unchanged
func (i *Interface) Ensure(ctx context.Context, code PropertyCode, target DeviceValue) error {
	for attempt := 0; attempt < i.ensureAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, i.ensureSpacing); err != nil {
				return err
			}
		}

		g, err := i.Enter(ctx)
		if err != nil {
			return err
		}
		converged, err := ensureStep(g, code, target)
		g.Release()
		if err != nil {
			return err
		}
		if converged {
			if attempt > 0 {
				i.logDebug("property converged", "property", code, "value", target, "attempts", attempt+1)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s to %s after %d attempts", ErrConvergenceTimeout, code, target, i.ensureAttempts)
}

func ensureStep(g *Guard, code PropertyCode, target DeviceValue) (bool, error) {
	if caution, err := g.GetValue(PropCaution); err == nil {
		if flags, ok := caution.AsUint16(); ok && flags&CautionSettingFailure != 0 {
			return false, fmt.Errorf("%w: while applying %s (caution 0x%04X)", ErrSettingFailed, code, flags)
		}
	}

	current, err := g.GetValue(code)
	switch {
	case err == nil && current.Equal(target):
		return true, nil
	case err != nil && !errors.Is(err, ErrUnknownProperty):
		return false, err
	}

	if err := g.Set(code, target); err != nil {
		return false, err
	}
	if err := g.Update(); err != nil {
		return false, err
	}
	return false, nil
}
