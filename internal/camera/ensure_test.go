package camera

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestEnsureConvergence(t *testing.T) {
	tests := []struct {
		name       string
		applyAfter int
		wantErr    error
	}{
		{"already set", 0, nil},
		{"one update", 1, nil},
		{"five updates", 5, nil},
		{"nine updates", 9, nil},
		{"ten updates", 10, ErrConvergenceTimeout},
		{"never", 50, ErrConvergenceTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := newFakeTransport()
			ft.applyAfter = tt.applyAfter
			iface, _ := startInterface(t, ft, InterfaceOptions{})

			err := iface.Ensure(context.Background(), PropExposureMode, ExposureAperturePriority.Value())
			if !errors.Is(err, tt.wantErr) || (tt.wantErr == nil && err != nil) {
				t.Fatalf("Ensure() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && !ft.value(PropExposureMode).Equal(ExposureAperturePriority.Value()) {
				t.Errorf("device value = %s", ft.value(PropExposureMode))
			}
		})
	}
}

func TestEnsureAlreadyConvergedSkipsSet(t *testing.T) {
	ft := newFakeTransport()
	iface, _ := startInterface(t, ft, InterfaceOptions{})

	g, _ := iface.Enter(context.Background())
	if err := g.Update(); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	g.Release()

	if err := iface.Ensure(context.Background(), PropOperatingMode, ModeStillRec.Value()); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	for _, c := range ft.Calls() {
		if c == "set OperatingMode uint8(0x2)" {
			t.Errorf("unexpected set when already converged: %v", ft.Calls())
		}
	}
}

func TestEnsureWrongKindDoesNotConverge(t *testing.T) {
	ft := newFakeTransport()
	ft.frozen[PropOperatingMode] = true
	iface, _ := startInterface(t, ft, InterfaceOptions{EnsureAttempts: 3})

	// The device reports uint8(2); a uint16(2) target is a different value.
	err := iface.Ensure(context.Background(), PropOperatingMode, Uint16(2))
	if !errors.Is(err, ErrConvergenceTimeout) {
		t.Errorf("Ensure() error = %v, want ErrConvergenceTimeout", err)
	}
}

func TestEnsureSettingFailureCaution(t *testing.T) {
	ft := newFakeTransport()
	ft.frozen[PropExposureMode] = true
	ft.put(PropCaution, Uint16(CautionSettingFailure))
	iface, _ := startInterface(t, ft, InterfaceOptions{})

	g, _ := iface.Enter(context.Background())
	if err := g.Update(); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	g.Release()

	err := iface.Ensure(context.Background(), PropExposureMode, ExposureManual.Value())
	if !errors.Is(err, ErrSettingFailed) {
		t.Errorf("Ensure() error = %v, want ErrSettingFailed", err)
	}
}

func TestEnsureCancelledDuringSleep(t *testing.T) {
	ft := newFakeTransport()
	ft.frozen[PropExposureMode] = true
	iface, _ := startInterface(t, ft, InterfaceOptions{EnsureSpacing: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := iface.Ensure(ctx, PropExposureMode, ExposureManual.Value())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Ensure() error = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Ensure() returned after %s, want prompt exit", elapsed)
	}
}
