package camera

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestDeviceValueEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b DeviceValue
		want bool
	}{
		{"same uint16", Uint16(2), Uint16(2), true},
		{"different value", Uint16(2), Uint16(3), false},
		{"same number different kind", Uint8(2), Uint16(2), false},
		{"signed", Int8(-1), Int8(-1), true},
		{"signed vs unsigned", Int8(-1), Uint8(0xFF), false},
		{"strings", String("a"), String("a"), true},
		{"arrays", Array(KindUint16Array, []uint64{1, 2}), Array(KindUint16Array, []uint64{1, 2}), true},
		{"array length", Array(KindUint16Array, []uint64{1}), Array(KindUint16Array, []uint64{1, 2}), false},
		{"zero values", DeviceValue{}, DeviceValue{}, true},
		{"zero vs value", DeviceValue{}, Uint8(0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("%s.Equal(%s) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestDeviceValueAccessors(t *testing.T) {
	if v, ok := Uint16(0x8000).AsUint16(); !ok || v != 0x8000 {
		t.Errorf("AsUint16() = %v, %v", v, ok)
	}
	if _, ok := Uint8(1).AsUint16(); ok {
		t.Error("AsUint16() on uint8 should fail")
	}
	if n, ok := Int16(-300).Int(); !ok || n != -300 {
		t.Errorf("Int() = %v, %v", n, ok)
	}
	if _, ok := Int16(-300).Uint(); ok {
		t.Error("Uint() on int16 should fail")
	}
	if s, ok := String("x").Str(); !ok || s != "x" {
		t.Errorf("Str() = %q, %v", s, ok)
	}
}

func TestParseDeviceValue(t *testing.T) {
	tests := []struct {
		kind    ValueKind
		in      string
		want    DeviceValue
		wantErr bool
	}{
		{KindUint16, "0x8000", Uint16(0x8000), false},
		{KindUint8, "4", Uint8(4), false},
		{KindInt16, "-3", Int16(-3), false},
		{KindString, "hello", String("hello"), false},
		{KindUint8, "256", DeviceValue{}, true},
		{KindUint16Array, "1,2", DeviceValue{}, true},
	}
	for _, tt := range tests {
		got, err := ParseDeviceValue(tt.kind, tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDeviceValue(%s, %q) error = %v, wantErr %v", tt.kind, tt.in, err, tt.wantErr)
			continue
		}
		if err != nil {
			if !errors.Is(err, ErrInvalidValue) {
				t.Errorf("error %v is not ErrInvalidValue", err)
			}
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("ParseDeviceValue(%s, %q) = %s, want %s", tt.kind, tt.in, got, tt.want)
		}
	}
}

func TestDeviceValueJSON(t *testing.T) {
	data, err := json.Marshal(Uint16(2))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != `{"kind":"uint16","value":2}` {
		t.Errorf("Marshal() = %s", data)
	}
}

func TestPropertyCodeString(t *testing.T) {
	if got := PropOperatingMode.String(); got != "OperatingMode" {
		t.Errorf("String() = %q", got)
	}
	unknown := PropertyCode(0xD7FF)
	if unknown.Known() {
		t.Error("0xD7FF should not be known")
	}
	if got := unknown.String(); got != "Unrecognized(0xD7FF)" {
		t.Errorf("String() = %q", got)
	}
	if got := ControlCode(0x1234).String(); !strings.HasPrefix(got, "Unrecognized") {
		t.Errorf("ControlCode String() = %q", got)
	}
}

func TestParsePropertyCode(t *testing.T) {
	if c, err := ParsePropertyCode("shootingfileinfo"); err != nil || c != PropShootingFileInfo {
		t.Errorf("ParsePropertyCode(name) = %v, %v", c, err)
	}
	if c, err := ParsePropertyCode("0xD6CC"); err != nil || c != PropExposureMode {
		t.Errorf("ParsePropertyCode(hex) = %v, %v", c, err)
	}
	if _, err := ParsePropertyCode("nope"); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("ParsePropertyCode(bad) error = %v", err)
	}
}

func TestFormatting(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{ShutterBulb.String(), "bulb"},
		{ShutterSpeed(1<<16 | 250).String(), "1/250"},
		{ShutterSpeed(2<<16 | 1).String(), `2"`},
		{ShutterSpeed(25<<16 | 10).String(), `2.5"`},
		{ISOAuto.String(), "auto"},
		{ISO(400).String(), "ISO 400"},
		{ISO(0x10000000 | 800).String(), "ISO 800"},
		{ISO(0x10FFFFFF).String(), "auto"},
		{Aperture(400).String(), "F4.0"},
		{ApertureUndefined.String(), "undefined"},
		{ExposureAperturePriority.String(), "aperture-priority"},
		{OperatingMode(9).String(), "operating-mode(0x09)"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestParseShutterAndAperture(t *testing.T) {
	if s, err := ParseShutterSpeed("1/250"); err != nil || s != ShutterSpeed(1<<16|250) {
		t.Errorf("ParseShutterSpeed(1/250) = %v, %v", s, err)
	}
	if s, err := ParseShutterSpeed(`2.5"`); err != nil || s != ShutterSpeed(25<<16|10) {
		t.Errorf("ParseShutterSpeed(2.5) = %v, %v", s, err)
	}
	if s, err := ParseShutterSpeed("bulb"); err != nil || s != ShutterBulb {
		t.Errorf("ParseShutterSpeed(bulb) = %v, %v", s, err)
	}
	if a, err := ParseAperture("F5.6"); err != nil || a != 560 {
		t.Errorf("ParseAperture(F5.6) = %v, %v", a, err)
	}
	if _, err := ParseAperture("wide"); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("ParseAperture(wide) error = %v", err)
	}
}

func TestCautionFlags(t *testing.T) {
	got := CautionFlags(CautionFatal | CautionSettingFailure)
	if len(got) != 2 || got[0] != "fatal" || got[1] != "setting-failure" {
		t.Errorf("CautionFlags() = %v", got)
	}
	if CautionFlags(0) != nil {
		t.Error("CautionFlags(0) should be empty")
	}
}
