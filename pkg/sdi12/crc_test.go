// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 U.S. Geological Survey

package sdi12

import (
	"testing"
	"time"
)

// ============================================================
// CRC Tests
// ============================================================

func TestCalculateCRC_Empty(t *testing.T) {
	if crc := CalculateCRC(nil); crc != 0 {
		t.Errorf("CRC of empty data should be 0, got 0x%04X", crc)
	}
}

func TestCalculateCRC_KnownValues(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected uint16
	}{
		{
			name:     "ASCII '123456789'",
			data:     []byte("123456789"),
			expected: 0xBB3D, // Standard CRC-16/ARC check value
		},
		{
			name:     "single zero byte",
			data:     []byte{0x00},
			expected: 0x0000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			crc := CalculateCRC(tt.data)
			if crc != tt.expected {
				t.Errorf("CRC mismatch: expected 0x%04X, got 0x%04X", tt.expected, crc)
			}
		})
	}
}

func TestEncodeCRC_Printable(t *testing.T) {
	for _, crc := range []uint16{0x0000, 0xFFFF, 0xBB3D, 0xA001} {
		chars := EncodeCRC(crc)
		for i, c := range chars {
			if c < 0x40 || c > 0x7F {
				t.Errorf("CRC 0x%04X char %d = 0x%02X outside printable range", crc, i, c)
			}
		}
	}
}

func TestEncodeCRC_RoundTrip(t *testing.T) {
	for _, crc := range []uint16{0x0000, 0x0001, 0x8000, 0xBB3D, 0xFFFF} {
		if got := DecodeCRC(EncodeCRC(crc)); got != crc {
			t.Errorf("round trip of 0x%04X gave 0x%04X", crc, got)
		}
	}
}

func TestEncodeCRC_SliceOrder(t *testing.T) {
	// Most significant 6-bit slice first: 0x1 0x2 0x3 packed from 0x1083.
	chars := EncodeCRC(0x1083)
	want := [3]byte{0x40 | 0x01, 0x40 | 0x02, 0x40 | 0x03}
	if chars != want {
		t.Errorf("expected %v, got %v", want, chars)
	}
}

// ============================================================
// Address Mapping Tests
// ============================================================

func TestNumericAddr(t *testing.T) {
	tests := []struct {
		c    byte
		num  uint8
		ok   bool
		name string
	}{
		{'0', 0, true, "digit low"},
		{'9', 9, true, "digit high"},
		{'A', 10, true, "upper low"},
		{'Z', 35, true, "upper high"},
		{'a', 36, true, "lower low"},
		{'z', 61, true, "lower high"},
		{'?', 0xFF, false, "query"},
		{'!', 0xFF, false, "terminator"},
		{0x00, 0xFF, false, "nul"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			num, ok := NumericAddr(tt.c)
			if ok != tt.ok || (ok && num != tt.num) {
				t.Errorf("NumericAddr(%q) = %d, %v; want %d, %v", tt.c, num, ok, tt.num, tt.ok)
			}
		})
	}
}

func TestASCIIAddr_RoundTrip(t *testing.T) {
	for n := uint8(0); n < 62; n++ {
		c := ASCIIAddr(n)
		got, ok := NumericAddr(c)
		if !ok || got != n {
			t.Errorf("round trip of %d gave %q -> %d, %v", n, c, got, ok)
		}
	}
	if ASCIIAddr(62) != 0 {
		t.Error("ASCIIAddr(62) should be 0")
	}
}

// ============================================================
// Timer Scaling Tests
// ============================================================

func TestTimerCounts(t *testing.T) {
	// 100 ms at 16 MHz with /1024 prescale is 1562 counts.
	if got := TimerCounts(TimeoutBasic, 16000000); got != 1562 {
		t.Errorf("TimerCounts(100ms, 16MHz) = %d, want 1562", got)
	}
}

func TestTimerCounts_DeadlinesFitCounter(t *testing.T) {
	// No protocol deadline may overflow the firmware's 16-bit compare
	// register at the fastest supported clock.
	deadlines := []struct {
		name string
		d    time.Duration
	}{
		{"TimeoutBasic", TimeoutBasic},
		{"DFailsafe", DFailsafe},
		{"SRQ window", time.Duration(MeasureWait) * time.Second},
	}
	for _, tt := range deadlines {
		if counts := TimerCounts(tt.d, 16000000); counts > 0xFFFF {
			t.Errorf("%s needs %d counts, exceeds 16-bit counter", tt.name, counts)
		}
	}
}
