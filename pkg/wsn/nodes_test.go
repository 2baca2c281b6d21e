// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 U.S. Geological Survey

package wsn

import (
	"bytes"
	"testing"

	"github.com/jkennedy-usgs/sdi12-wsn/pkg/xbeeapi"
)

// ============================================================
// Registry Tests
// ============================================================

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	addr := xbeeapi.Addr64{SH: 0x0013A200, SL: 0x1234}
	r.Register(3, addr)

	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
	n := r.Node(3)
	if n == nil {
		t.Fatal("Node(3) = nil")
	}
	if n.Addr != addr || n.DIP != 3 {
		t.Errorf("node = %+v", n)
	}
	if r.Node(4) != nil {
		t.Error("Node(4) should be nil")
	}
	if r.Node(200) != nil {
		t.Error("out-of-range lookup should be nil")
	}
}

func TestRegistry_RegisterOutOfRangeIgnored(t *testing.T) {
	r := NewRegistry()
	r.Register(NodeArraySize, xbeeapi.Addr64{})
	if r.Len() != 0 {
		t.Error("out-of-range address should not register")
	}
}

func TestRegistry_IDsKeepRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(7, xbeeapi.Addr64{})
	r.Register(0, xbeeapi.Addr64{})
	r.Register(3, xbeeapi.Addr64{})
	want := []uint8{7, 0, 3}
	got := r.IDs()
	if len(got) != len(want) {
		t.Fatalf("IDs = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("IDs[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

// ============================================================
// Sample Validation Tests
// ============================================================

func TestDefaultValidator(t *testing.T) {
	tests := []struct {
		sample uint16
		valid  bool
	}{
		{0x0000, false},
		{FullScaleADC, false},
		{0x0001, true},
		{0x0200, true},
		{FullScaleADC - 1, true},
	}
	for _, tt := range tests {
		if got := DefaultValidator(tt.sample); got != tt.valid {
			t.Errorf("DefaultValidator(0x%04X) = %v, want %v", tt.sample, got, tt.valid)
		}
	}
}

func TestRecordSample_GoodCountCapsAndFloors(t *testing.T) {
	r := NewRegistry()
	r.Register(0, xbeeapi.Addr64{})

	// Invalid samples on an empty ring never go below zero.
	r.RecordSample(0, 0, 0, false)
	if got := r.Node(0).probes[0].NumGoodSamples(); got != 0 {
		t.Errorf("good count after invalid = %d, want 0", got)
	}

	// Fill past the ring size; the count caps.
	for i := 0; i < DataBufferSize+5; i++ {
		r.RecordSample(0, 0, 500, true)
		r.AdvanceSample(0)
	}
	if got := r.Node(0).probes[0].NumGoodSamples(); got != DataBufferSize {
		t.Errorf("good count after overfill = %d, want %d", got, DataBufferSize)
	}
}

func TestRecordSample_InvalidStoresZero(t *testing.T) {
	r := NewRegistry()
	r.Register(0, xbeeapi.Addr64{})
	r.RecordSample(0, 0, 400, true)
	r.AdvanceSample(0)
	r.RecordSample(0, 0, FullScaleADC, false)
	r.AdvanceSample(0)

	// One good sample of 400, one zeroed slot: average is over the good
	// count only.
	if avg := r.Average(0, 0); avg != 400 {
		t.Errorf("average = %d, want 400", avg)
	}
}

func TestAverage_EmptyRingIsZero(t *testing.T) {
	r := NewRegistry()
	r.Register(0, xbeeapi.Addr64{})
	if avg := r.Average(0, 0); avg != 0 {
		t.Errorf("average of empty ring = %d, want 0", avg)
	}
}

func TestAverage_RingWrap(t *testing.T) {
	r := NewRegistry()
	r.Register(0, xbeeapi.Addr64{})
	// Write two full rings of 512 then half a ring of 256: the older 512s
	// are partially overwritten.
	for i := 0; i < 2*DataBufferSize; i++ {
		r.RecordSample(0, 0, 512, true)
		r.AdvanceSample(0)
	}
	for i := 0; i < DataBufferSize/2; i++ {
		r.RecordSample(0, 0, 256, true)
		r.AdvanceSample(0)
	}
	want := uint16((512*DataBufferSize/2 + 256*DataBufferSize/2) / DataBufferSize)
	if avg := r.Average(0, 0); avg != want {
		t.Errorf("average after wrap = %d, want %d", avg, want)
	}
}

// ============================================================
// Message Preparation Tests
// ============================================================

func TestPrepMessage(t *testing.T) {
	r := NewRegistry()
	r.Register(0, xbeeapi.Addr64{})
	for i := 0; i < 4; i++ {
		r.RecordSample(0, 0, 512, true)
		r.RecordSample(0, 1, 498, true)
		r.AdvanceSample(0)
	}

	msg := r.PrepMessage(0)
	if !bytes.HasPrefix(msg, []byte("d+512+498")) {
		t.Errorf("message = %q, want d+512+498 prefix", msg)
	}
	// Six zero bytes of slack for CRC, CR/LF, terminator.
	tail := msg[len(msg)-6:]
	for i, b := range tail {
		if b != 0 {
			t.Errorf("slack byte %d = 0x%02X, want 0", i, b)
		}
	}
}

func TestPrepMessage_NoData(t *testing.T) {
	r := NewRegistry()
	r.Register(5, xbeeapi.Addr64{})
	msg := r.PrepMessage(5)
	if !bytes.HasPrefix(msg, []byte("d+0+0")) {
		t.Errorf("empty-ring message = %q, want d+0+0 prefix", msg)
	}
}
