// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 U.S. Geological Survey

package bridge

import (
	"bytes"
	"testing"

	"github.com/jkennedy-usgs/sdi12-wsn/pkg/xbeeapi"
)

func TestStatus_EncodeDecode(t *testing.T) {
	s := &Status{
		Time:          1700000000,
		ProtocolState: "Idle",
		SessionState:  "Asleep",
		SessionDetail: "network asleep, awake in 7s",
		Nodes: []NodeStatus{
			{
				ID:           3,
				SerialHigh:   0x0013A200,
				SerialLow:    0x4062ABCD,
				Averages:     [2]uint16{512, 498},
				GoodSamples:  [2]uint8{16, 14},
				UARTTimeouts: 2,
			},
		},
	}

	data, err := EncodeStatus(s)
	if err != nil {
		t.Fatalf("EncodeStatus: %v", err)
	}
	got, err := DecodeStatus(data)
	if err != nil {
		t.Fatalf("DecodeStatus: %v", err)
	}
	if got.ProtocolState != "Idle" || got.SessionState != "Asleep" {
		t.Errorf("states = %q, %q", got.ProtocolState, got.SessionState)
	}
	if len(got.Nodes) != 1 {
		t.Fatalf("nodes = %d", len(got.Nodes))
	}
	n := got.Nodes[0]
	if n.ID != 3 || n.Averages != [2]uint16{512, 498} || n.UARTTimeouts != 2 {
		t.Errorf("node = %+v", n)
	}
}

func TestSnapshot_ReflectsRegistry(t *testing.T) {
	var sdiBuf, xbeeBuf bytes.Buffer
	b := assemble(&sdiBuf, &xbeeBuf)

	b.reg.Register(5, xbeeapi.Addr64{SH: 1, SL: 2})
	for i := 0; i < 3; i++ {
		b.reg.RecordSample(5, 0, 600, true)
		b.reg.RecordSample(5, 1, 300, true)
		b.reg.AdvanceSample(5)
	}

	s := b.Snapshot()
	if s.ProtocolState != "Idle" {
		t.Errorf("protocol state = %q", s.ProtocolState)
	}
	if len(s.Nodes) != 1 {
		t.Fatalf("nodes = %d", len(s.Nodes))
	}
	n := s.Nodes[0]
	if n.ID != 5 || n.Averages[0] != 600 || n.Averages[1] != 300 {
		t.Errorf("node = %+v", n)
	}
	if n.GoodSamples != [2]uint8{3, 3} {
		t.Errorf("good samples = %v", n.GoodSamples)
	}
}
