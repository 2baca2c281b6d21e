// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 U.S. Geological Survey

package bridge

import (
	"time"

	"github.com/fxamacker/cbor/v2"
)

// NodeStatus is the per-node slice of a status frame.
type NodeStatus struct {
	ID           uint8     `cbor:"1,keyasint"`
	SerialHigh   uint32    `cbor:"2,keyasint"`
	SerialLow    uint32    `cbor:"3,keyasint"`
	Averages     [2]uint16 `cbor:"4,keyasint"`
	GoodSamples  [2]uint8  `cbor:"5,keyasint"`
	UARTTimeouts uint16    `cbor:"6,keyasint"`
	PacketErrors uint16    `cbor:"7,keyasint"`
	CRCErrors    uint16    `cbor:"8,keyasint"`
}

// Status is one snapshot of the bridge, published on the websocket feed and
// rendered by the monitor. Integer keys keep the frames compact on the
// wire.
type Status struct {
	Time          int64        `cbor:"1,keyasint"`
	ProtocolState string       `cbor:"2,keyasint"`
	SessionState  string       `cbor:"3,keyasint"`
	SessionDetail string       `cbor:"4,keyasint"`
	Nodes         []NodeStatus `cbor:"5,keyasint"`
}

// EncodeStatus marshals a status frame to CBOR.
func EncodeStatus(s *Status) ([]byte, error) {
	return cbor.Marshal(s)
}

// DecodeStatus unmarshals a CBOR status frame.
func DecodeStatus(data []byte) (*Status, error) {
	var s Status
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Snapshot captures the current bridge state.
func (b *Bridge) Snapshot() *Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &Status{
		Time:          time.Now().Unix(),
		ProtocolState: b.machine.State().String(),
		SessionState:  b.ctl.State().String(),
		SessionDetail: b.ctl.Status(),
	}
	for _, id := range b.reg.IDs() {
		n := b.reg.Node(id)
		if n == nil {
			continue
		}
		s.Nodes = append(s.Nodes, NodeStatus{
			ID:           id,
			SerialHigh:   n.Addr.SH,
			SerialLow:    n.Addr.SL,
			Averages:     [2]uint16{b.reg.Average(id, 0), b.reg.Average(id, 1)},
			GoodSamples:  [2]uint8{n.Probe(0).NumGoodSamples(), n.Probe(1).NumGoodSamples()},
			UARTTimeouts: n.UARTTimeouts,
			PacketErrors: n.PacketErrors,
			CRCErrors:    n.CRCErrors,
		})
	}
	return s
}
