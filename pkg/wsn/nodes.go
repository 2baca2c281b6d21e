// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 U.S. Geological Survey

// Package wsn manages the wireless sensor network side of the bridge: the
// registry of soil-moisture nodes and the session controller that discovers,
// configures, and samples them. It is not tied to a particular radio; the
// xbeeapi package supplies the transport.
package wsn

import (
	"strconv"

	"github.com/jkennedy-usgs/sdi12-wsn/pkg/xbeeapi"
)

const (
	// DataBufferSize is the per-probe sample ring capacity.
	DataBufferSize = 16
	// NodeArraySize bounds the number of concurrent nodes; the registry
	// index is the DIP-assigned SDI-12 address.
	NodeArraySize = 10
	// ProbesPerNode is fixed by the node carrier board.
	ProbesPerNode = 2
)

// FullScaleADC is the 10-bit full-scale reading rejected by the default
// sample validator, alongside zero. Both are what a disconnected or shorted
// probe produces.
const FullScaleADC = 0x03FF

// Validator decides whether an ADC reading is a usable sample.
type Validator func(sample uint16) bool

// DefaultValidator rejects the zero and full-scale sentinels.
func DefaultValidator(sample uint16) bool {
	return sample != 0 && sample != FullScaleADC
}

// Probe holds the sample ring and quality count of one soil-moisture probe.
type Probe struct {
	data    [DataBufferSize]uint16
	numGood uint8
}

// NumGoodSamples returns the current good-sample count.
func (p *Probe) NumGoodSamples() uint8 { return p.numGood }

// Node is one wireless node: radio identity, DIP-derived address, probe
// data, and the diagnostic error counters.
type Node struct {
	Addr xbeeapi.Addr64
	DIP  uint8

	probes        [ProbesPerNode]Probe
	currentSample uint8

	UARTTimeouts uint16
	PacketErrors uint16
	CRCErrors    uint16
}

// Probe returns the node's i-th probe, or nil.
func (n *Node) Probe(i int) *Probe {
	if i < 0 || i >= ProbesPerNode {
		return nil
	}
	return &n.probes[i]
}

// Registry holds the nodes, indexed by SDI-12 address. It is populated by
// the discovery pass before any SDI-12 activity and never resized after.
type Registry struct {
	nodes   [NodeArraySize]Node
	present [NodeArraySize]bool
	ids     []uint8 // registration order, for query responses and sampling
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register records a node under its DIP-assigned address. Out-of-range
// addresses are ignored: the carrier board cannot produce them.
func (r *Registry) Register(id uint8, addr xbeeapi.Addr64) {
	if int(id) >= NodeArraySize {
		return
	}
	r.nodes[id] = Node{Addr: addr, DIP: id}
	if !r.present[id] {
		r.ids = append(r.ids, id)
	}
	r.present[id] = true
}

// IDs returns the registered SDI-12 addresses in registration order. The
// slice is shared; callers must not modify it.
func (r *Registry) IDs() []uint8 {
	return r.ids
}

// Node returns the node registered at id, or nil.
func (r *Registry) Node(id uint8) *Node {
	if int(id) >= NodeArraySize || !r.present[id] {
		return nil
	}
	return &r.nodes[id]
}

// Len returns the number of registered nodes.
func (r *Registry) Len() int { return len(r.ids) }

// RecordSample stores one reading in the probe's ring at the node's current
// slot. Valid samples bump the good count (capped at the ring size); invalid
// ones store zero and drop it (floored at zero).
func (r *Registry) RecordSample(id uint8, probe int, sample uint16, valid bool) {
	n := r.Node(id)
	if n == nil || probe < 0 || probe >= ProbesPerNode {
		return
	}
	p := &n.probes[probe]
	if valid {
		p.data[n.currentSample] = sample
		if p.numGood < DataBufferSize {
			p.numGood++
		}
	} else {
		p.data[n.currentSample] = 0
		if p.numGood > 0 {
			p.numGood--
		}
	}
}

// AdvanceSample moves the node's ring cursor after both probes have been
// recorded.
func (r *Registry) AdvanceSample(id uint8) {
	n := r.Node(id)
	if n == nil {
		return
	}
	if n.currentSample >= DataBufferSize-1 {
		n.currentSample = 0
	} else {
		n.currentSample++
	}
}

// Average returns the probe's running average: the ring sum over the good
// sample count, zero when no good samples are held. Rejected slots hold
// zero, so they do not skew the sum.
func (r *Registry) Average(id uint8, probe int) uint16 {
	n := r.Node(id)
	if n == nil || probe < 0 || probe >= ProbesPerNode {
		return 0
	}
	p := &n.probes[probe]
	if p.numGood == 0 {
		return 0
	}
	var sum uint32
	for _, v := range p.data {
		sum += uint32(v)
	}
	return uint16(sum / uint32(p.numGood))
}

// PrepMessage builds the SDI-12 data message for a node: a placeholder byte
// (replaced by the responding address on the wire), the two probe averages
// as signed values, and six zero bytes of slack for CRC, CR/LF, and the
// terminator.
func (r *Registry) PrepMessage(id uint8) []byte {
	msg := make([]byte, 0, 24)
	msg = append(msg, 'd')
	msg = append(msg, '+')
	msg = strconv.AppendUint(msg, uint64(r.Average(id, 0)), 10)
	msg = append(msg, '+')
	msg = strconv.AppendUint(msg, uint64(r.Average(id, 1)), 10)
	return append(msg, make([]byte, 6)...)
}
