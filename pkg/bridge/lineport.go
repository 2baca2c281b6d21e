// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 U.S. Geological Survey

package bridge

import (
	"io"
	"sync"
	"time"

	"github.com/jkennedy-usgs/sdi12-wsn/pkg/sdi12"
)

// breakSynthesis is the low interval reported to the state machine when the
// serial layer sees a break. It only needs to clear the 12 ms validity
// threshold.
const breakSynthesis = 12500 * time.Microsecond

// LinePort adapts a host serial port to the sdi12.Line interface.
//
// A USB SDI-12 adapter hides the electrical line: there are no edge
// interrupts to forward, and a break arrives as a NUL with a framing error
// one character time after the line went low. The port bridges the gap by
// synthesis: a received NUL (never a data byte in SDI-12) is replayed into
// the machine as a falling edge followed, after the break-validity
// threshold, by the rising edge. Characters that arrive while the machine
// has receive disabled are buffered and delivered when it listens again, so
// the synthetic delay does not drop the address character.
//
// Deployments on MCU targets replace this with a Line driven by real pin
// interrupts; the protocol core does not change.
type LinePort struct {
	w io.Writer
	m *sdi12.Machine

	mu       sync.Mutex
	rx       bool
	rxEvents bool
	pending  []byte // bytes received while the receiver was off

	tx chan byte
}

// NewLinePort returns a line adapter writing to w. Attach must be called
// before any bytes are pumped.
func NewLinePort(w io.Writer) *LinePort {
	return &LinePort{w: w, tx: make(chan byte, 64)}
}

// Attach binds the machine and starts the transmit pump.
func (l *LinePort) Attach(m *sdi12.Machine) {
	l.m = m
	go l.txLoop()
}

// txLoop writes queued bytes and reports each completion. At 1200 baud the
// kernel write returning is as close to transmit-complete as a host gets.
func (l *LinePort) txLoop() {
	buf := make([]byte, 1)
	for b := range l.tx {
		buf[0] = b
		l.w.Write(buf)
		l.m.OnTxDone()
	}
}

// Pump feeds bytes read from the serial port into the protocol machine.
// Call it from the port reader loop.
func (l *LinePort) Pump(data []byte) {
	for _, b := range data {
		if b == 0 {
			// Break: replay it as an edge pair that clears the validity
			// threshold.
			l.m.OnEdge(false)
			time.AfterFunc(breakSynthesis, func() { l.m.OnEdge(true) })
			continue
		}
		l.mu.Lock()
		deliver := l.rx && l.rxEvents
		if !deliver {
			if len(l.pending) < 16 {
				l.pending = append(l.pending, b)
			}
			l.mu.Unlock()
			continue
		}
		l.mu.Unlock()
		l.m.OnChar(b, 0)
	}
}

// flushPending delivers bytes buffered while the receiver was off.
func (l *LinePort) flushPending() {
	l.mu.Lock()
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()
	for _, b := range pending {
		l.m.OnChar(b, 0)
	}
}

// SetRx implements sdi12.Line.
func (l *LinePort) SetRx(on bool) {
	l.mu.Lock()
	l.rx = on
	flush := on && l.rxEvents
	if !on {
		l.pending = nil
	}
	l.mu.Unlock()
	if flush {
		go l.flushPending()
	}
}

// SetRxEvents implements sdi12.Line.
func (l *LinePort) SetRxEvents(on bool) {
	l.mu.Lock()
	l.rxEvents = on
	flush := on && l.rx
	l.mu.Unlock()
	if flush {
		go l.flushPending()
	}
}

// SetTx implements sdi12.Line. The host transmitter is always ready.
func (l *LinePort) SetTx(on bool) {}

// SetDriver implements sdi12.Line. Direction control lives in the adapter
// hardware.
func (l *LinePort) SetDriver(on bool) {}

// HoldMark implements sdi12.Line. The adapter idles at mark on its own.
func (l *LinePort) HoldMark() {}

// SetEdgeEvents implements sdi12.Line. Edges are synthesized in Pump.
func (l *LinePort) SetEdgeEvents(on bool) {}

// ClearEdgeEvents implements sdi12.Line.
func (l *LinePort) ClearEdgeEvents() {}

// SendByte implements sdi12.Line.
func (l *LinePort) SendByte(b byte) {
	select {
	case l.tx <- b:
	default:
		// A full queue means the port writer has stalled; dropping is the
		// only non-blocking option, and the host will retry the command.
	}
}

// Close stops the transmit pump.
func (l *LinePort) Close() {
	close(l.tx)
}
