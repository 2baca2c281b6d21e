// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 U.S. Geological Survey

package sdi12

import (
	"sync"
	"time"
)

// timeoutBreakChar restarts break validation when a framing error arrives:
// the character that tripped the error has already consumed one character
// time of the 100 ms allowance.
const timeoutBreakChar = TimeoutBasic - 8330*time.Microsecond

// Config carries the collaborators of a Machine.
type Config struct {
	// Line is the half-duplex line driver.
	Line Line
	// Clock is the single compare deadline.
	Clock Deadline
	// Addresses returns the numeric SDI-12 addresses the bridge answers
	// for, in query round-robin order.
	Addresses func() []uint8
}

// Machine is the SDI-12 protocol state machine. Events are delivered through
// OnEdge, OnChar, OnTxDone, and OnDeadline; the cooperative main loop calls
// DoTask to run the parser while the pre-response mark is held. A single
// mutex serializes all entry points, standing in for the firmware's
// non-reentrant interrupt model.
type Machine struct {
	mu    sync.Mutex
	line  Line
	clock Deadline
	addrs func() []uint8

	state  State
	flags  Flags
	rxMeta uint8

	rxBuf [rxBufSize]byte
	rxIdx int

	txBuf     [txBufSize]byte
	sendBuf   []byte // response being transmitted; txBuf or the data buffer
	sendPos   int
	respReady bool

	rxAddr  byte
	numAddr uint8

	dataPtr   []byte // wireless-prepared message; nil means not yet produced
	srqTicks  int
	queryCur  int
	msgSignal uint8

	disabled bool
}

// NewMachine returns a Machine in the Idle state with edge detection armed.
func NewMachine(cfg Config) *Machine {
	m := &Machine{
		line:      cfg.Line,
		clock:     cfg.Clock,
		addrs:     cfg.Addresses,
		state:     StatIdle,
		msgSignal: MsgSignalNone,
	}
	m.line.SetDriver(false)
	m.line.SetRx(false)
	m.line.SetRxEvents(true)
	m.line.SetEdgeEvents(true)
	return m
}

// State returns the current protocol state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// MsgSignal returns the pending wireless data request: MsgSignalNone when
// idle, otherwise the numeric address data is wanted for.
func (m *Machine) MsgSignal() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.msgSignal
}

// ProvideData hands the wireless-prepared message to the protocol side and
// lowers the data request signal. The buffer must start with a placeholder
// byte and end with at least six zero bytes of slack; the placeholder is
// overwritten with the responding address when the data is sent. Data
// arriving after the request has lapsed is discarded.
func (m *Machine) ProvideData(buf []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.msgSignal == MsgSignalNone {
		return
	}
	m.dataPtr = buf
	m.msgSignal = MsgSignalNone
}

// Disable shuts the interface down: all line paths off, state forced Idle.
func (m *Machine) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock.Disable()
	m.line.SetRx(false)
	m.line.SetRxEvents(false)
	m.line.SetTx(false)
	m.line.SetDriver(false)
	m.line.SetEdgeEvents(false)
	m.flags = 0
	m.disabled = true
	m.state = StatIdle
}

// Enable restores the interface after Disable.
func (m *Machine) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock.Disable()
	m.line.SetRxEvents(true)
	m.line.ClearEdgeEvents()
	m.line.SetEdgeEvents(true)
	m.flags = 0
	m.rxMeta = 0
	m.clearRxBuf()
	m.disabled = false
	m.state = StatIdle
}

// DoTask runs the cooperative part of the protocol: when a complete command
// is buffered it invokes the parser, which prepares the response transmitted
// at the end of the pre-response mark. Called regularly from the main loop;
// the parser must complete within the RespMark window, so its cost is a
// handful of byte writes.
func (m *Machine) DoTask() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flags&FlagRxCmd != 0 {
		m.parseCommand()
	}
	m.flags &^= FlagProcCmd | FlagProcErr
}

// OnEdge delivers a line transition. rising reports the level after the
// edge. Classification reads the deadline's elapsed time, so the Line must
// deliver edges promptly.
func (m *Machine) OnEdge(rising bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disabled {
		return
	}

	elapsed := m.clock.Elapsed()

	switch m.state {
	case StatIdle:
		// Falling edge opens a break candidate; rising edges are idle noise.
		if !rising {
			m.clock.Arm(TimeoutBasic)
			m.state = StatTstBrk
		}

	case StatTstBrk:
		// The edge must be rising: the state was entered on the falling one.
		if elapsed < BreakMin {
			m.toIdle()
			break
		}
		// Valid break. A fresh transaction begins; outstanding measurement
		// flags survive so a follow-up D command can still be answered.
		m.flags &^= flagTransient
		m.clock.Arm(MarkMin)
		m.state = StatTstMrk

	case StatTstMrk:
		// Too early to be the end of a valid mark; treat as a new break.
		m.clock.Arm(TimeoutBasic)
		m.state = StatTstBrk

	case StatWaitSRQ:
		// Possible abort break.
		if !rising {
			m.clock.Arm(TimeoutBasic)
			m.state = StatABrk
		}

	case StatABrk:
		if elapsed < BreakMin {
			m.toIdle()
			break
		}
		// Valid abort break. Drop the measurement, withdraw the data
		// request, queue the abort response, and ride the normal mark test
		// into SndMrk.
		m.flags = m.flags&^(flagCmdAny|FlagCRCReq) | FlagRxCmd | FlagAbort
		m.rxMeta = 0
		m.dataPtr = nil
		m.msgSignal = MsgSignalNone
		m.clock.Arm(MarkMin)
		m.state = StatTstMrk

	case StatWaitDBrk:
		if !rising {
			m.clock.Arm(DFailsafe)
			m.state = StatDTst
		} else {
			m.line.SetRx(false)
			m.line.SetRxEvents(true)
			m.toIdle()
		}

	case StatDTst:
		switch {
		case elapsed < MarkMin:
			// Edges this close together are a character in flight.
			m.clock.Arm(CharFailsafe)
			m.line.SetEdgeEvents(false)
			m.line.SetRxEvents(true)
			m.state = StatDChr
		case elapsed < BreakMin:
			// Too long for a character, too short for a break.
			m.line.SetRx(false)
			m.line.SetRxEvents(true)
			m.toIdle()
		default:
			// A real break; the mark comes next.
			m.line.SetRxEvents(true)
			m.clock.Arm(MarkMin)
			m.state = StatTstMrk
		}

	case StatWaitDBrk2:
		if !rising {
			m.clock.Arm(TimeoutBasic)
			m.state = StatDBrk
		} else {
			m.toIdle()
		}

	case StatDBrk:
		if elapsed < BreakMin {
			m.toIdle()
		} else {
			m.clock.Arm(MarkMin)
			m.state = StatTstMrk
		}
	}
}

// OnChar delivers a received character together with the error flags that
// were captured with it.
func (m *Machine) OnChar(c byte, errs CharError) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disabled {
		return
	}

	c &= 0x7F

	if errs != 0 {
		// A character error is a suspected break: a framing error looks
		// like the leading low interval, anything else like the mark after
		// one.
		m.line.SetRx(false)
		m.line.SetEdgeEvents(true)
		m.flags &^= flagTransient
		if errs&ErrFraming != 0 {
			m.clock.Arm(timeoutBreakChar)
			m.state = StatTstBrk
		} else {
			m.clock.Arm(MarkMin)
			m.state = StatTstMrk
		}
		return
	}

	switch m.state {
	case StatWaitAct:
		// First character after break+mark: '?' or one of our addresses.
		// With a measurement outstanding only the same address is accepted,
		// '?' included out.
		if m.flags&flagCmdAny != 0 {
			if c != m.rxAddr {
				m.rejectChar()
				return
			}
			m.startCommand(c)
			return
		}
		if c == '?' {
			m.startCommand(c)
			return
		}
		num, ok := NumericAddr(c)
		if !ok || !m.knownAddress(num) {
			m.rejectChar()
			return
		}
		m.numAddr = num
		m.rxAddr = c
		m.startCommand(c)

	case StatWaitChr:
		if c == '!' {
			if m.rxIdx >= rxBufSize-1 {
				m.rejectChar()
				return
			}
			m.rxBuf[m.rxIdx] = c
			m.rxIdx++
			m.line.SetRx(false)
			m.line.SetEdgeEvents(false)
			// Hold mark through the response delay; the parser runs in the
			// main loop while the deadline counts down.
			m.line.HoldMark()
			m.line.SetDriver(true)
			m.clock.Arm(RespMark)
			m.flags |= FlagRxCmd
			m.state = StatSndMrk
			return
		}
		if m.rxIdx >= rxBufSize-1 {
			m.rejectChar()
			return
		}
		m.rxBuf[m.rxIdx] = c
		m.rxIdx++
		m.clock.Arm(InterChar)

	case StatDChr:
		// First character of a post-SRQ D command: must repeat the address
		// of the measurement, which also rejects '?'.
		if c == m.rxAddr {
			m.startCommand(c)
		} else {
			m.rejectChar()
		}
	}
}

// OnTxDone reports that the previously sent character has left the wire.
func (m *Machine) OnTxDone() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disabled {
		return
	}

	switch m.state {
	case StatSndResp:
		if m.sendPos < len(m.sendBuf) {
			m.line.SendByte(m.sendBuf[m.sendPos])
			m.sendPos++
			return
		}
		m.finishResponse()

	case StatSendSRQ:
		if m.sendPos < len(m.sendBuf) {
			m.line.SendByte(m.sendBuf[m.sendPos])
			m.sendPos++
			return
		}
		// SRQ out. Open the window in which the host may send the D
		// command without a break: receiver on but silent until an edge
		// tells us a character is really coming.
		m.line.SetDriver(false)
		m.line.SetTx(false)
		m.line.SetRx(true)
		m.line.SetRxEvents(false)
		m.line.ClearEdgeEvents()
		m.line.SetEdgeEvents(true)
		m.clock.Arm(DWindow)
		m.state = StatWaitDBrk
	}
}

// OnDeadline delivers an expired compare deadline.
func (m *Machine) OnDeadline() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disabled {
		return
	}

	switch m.state {
	case StatTstBrk:
		// Line stuck low past the failsafe.
		m.toIdle()

	case StatTstMrk:
		if m.flags&FlagAbort != 0 {
			// Mark after an abort break: answer with the bare ack.
			m.line.HoldMark()
			m.line.SetDriver(true)
			m.clock.Arm(RespMark)
			m.state = StatSndMrk
			return
		}
		// Valid break+mark; a start bit is next. Keep the deadline running
		// to catch a faulted line.
		m.clock.Arm(TimeoutBasic)
		m.line.SetRx(true)
		m.line.SetEdgeEvents(false)
		m.state = StatWaitAct

	case StatWaitAct, StatWaitChr:
		m.line.SetRx(false)
		m.toIdle()

	case StatSndMrk:
		// Mark held long enough; transmit whatever the parser prepared.
		// No prepared response (ProcErr, or a parser that never ran) ends
		// the transaction silently.
		m.clock.Disable()
		if !m.respReady || len(m.sendBuf) == 0 {
			m.toIdle()
			return
		}
		m.line.SetTx(true)
		m.line.SendByte(m.sendBuf[0])
		m.sendPos = 1
		m.state = StatSndResp

	case StatWaitSRQ:
		m.srqTicks++
		m.clock.Reset()
		if m.srqTicks >= 10*MeasureWait {
			// Window expired; late data is discarded.
			m.toIdle()
			return
		}
		if m.dataPtr == nil {
			return
		}
		// Data arrived inside the window: send the service request.
		m.clock.Disable()
		m.line.SetTx(true)
		m.line.SetDriver(true)
		m.txBuf[0] = m.rxAddr
		m.txBuf[1] = '\r'
		m.txBuf[2] = '\n'
		m.sendBuf = m.txBuf[:3]
		m.line.SendByte(m.sendBuf[0])
		m.sendPos = 1
		m.state = StatSendSRQ

	case StatWaitDBrk:
		// Window over; from here the host must break first.
		m.line.SetRx(false)
		m.line.SetRxEvents(true)
		m.clock.Arm(DFailsafe)
		m.state = StatWaitDBrk2

	case StatWaitDBrk2, StatABrk, StatDBrk:
		m.toIdle()

	case StatDTst:
		m.line.SetRxEvents(true)
		m.toIdle()

	case StatDChr:
		m.line.SetRx(false)
		m.toIdle()
	}
}

// startCommand begins buffering a command whose first (address) character
// has just been accepted.
func (m *Machine) startCommand(c byte) {
	m.clearRxBuf()
	m.rxBuf[0] = c
	m.rxIdx = 1
	m.clock.Arm(InterChar)
	m.state = StatWaitChr
}

// rejectChar drops an invalid first character or overlong command and
// returns the bus to idle, without any response.
func (m *Machine) rejectChar() {
	m.line.SetRx(false)
	m.toIdle()
}

// finishResponse runs when the last response character has been sent.
func (m *Machine) finishResponse() {
	if m.rxMeta&MetaRxD != 0 {
		// That was a data response. M and V are single shot; a concurrent
		// measurement survives further D requests.
		m.dataPtr = nil
		if m.flags&FlagCmdC != 0 {
			m.rxMeta &^= MetaRxD
			m.flags &^= flagTransient
		} else {
			m.flags = 0
			m.rxMeta = 0
		}
		m.toIdle()
		return
	}
	if m.flags&FlagCmdM != 0 {
		// The M acknowledgment is out; wait for the wireless side.
		m.line.SetTx(false)
		m.line.SetDriver(false)
		m.line.SetRx(false)
		m.line.ClearEdgeEvents()
		m.line.SetEdgeEvents(true)
		m.srqTicks = 0
		m.clock.Arm(SRQTick)
		m.state = StatWaitSRQ
		return
	}
	m.toIdle()
}

// toIdle is the terminal path shared by every timeout and fault: transient
// flags cleared, pending data discarded, transmit path disabled, edge
// detection re-armed. Outstanding measurement flags survive (see DESIGN.md).
func (m *Machine) toIdle() {
	m.clock.Disable()
	m.line.SetTx(false)
	m.line.SetDriver(false)
	m.line.SetRx(false)
	m.line.ClearEdgeEvents()
	m.line.SetEdgeEvents(true)
	m.flags &^= flagTransient
	m.dataPtr = nil
	m.msgSignal = MsgSignalNone
	m.respReady = false
	m.sendBuf = nil
	m.sendPos = 0
	m.state = StatIdle
}

func (m *Machine) clearRxBuf() {
	for i := range m.rxBuf {
		m.rxBuf[i] = 0
	}
	m.rxIdx = 0
}

func (m *Machine) knownAddress(num uint8) bool {
	for _, a := range m.addrs() {
		if a == num {
			return true
		}
	}
	return false
}
