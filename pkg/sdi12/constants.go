// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 U.S. Geological Survey

// Package sdi12 implements the slave side of the SDI-12 serial protocol for
// a wireless sensor network bridge.
//
// The bridge answers a data logger on a shared half-duplex 1200 baud line,
// acknowledges measurement commands on the SDI-12 timing schedule, and
// returns values produced by the wireless side. The package owns the line
// protocol state machine and the command parser; the physical line and the
// compare timer are supplied by the caller through the Line and Deadline
// interfaces.
package sdi12

import "time"

// State identifies a protocol state of the line state machine.
type State int

// Protocol states. See the Machine event handlers for the transitions.
const (
	StatIdle      State = iota // waiting for the falling edge of a break
	StatTstBrk                 // break started, waiting for its rising edge
	StatTstMrk                 // break seen, waiting out the post-break mark
	StatWaitAct                // mark done, waiting for the address character
	StatWaitChr                // command characters arriving, up to '!'
	StatSndMrk                 // holding mark before the response; parser runs here
	StatSndResp                // transmitting the response
	StatWaitSRQ                // M acknowledged, waiting for wireless data or timeout
	StatABrk                   // falling edge during WaitSRQ, testing for abort break
	StatSendSRQ                // transmitting the service request
	StatWaitDBrk               // SRQ sent, window for a D command with or without break
	StatDTst                   // edge inside the window, classifying break vs character
	StatWaitDBrk2              // window expired, a full break is now required
	StatDBrk                   // post-SRQ break started, waiting for its rising edge
	StatDChr                   // first character of a no-break D command arriving
)

// String returns the state name for diagnostics.
func (s State) String() string {
	switch s {
	case StatIdle:
		return "Idle"
	case StatTstBrk:
		return "TstBrk"
	case StatTstMrk:
		return "TstMrk"
	case StatWaitAct:
		return "WaitAct"
	case StatWaitChr:
		return "WaitChr"
	case StatSndMrk:
		return "SndMrk"
	case StatSndResp:
		return "SndResp"
	case StatWaitSRQ:
		return "WaitSRQ"
	case StatABrk:
		return "ABrk"
	case StatSendSRQ:
		return "SendSRQ"
	case StatWaitDBrk:
		return "WaitDBrk"
	case StatDTst:
		return "DTst"
	case StatWaitDBrk2:
		return "WaitDBrk2"
	case StatDBrk:
		return "DBrk"
	case StatDChr:
		return "DChr"
	default:
		return "UNKNOWN"
	}
}

// Flags carries the transaction flags shared between the receive path and
// the parser.
type Flags uint8

const (
	FlagRxCmd   Flags = 1 << 0 // complete command in the receive buffer
	FlagProcCmd Flags = 1 << 1 // command parsed, response ready to send
	FlagProcErr Flags = 1 << 2 // command parsed, invalid; no response
	FlagCRCReq  Flags = 1 << 3 // command requested a CRC on the data
	FlagCmdM    Flags = 1 << 4 // M command outstanding
	FlagCmdV    Flags = 1 << 5 // V command outstanding
	FlagCmdC    Flags = 1 << 6 // C command outstanding
	FlagAbort   Flags = 1 << 7 // abort break detected
)

// flagTransient is cleared on every terminal path back to Idle. The command
// bits and CRCReq survive until the data is delivered, aborted, or replaced,
// so a D command after a fresh break can still find its measurement.
const flagTransient = FlagRxCmd | FlagProcCmd | FlagProcErr | FlagAbort

// flagCmdAny masks the outstanding-measurement bits.
const flagCmdAny = FlagCmdM | FlagCmdV | FlagCmdC

// RxMeta bits. The low nibble stores the "n" of aMn!/aDn! commands.
const (
	MetaRxD   uint8 = 1 << 4 // D follow-up in progress
	MetaRxR   uint8 = 1 << 5 // R follow-up in progress (recognized, not served)
	metaNMask uint8 = 0x0F
)

// CharError carries the per-character receive error flags. The Line
// implementation must capture these atomically with the byte they describe.
type CharError uint8

const (
	ErrFraming CharError = 1 << 0
	ErrOverrun CharError = 1 << 1
	ErrParity  CharError = 1 << 2
)

// Wire timing. All intervals are wall clock on the SDI-12 line.
const (
	// BreakMin is the minimum low interval recognized as a break. Anything
	// shorter is noise; anything past TimeoutBasic is a stuck line.
	BreakMin = 12 * time.Millisecond

	// MarkMin is the minimum post-break mark, just under one character time,
	// so the deadline fires before a start bit can complete.
	MarkMin = 8190 * time.Microsecond

	// RespMark is the mark held between the command terminator and the first
	// response character. The parser must finish inside this window.
	RespMark = 8450 * time.Microsecond

	// InterChar is the maximum gap from one command character to the next
	// (1.66 ms mark plus one 8.33 ms character).
	InterChar = 12 * time.Millisecond

	// CharFailsafe bounds the arrival of a character whose start bit has
	// already been seen.
	CharFailsafe = 10 * time.Millisecond

	// TimeoutBasic is the general 100 ms line-fault timeout.
	TimeoutBasic = 100 * time.Millisecond

	// SRQTick is the polling period while waiting for wireless data.
	SRQTick = 100 * time.Millisecond

	// DWindow is the interval after an SRQ in which the host may send the
	// D command without a preceding break.
	DWindow = 85 * time.Millisecond

	// DFailsafe bounds the break that must follow the D window.
	DFailsafe = 200 * time.Millisecond
)

// MeasureWait is the number of seconds reported in M command responses and
// the length of the service-request window. The SRQ wait counts
// 10*MeasureWait ticks of SRQTick. Valid range 1..4: the firmware's 16-bit
// compare register tops out at 4.19 s with the 1024 prescaler (see
// TimerCounts).
const MeasureWait = 1

// Identity string returned by aI!: protocol version, vendor, model, sensor
// version, as one fixed block. Four filler zeros follow it on the wire.
const identInfo = "13AZ_USGSXB10HS001"

// Buffer sizes. A command is at most 7 characters including the terminator;
// the response buffer must hold the identity response.
const (
	rxBufSize = 10
	txBufSize = 40
)

// MsgSignalNone is the msg_signal sentinel: no wireless data request pending.
// Any other value is the numeric address data is wanted for.
const MsgSignalNone uint8 = 0xFF

// numAddrNone marks an ASCII byte with no numeric address mapping.
const numAddrNone uint8 = 0xFF

// NumericAddr maps an ASCII SDI-12 address to its numeric value:
// '0'..'9' -> 0..9, 'A'..'Z' -> 10..35, 'a'..'z' -> 36..61.
// The second return is false for '?' and any other non-address byte.
func NumericAddr(c byte) (uint8, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'Z':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'z':
		return c - 'a' + 36, true
	default:
		return numAddrNone, false
	}
}

// ASCIIAddr is the inverse of NumericAddr. It returns 0 for values outside
// 0..61.
func ASCIIAddr(n uint8) byte {
	switch {
	case n < 10:
		return n + '0'
	case n < 36:
		return n - 10 + 'A'
	case n < 62:
		return n - 36 + 'a'
	default:
		return 0
	}
}

// TimerCounts converts a deadline to compare-timer counts for a CPU clock
// with the firmware's /1024 prescaler. It is the scaling the firmware did at
// compile time, kept as a pure function so targets can check that no
// deadline overflows their counter width.
func TimerCounts(d time.Duration, cpuHz uint32) uint32 {
	return uint32(d.Milliseconds()) * (cpuHz / 1024) / 1000
}
