// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 U.S. Geological Survey

// Package xbeeapi speaks the XBee DigiMesh API protocol over a UART: frame
// construction for local and remote AT commands, a streaming frame decoder,
// and typed views of the response frames the bridge cares about.
//
// The package is not specific to the SDI-12 bridge; swapping the wireless
// protocol means replacing this package and the session controller's
// transport, nothing else.
package xbeeapi

// StartDelimiter opens every API frame.
const StartDelimiter = 0x7E

// API frame type identifiers.
const (
	FrameLocalAT          = 0x08 // AT command to the local module
	FrameRemoteAT         = 0x17 // AT command to a remote module
	FrameATResponse       = 0x88 // local AT command response
	FrameModemStatus      = 0x8A // network status notification
	FrameRemoteATResponse = 0x97 // remote AT command response
)

// Modem status values.
const (
	StatusNetworkWokeUp = 0x0B
	StatusNetworkAsleep = 0x0C
)

// CommandOK is the status byte of a successful AT command response.
const CommandOK = 0x00

// AT commands used by the bridge.
var (
	CmdNodeDiscover = [2]byte{'N', 'D'}
	CmdSample       = [2]byte{'I', 'S'}
	CmdPullups      = [2]byte{'P', 'R'}
	CmdSleepMode    = [2]byte{'S', 'M'}
	CmdSleepOptions = [2]byte{'S', 'O'}
	CmdSleepPeriod  = [2]byte{'S', 'P'}
	CmdWakePeriod   = [2]byte{'S', 'T'}
	CmdBattery      = [2]byte{'%', 'V'}
)

// DIO pin parameter values.
const (
	PinHigh       = 0x05
	PinLow        = 0x04
	AnalogInput   = 0x02
	DigitalInput  = 0x03
	SleepSupport  = 7 // SM value: sleep coordinator
	AsyncSleep    = 8 // SM value: synchronized cyclic sleep on a node
	SleepStatusOn = 5 // SO value: modem status messages at wake/sleep
	SleepQuiet    = 1 // SO value: no status messages
)

// Pin assignments of the node carrier board.
const (
	PinProbe1Power = '8'
	PinProbe2Power = '9'
	PinProbe1ADC   = '2'
	PinProbe2ADC   = '3'
	PinDIP1        = '1'
	PinDIP2        = '4'
	PinDIP4        = '7'
	PinDIP8        = '6'
)

// PullupBits enables the pull-ups on the four DIP switch inputs.
const PullupBits = 0x2029

// broadcast network address bytes of a remote AT request.
const (
	netAddrHi = 0xFF
	netAddrLo = 0xFE
)

// remoteApply makes a remote AT set take effect immediately.
const remoteApply = 0x02

// Addr64 is the 64-bit serial number of an XBee module, split the way the
// modules report it.
type Addr64 struct {
	SH uint32 // serial number high
	SL uint32 // serial number low
}

// DIPToID converts the sampled DIP switch inputs of a node to its SDI-12
// address. The bit positions follow the node carrier board layout; a bit is
// set when the input reads low.
func DIPToID(dip byte) uint8 {
	one := (^dip & 0x02) >> 1
	two := (^dip & 0x10) >> 3
	four := (^dip & 0x80) >> 5
	eight := (^dip & 0x40) >> 3
	return one | two | four | eight
}
