// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 U.S. Geological Survey

package xbeeapi

import (
	"fmt"
	"io"
)

// NoAck as a frame ID suppresses the response frame for a remote set.
const NoAck = 0

// Radio issues AT commands to the local XBee module and, through it, to
// remote nodes. It owns the frame ID counter; responses are matched by the
// caller against the returned IDs.
type Radio struct {
	w       io.Writer
	frameID uint8
}

// NewRadio returns a Radio writing API frames to w.
func NewRadio(w io.Writer) *Radio {
	return &Radio{w: w}
}

// nextID advances the frame ID, skipping zero: frame ID zero tells the
// module not to answer.
func (r *Radio) nextID() uint8 {
	r.frameID++
	if r.frameID == 0 {
		r.frameID = 1
	}
	return r.frameID
}

// writeFrame wraps the frame data in delimiter, length, and checksum.
func (r *Radio) writeFrame(data []byte) error {
	frame := make([]byte, 0, len(data)+4)
	frame = append(frame, StartDelimiter, byte(len(data)>>8), byte(len(data)))
	frame = append(frame, data...)
	frame = append(frame, Checksum(data))
	if _, err := r.w.Write(frame); err != nil {
		return fmt.Errorf("xbee write: %w", err)
	}
	return nil
}

// Checksum computes the API frame checksum: 0xFF minus the byte sum of the
// frame data.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return 0xFF - sum
}

// LocalAT sends an AT command to the local module and returns the frame ID
// its response will carry.
func (r *Radio) LocalAT(cmd [2]byte, param []byte) (uint8, error) {
	id := r.nextID()
	data := make([]byte, 0, 4+len(param))
	data = append(data, FrameLocalAT, id, cmd[0], cmd[1])
	data = append(data, param...)
	return id, r.writeFrame(data)
}

// RemoteAT sends an AT command to the addressed remote node. With ack false
// the frame ID is zero and the node stays silent.
func (r *Radio) RemoteAT(addr Addr64, cmd [2]byte, param []byte, ack bool) (uint8, error) {
	id := uint8(NoAck)
	if ack {
		id = r.nextID()
	}
	data := make([]byte, 0, 15+len(param))
	data = append(data, FrameRemoteAT, id,
		byte(addr.SH>>24), byte(addr.SH>>16), byte(addr.SH>>8), byte(addr.SH),
		byte(addr.SL>>24), byte(addr.SL>>16), byte(addr.SL>>8), byte(addr.SL),
		netAddrHi, netAddrLo, remoteApply, cmd[0], cmd[1])
	data = append(data, param...)
	return id, r.writeFrame(data)
}

// NodeDiscover broadcasts the discovery request; each node answers with an
// ND response during the discovery window.
func (r *Radio) NodeDiscover() error {
	_, err := r.LocalAT(CmdNodeDiscover, nil)
	return err
}

// SetDIO drives or configures a digital/analog pin on a remote node.
func (r *Radio) SetDIO(addr Addr64, pin byte, state byte, ack bool) (uint8, error) {
	return r.RemoteAT(addr, [2]byte{'D', pin}, []byte{state}, ack)
}

// SampleDIO requests one sample of all enabled inputs of a remote node.
func (r *Radio) SampleDIO(addr Addr64) (uint8, error) {
	return r.RemoteAT(addr, CmdSample, nil, true)
}

// SetPullups programs the pull-up mask of a remote node.
func (r *Radio) SetPullups(addr Addr64, pullups uint16) (uint8, error) {
	return r.RemoteAT(addr, CmdPullups, []byte{byte(pullups >> 8), byte(pullups)}, true)
}

// StartNetworkSleep puts a remote node into synchronized cyclic sleep.
func (r *Radio) StartNetworkSleep(addr Addr64) (uint8, error) {
	return r.RemoteAT(addr, CmdSleepMode, []byte{AsyncSleep}, true)
}

// StartSleepCoordinator makes the local module the sleep coordinator.
func (r *Radio) StartSleepCoordinator() error {
	_, err := r.LocalAT(CmdSleepMode, []byte{SleepSupport})
	return err
}

// SetSleepMessages selects whether the local module reports network wake
// and sleep transitions as modem status frames.
func (r *Radio) SetSleepMessages(on bool) error {
	v := byte(SleepQuiet)
	if on {
		v = SleepStatusOn
	}
	_, err := r.LocalAT(CmdSleepOptions, []byte{v})
	return err
}

// SetSleepTime programs the network sleep period, in 10 ms units.
func (r *Radio) SetSleepTime(t uint16) error {
	_, err := r.LocalAT(CmdSleepPeriod, []byte{byte(t >> 8), byte(t)})
	return err
}

// SetWakeTime programs the network wake period, in milliseconds.
func (r *Radio) SetWakeTime(t uint16) error {
	_, err := r.LocalAT(CmdWakePeriod, []byte{byte(t >> 8), byte(t)})
	return err
}

// SampleBattery queries the supply voltage of a remote node.
func (r *Radio) SampleBattery(addr Addr64) (uint8, error) {
	return r.RemoteAT(addr, CmdBattery, nil, true)
}
