// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 U.S. Geological Survey

package xbeeapi

import (
	"encoding/binary"
	"fmt"
)

// ATResponse is a local AT command response (frame type 0x88).
type ATResponse struct {
	FrameID uint8
	Cmd     [2]byte
	Status  byte
	Data    []byte
}

// ParseATResponse decodes a FrameATResponse frame.
func ParseATResponse(f *Frame) (*ATResponse, error) {
	if f.Type != FrameATResponse {
		return nil, fmt.Errorf("not an AT response: frame type 0x%02X", f.Type)
	}
	if len(f.Data) < 4 {
		return nil, fmt.Errorf("AT response too short: %d bytes", len(f.Data))
	}
	return &ATResponse{
		FrameID: f.Data[0],
		Cmd:     [2]byte{f.Data[1], f.Data[2]},
		Status:  f.Data[3],
		Data:    f.Data[4:],
	}, nil
}

// DiscoveryRecord carries the fields of a node discovery (ND) response the
// bridge uses: the 64-bit serial of the answering node.
type DiscoveryRecord struct {
	Addr Addr64
}

// ParseDiscovery extracts the discovery record from an ND command response.
// The two network address bytes that precede the serial are skipped.
func ParseDiscovery(r *ATResponse) (*DiscoveryRecord, error) {
	if r.Cmd != CmdNodeDiscover {
		return nil, fmt.Errorf("not an ND response: %c%c", r.Cmd[0], r.Cmd[1])
	}
	if r.Status != CommandOK {
		return nil, fmt.Errorf("ND response status 0x%02X", r.Status)
	}
	if len(r.Data) < 10 {
		return nil, fmt.Errorf("ND response too short: %d bytes", len(r.Data))
	}
	return &DiscoveryRecord{Addr: Addr64{
		SH: binary.BigEndian.Uint32(r.Data[2:6]),
		SL: binary.BigEndian.Uint32(r.Data[6:10]),
	}}, nil
}

// RemoteATResponse is a remote AT command response (frame type 0x97).
type RemoteATResponse struct {
	FrameID uint8
	Addr    Addr64
	Cmd     [2]byte
	Status  byte
	Data    []byte
}

// ParseRemoteATResponse decodes a FrameRemoteATResponse frame.
func ParseRemoteATResponse(f *Frame) (*RemoteATResponse, error) {
	if f.Type != FrameRemoteATResponse {
		return nil, fmt.Errorf("not a remote AT response: frame type 0x%02X", f.Type)
	}
	if len(f.Data) < 14 {
		return nil, fmt.Errorf("remote AT response too short: %d bytes", len(f.Data))
	}
	return &RemoteATResponse{
		FrameID: f.Data[0],
		Addr: Addr64{
			SH: binary.BigEndian.Uint32(f.Data[1:5]),
			SL: binary.BigEndian.Uint32(f.Data[5:9]),
		},
		// Data[9:11] is the 16-bit network address, unused here.
		Cmd:    [2]byte{f.Data[11], f.Data[12]},
		Status: f.Data[13],
		Data:   f.Data[14:],
	}, nil
}

// IOSample is one IS sample from a remote node: the digital inputs (the DIP
// switch) and the two probe ADC channels.
type IOSample struct {
	DIO  byte
	ADC1 uint16
	ADC2 uint16
}

// ParseIOSample extracts the IO sample from an IS command response. The
// sample-count and channel-mask bytes ahead of the readings are skipped.
func ParseIOSample(r *RemoteATResponse) (*IOSample, error) {
	if r.Cmd != CmdSample {
		return nil, fmt.Errorf("not an IS response: %c%c", r.Cmd[0], r.Cmd[1])
	}
	if r.Status != CommandOK {
		return nil, fmt.Errorf("IS response status 0x%02X", r.Status)
	}
	if len(r.Data) < 10 {
		return nil, fmt.Errorf("IS sample too short: %d bytes", len(r.Data))
	}
	return &IOSample{
		DIO:  r.Data[5],
		ADC1: binary.BigEndian.Uint16(r.Data[6:8]),
		ADC2: binary.BigEndian.Uint16(r.Data[8:10]),
	}, nil
}

// ParseModemStatus returns the status byte of a modem status frame.
func ParseModemStatus(f *Frame) (byte, error) {
	if f.Type != FrameModemStatus {
		return 0, fmt.Errorf("not a modem status: frame type 0x%02X", f.Type)
	}
	if len(f.Data) < 1 {
		return 0, fmt.Errorf("empty modem status frame")
	}
	return f.Data[0], nil
}
