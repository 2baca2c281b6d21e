// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 U.S. Geological Survey

// Package bridge wires the SDI-12 protocol core to the wireless session
// controller: serial ports, the cooperative main loop, and the status feed.
package bridge

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/jkennedy-usgs/sdi12-wsn/pkg/sdi12"
	"github.com/jkennedy-usgs/sdi12-wsn/pkg/wsn"
	"github.com/jkennedy-usgs/sdi12-wsn/pkg/xbeeapi"
)

// XBeeBaud is the radio UART rate; the SDI-12 side is fixed by the standard
// at 1200 baud 7E1.
const (
	SDI12Baud = 1200
	XBeeBaud  = 9600
)

// pollInterval paces the cooperative main loop. The protocol machine's hard
// deadlines run on their own timer; the loop only needs to service the
// parser well inside the 8.45 ms response mark.
const pollInterval = 2 * time.Millisecond

// Config selects the two serial ports of the bridge.
type Config struct {
	SDI12Port string
	XBeePort  string
}

// Bridge owns the protocol machine, the session controller, and the main
// loop gluing them together.
type Bridge struct {
	mu      sync.Mutex // guards controller and registry against Snapshot
	machine *sdi12.Machine
	ctl     *wsn.Controller
	reg     *wsn.Registry
	line    *LinePort

	sdiPort  serial.Port
	xbeePort serial.Port

	frames chan radioEvent
}

// radioEvent is one decoded frame or a decode failure, delivered to the
// main loop so the controller is only ever touched from one goroutine.
type radioEvent struct {
	frame     *xbeeapi.Frame
	decodeErr bool
}

// OpenSDI12Port opens a port in the 1200 baud 7E1 framing the standard
// requires.
func OpenSDI12Port(name string) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: SDI12Baud,
		DataBits: 7,
		Parity:   serial.EvenParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open SDI-12 port %s: %v", name, err)
	}
	return port, nil
}

// OpenXBeePort opens the radio UART.
func OpenXBeePort(name string) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: XBeeBaud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open XBee port %s: %v", name, err)
	}
	return port, nil
}

// New opens both ports and assembles the bridge.
func New(cfg Config) (*Bridge, error) {
	sdiPort, err := OpenSDI12Port(cfg.SDI12Port)
	if err != nil {
		return nil, err
	}
	xbeePort, err := OpenXBeePort(cfg.XBeePort)
	if err != nil {
		sdiPort.Close()
		return nil, err
	}

	b := assemble(sdiPort, xbeePort)
	b.sdiPort = sdiPort
	b.xbeePort = xbeePort
	return b, nil
}

// assemble builds the component graph over the given byte streams. Split
// from New so tests can run the bridge over in-memory pipes.
func assemble(sdiW, xbeeW io.Writer) *Bridge {
	reg := wsn.NewRegistry()
	line := NewLinePort(sdiW)

	var machine *sdi12.Machine
	clock := sdi12.NewSystemTimer(func() { machine.OnDeadline() })
	machine = sdi12.NewMachine(sdi12.Config{
		Line:      line,
		Clock:     clock,
		Addresses: reg.IDs,
	})
	line.Attach(machine)

	return &Bridge{
		machine: machine,
		reg:     reg,
		line:    line,
		ctl:     wsn.NewController(xbeeapi.NewRadio(xbeeW), reg, nil),
		frames:  make(chan radioEvent, 16),
	}
}

// Machine exposes the protocol machine, for status reporting.
func (b *Bridge) Machine() *sdi12.Machine { return b.machine }

// Controller exposes the session controller, for status reporting.
func (b *Bridge) Controller() *wsn.Controller { return b.ctl }

// Registry exposes the node registry, for status reporting.
func (b *Bridge) Registry() *wsn.Registry { return b.reg }

// Run starts the session and drives the cooperative loop until the context
// is canceled. The SDI-12 interface goes live once node setup completes, as
// the firmware did: the logger has nothing to talk to before then.
func (b *Bridge) Run(ctx context.Context) error {
	// The logger has nothing to ask until the nodes are configured.
	b.machine.Disable()

	if err := b.ctl.Start(); err != nil {
		return fmt.Errorf("wireless session: %w", err)
	}

	go b.readSDI12(ctx)
	go b.readXBee(ctx)

	enabled := false
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.machine.Disable()
			return ctx.Err()

		case ev := <-b.frames:
			b.mu.Lock()
			if ev.decodeErr {
				b.ctl.NoteDecodeError()
			} else {
				b.ctl.HandleFrame(ev.frame)
			}
			b.mu.Unlock()

		case <-ticker.C:
			b.machine.DoTask()

			b.mu.Lock()
			// The msg_signal handoff: the wireless side produces a data
			// message only when the protocol side asks for one.
			if sig := b.machine.MsgSignal(); sig != sdi12.MsgSignalNone {
				b.machine.ProvideData(b.reg.PrepMessage(sig))
			}

			b.ctl.Poll()
			halted := b.ctl.State() == wsn.StateHalted
			ready := b.ctl.Initialized()
			b.mu.Unlock()

			if halted {
				return fmt.Errorf("wireless session halted: %w", b.ctl.Err())
			}
			if !enabled && ready {
				b.machine.Enable()
				enabled = true
				log.Printf("node setup complete, SDI-12 interface enabled (%d nodes)", b.reg.Len())
			}
		}
	}
}

// readSDI12 pumps bytes from the logger side into the line adapter.
func (b *Bridge) readSDI12(ctx context.Context) {
	buf := make([]byte, 64)
	for ctx.Err() == nil {
		n, err := b.sdiPort.Read(buf)
		if err != nil {
			log.Printf("SDI-12 read error: %v", err)
			return
		}
		b.line.Pump(buf[:n])
	}
}

// readXBee decodes the radio byte stream into frames for the controller.
func (b *Bridge) readXBee(ctx context.Context) {
	dec := xbeeapi.NewDecoder()
	buf := make([]byte, 128)
	for ctx.Err() == nil {
		n, err := b.xbeePort.Read(buf)
		if err != nil {
			log.Printf("XBee read error: %v", err)
			return
		}
		for i := 0; i < n; i++ {
			frame, err := dec.DecodeByte(buf[i])
			if err != nil {
				select {
				case b.frames <- radioEvent{decodeErr: true}:
				case <-ctx.Done():
					return
				}
				continue
			}
			if frame != nil {
				select {
				case b.frames <- radioEvent{frame: frame}:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// Close releases both serial ports.
func (b *Bridge) Close() {
	b.line.Close()
	if b.sdiPort != nil {
		b.sdiPort.Close()
	}
	if b.xbeePort != nil {
		b.xbeePort.Close()
	}
}
