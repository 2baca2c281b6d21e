// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 U.S. Geological Survey

package wsn

import (
	"errors"
	"fmt"
	"time"

	"github.com/jkennedy-usgs/sdi12-wsn/pkg/xbeeapi"
)

// ControllerState identifies a state of the session state machine.
type ControllerState int

const (
	StateNodeDiscovery ControllerState = iota
	StateInit
	StateHalted
	StateBeforeSampling
	StateWarmup
	StateSampling
	StateWaitingForMessage
	StateProbesOn
	StateProbeWarmup
	StateProbesOff
	StateNextNode
	StateDoneSampling
	StateAsleep
)

// String returns the state name for diagnostics.
func (s ControllerState) String() string {
	switch s {
	case StateNodeDiscovery:
		return "NodeDiscovery"
	case StateInit:
		return "Init"
	case StateHalted:
		return "Halted"
	case StateBeforeSampling:
		return "BeforeSampling"
	case StateWarmup:
		return "Warmup"
	case StateSampling:
		return "Sampling"
	case StateWaitingForMessage:
		return "WaitingForMessage"
	case StateProbesOn:
		return "ProbesOn"
	case StateProbeWarmup:
		return "ProbeWarmup"
	case StateProbesOff:
		return "ProbesOff"
	case StateNextNode:
		return "NextNode"
	case StateDoneSampling:
		return "DoneSampling"
	case StateAsleep:
		return "Asleep"
	default:
		return "UNKNOWN"
	}
}

// Per-node setup phases inside StateInit.
const (
	initIOUninit = iota
	initAddrUninit
	initAddrDone
	initWaiting
)

// Session timing. The discovery window is protocol; the rest are board
// timings: probe settling, radio turnaround, and the pause between nodes.
const (
	DiscoveryWindow   = 1 * time.Second
	networkAwakeDelay = 1600 * time.Millisecond
	probeWarmup       = 350 * time.Millisecond
	responseTimeout   = 3 * time.Second
	nextNodeDelay     = 650 * time.Millisecond
)

// Network sleep schedule, in the units the SP and ST registers take
// (10 ms and 1 ms respectively).
const (
	SetupSleepTime = 0x0010
	SetupWakeTime  = 0x1530
	SleepTime      = 1000  // 10 s
	WakeTime       = 25000 // 25 s
)

// ErrNoNodes is reported when the discovery window closes empty.
var ErrNoNodes = errors.New("no nodes responded to discovery")

// Controller runs the wireless session: node discovery, per-node setup, and
// the operational sampling loop. It is driven from the cooperative main
// loop: decoded frames arrive through HandleFrame, and Poll advances
// timer-gated transitions. Nothing here blocks.
type Controller struct {
	radio    *xbeeapi.Radio
	reg      *Registry
	validate Validator

	now      func() time.Time
	deadline time.Time
	timerOn  bool

	state       ControllerState
	initPhase   int
	initialized bool
	haltErr     error

	discovered []xbeeapi.Addr64
	setupIdx   int // next discovered node to configure

	currentNode int // index into reg.IDs() during sampling
	probesOn    bool
	newlyAsleep bool
	sleepLeft   int

	status string // one-line state description for the display
}

// NewController returns a controller over the given radio and registry.
// A nil validate falls back to DefaultValidator.
func NewController(radio *xbeeapi.Radio, reg *Registry, validate Validator) *Controller {
	if validate == nil {
		validate = DefaultValidator
	}
	return &Controller{
		radio:    radio,
		reg:      reg,
		validate: validate,
		now:      time.Now,
		state:    StateNodeDiscovery,
	}
}

// State returns the current session state.
func (c *Controller) State() ControllerState { return c.state }

// Err returns the halt cause when the controller is in StateHalted.
func (c *Controller) Err() error { return c.haltErr }

// Status returns a one-line description of what the session is doing, for
// the status display.
func (c *Controller) Status() string { return c.status }

// Initialized reports whether per-node setup has completed.
func (c *Controller) Initialized() bool { return c.initialized }

// Start opens the discovery window and broadcasts the discovery request.
// Nodes answer at random offsets inside the window.
func (c *Controller) Start() error {
	if err := c.radio.StartSleepCoordinator(); err != nil {
		return err
	}
	if err := c.radio.SetSleepTime(SetupSleepTime); err != nil {
		return err
	}
	if err := c.radio.SetWakeTime(SetupWakeTime); err != nil {
		return err
	}
	// Sampling is triggered by wake messages; keep them off during setup.
	if err := c.radio.SetSleepMessages(false); err != nil {
		return err
	}
	if err := c.radio.NodeDiscover(); err != nil {
		return err
	}
	c.state = StateNodeDiscovery
	c.status = "node discovery"
	c.startTimer(DiscoveryWindow)
	return nil
}

func (c *Controller) startTimer(d time.Duration) {
	c.deadline = c.now().Add(d)
	c.timerOn = true
}

func (c *Controller) stopTimer() {
	c.timerOn = false
}

func (c *Controller) timerDone() bool {
	return c.timerOn && !c.now().Before(c.deadline)
}

// Poll advances timer-gated transitions. Call it on every pass of the main
// loop.
func (c *Controller) Poll() {
	switch c.state {
	case StateNodeDiscovery:
		if !c.timerDone() {
			return
		}
		c.stopTimer()
		if len(c.discovered) == 0 {
			c.haltErr = ErrNoNodes
			c.status = "no nodes found"
			c.state = StateHalted
			return
		}
		c.status = fmt.Sprintf("found %d nodes, reading addresses", len(c.discovered))
		c.initPhase = initIOUninit
		c.state = StateInit

	case StateInit:
		if c.setupIdx >= len(c.discovered) {
			c.finishSetup()
			return
		}
		addr := c.discovered[c.setupIdx]
		switch c.initPhase {
		case initWaiting:
			if c.timerDone() {
				// A node that stops answering mid-setup is skipped, not
				// allowed to wedge the whole network.
				c.stopTimer()
				c.setupIdx++
				c.initPhase = initIOUninit
			}
		case initIOUninit:
			c.initPhase = initWaiting
			c.startTimer(responseTimeout)
			c.initializeIO(addr)
		case initAddrUninit:
			c.initPhase = initWaiting
			c.startTimer(responseTimeout)
			c.radio.SampleDIO(addr)
		case initAddrDone:
			c.initPhase = initWaiting
			c.startTimer(responseTimeout)
			c.radio.StartNetworkSleep(addr)
		}

	case StateBeforeSampling:
		c.status = "network awake"
		c.startTimer(networkAwakeDelay)
		c.state = StateWarmup

	case StateWarmup:
		if c.timerDone() {
			c.stopTimer()
			c.state = StateSampling
		}

	case StateSampling:
		ids := c.reg.IDs()
		if c.currentNode >= len(ids) {
			c.status = "done sampling"
			c.newlyAsleep = true
			c.state = StateDoneSampling
			return
		}
		id := ids[c.currentNode]
		c.status = fmt.Sprintf("sampling node %d", id)
		c.startTimer(responseTimeout)
		c.state = StateWaitingForMessage
		c.turnProbes(id, true)

	case StateWaitingForMessage:
		if c.timerDone() {
			c.stopTimer()
			c.noteTimeout()
			c.status = "no response"
			c.startTimer(nextNodeDelay)
			c.state = StateNextNode
		}

	case StateProbesOn:
		c.startTimer(probeWarmup)
		c.state = StateProbeWarmup

	case StateProbeWarmup:
		if c.timerDone() {
			c.stopTimer()
			id := c.currentID()
			c.startTimer(responseTimeout)
			c.state = StateWaitingForMessage
			if n := c.reg.Node(id); n != nil {
				c.radio.SampleDIO(n.Addr)
			}
		}

	case StateProbesOff:
		c.startTimer(nextNodeDelay)
		c.state = StateNextNode

	case StateNextNode:
		if c.timerDone() {
			c.stopTimer()
			c.currentNode++
			c.state = StateSampling
		}

	case StateAsleep:
		if c.newlyAsleep {
			c.sleepLeft = SleepTime / 100
			c.currentNode = 0
			c.newlyAsleep = false
			c.status = fmt.Sprintf("network asleep, awake in %ds", c.sleepLeft)
			c.startTimer(time.Second)
		} else if c.timerDone() {
			c.startTimer(time.Second)
			if c.sleepLeft > 0 {
				c.sleepLeft--
			}
			c.status = fmt.Sprintf("network asleep, awake in %ds", c.sleepLeft)
		}
	}
}

// HandleFrame dispatches one decoded radio frame into the session.
func (c *Controller) HandleFrame(f *xbeeapi.Frame) {
	switch f.Type {
	case xbeeapi.FrameATResponse:
		c.handleLocalResponse(f)
	case xbeeapi.FrameRemoteATResponse:
		c.handleRemoteResponse(f)
	case xbeeapi.FrameModemStatus:
		c.handleModemStatus(f)
	default:
		c.notePacketError()
	}
}

// NoteDecodeError records a framing or checksum failure on the radio UART
// against the node currently being addressed.
func (c *Controller) NoteDecodeError() {
	if n := c.reg.Node(c.currentID()); n != nil {
		n.CRCErrors++
	}
}

func (c *Controller) handleLocalResponse(f *xbeeapi.Frame) {
	at, err := xbeeapi.ParseATResponse(f)
	if err != nil {
		c.notePacketError()
		return
	}
	if at.Cmd != xbeeapi.CmdNodeDiscover {
		return // sleep configuration acks, nothing to record
	}
	rec, err := xbeeapi.ParseDiscovery(at)
	if err != nil {
		c.notePacketError()
		return
	}
	if c.state == StateNodeDiscovery && len(c.discovered) < NodeArraySize {
		c.discovered = append(c.discovered, rec.Addr)
		c.status = fmt.Sprintf("node discovery, found %d", len(c.discovered))
	}
}

func (c *Controller) handleRemoteResponse(f *xbeeapi.Frame) {
	r, err := xbeeapi.ParseRemoteATResponse(f)
	if err != nil {
		c.notePacketError()
		return
	}
	if r.Status != xbeeapi.CommandOK {
		c.notePacketError()
		return
	}

	if !c.initialized {
		c.handleSetupResponse(r)
		return
	}

	switch r.Cmd {
	case xbeeapi.CmdSample:
		c.handleSample(r)
	case [2]byte{'D', xbeeapi.PinProbe1Power}:
		// Only the second probe command is acknowledged; keep waiting.
		c.state = StateWaitingForMessage
	case [2]byte{'D', xbeeapi.PinProbe2Power}:
		// The on and off acks are identical; the last command sent tells
		// them apart.
		c.stopTimer()
		if c.probesOn {
			c.state = StateProbesOn
		} else {
			c.state = StateProbesOff
		}
	default:
		c.notePacketError()
	}
}

// handleSetupResponse walks a node through the setup phases as its acks
// arrive: pull-ups set, DIP switches read, sleep started.
func (c *Controller) handleSetupResponse(r *xbeeapi.RemoteATResponse) {
	c.stopTimer()
	switch r.Cmd {
	case xbeeapi.CmdPullups:
		c.initPhase = initAddrUninit
	case xbeeapi.CmdSample:
		sample, err := xbeeapi.ParseIOSample(r)
		if err != nil {
			c.notePacketError()
			c.initPhase = initIOUninit
			return
		}
		id := xbeeapi.DIPToID(sample.DIO)
		c.reg.Register(id, c.discovered[c.setupIdx])
		c.status = fmt.Sprintf("node %d registered", id)
		c.initPhase = initAddrDone
	case xbeeapi.CmdSleepMode:
		c.setupIdx++
		c.initPhase = initIOUninit
	default:
		// Ack of an intermediate DIO configuration command.
		c.initPhase = initWaiting
		c.startTimer(responseTimeout)
	}
}

func (c *Controller) handleModemStatus(f *xbeeapi.Frame) {
	status, err := xbeeapi.ParseModemStatus(f)
	if err != nil {
		c.notePacketError()
		return
	}
	if !c.initialized {
		return
	}
	switch status {
	case xbeeapi.StatusNetworkWokeUp:
		c.state = StateBeforeSampling
	case xbeeapi.StatusNetworkAsleep:
		c.state = StateAsleep
	}
}

// handleSample validates and stores an operational IO sample, then powers
// the probes back down.
func (c *Controller) handleSample(r *xbeeapi.RemoteATResponse) {
	c.stopTimer()
	sample, err := xbeeapi.ParseIOSample(r)
	if err != nil {
		c.notePacketError()
		c.startTimer(nextNodeDelay)
		c.state = StateNextNode
		return
	}
	id := xbeeapi.DIPToID(sample.DIO)
	c.reg.RecordSample(id, 0, sample.ADC1, c.validate(sample.ADC1))
	c.reg.RecordSample(id, 1, sample.ADC2, c.validate(sample.ADC2))
	c.reg.AdvanceSample(id)
	c.status = fmt.Sprintf("node %d: %d, %d (avg %d, %d)",
		id, sample.ADC1, sample.ADC2, c.reg.Average(id, 0), c.reg.Average(id, 1))

	c.startTimer(responseTimeout)
	c.state = StateWaitingForMessage
	c.turnProbes(c.currentID(), false)
}

// initializeIO configures a node's probe power outputs, analog inputs, DIP
// inputs, and pull-ups. Only the final command is acknowledged.
func (c *Controller) initializeIO(addr xbeeapi.Addr64) {
	c.radio.SetDIO(addr, xbeeapi.PinProbe1ADC, xbeeapi.AnalogInput, false)
	c.radio.SetDIO(addr, xbeeapi.PinProbe2ADC, xbeeapi.AnalogInput, false)
	c.radio.SetDIO(addr, xbeeapi.PinDIP1, xbeeapi.DigitalInput, false)
	c.radio.SetDIO(addr, xbeeapi.PinDIP2, xbeeapi.DigitalInput, false)
	c.radio.SetDIO(addr, xbeeapi.PinDIP4, xbeeapi.DigitalInput, false)
	c.radio.SetDIO(addr, xbeeapi.PinDIP8, xbeeapi.DigitalInput, false)
	c.radio.SetPullups(addr, xbeeapi.PullupBits)
}

// finishSetup switches the network to the operational sleep schedule and
// arms the sampling loop.
func (c *Controller) finishSetup() {
	c.initialized = true
	c.radio.StartSleepCoordinator()
	c.radio.SetSleepTime(SleepTime)
	c.radio.SetWakeTime(WakeTime)
	c.radio.SetSleepMessages(true)
	c.status = "starting network sleep"
	c.newlyAsleep = true
	c.state = StateDoneSampling
}

// turnProbes powers both probes of a node on or off. The first command is
// fire-and-forget; the second ack drives the state machine.
func (c *Controller) turnProbes(id uint8, on bool) {
	n := c.reg.Node(id)
	if n == nil {
		return
	}
	c.probesOn = on
	state := byte(xbeeapi.PinLow)
	if on {
		state = xbeeapi.PinHigh
	}
	c.radio.SetDIO(n.Addr, xbeeapi.PinProbe1Power, state, false)
	c.radio.SetDIO(n.Addr, xbeeapi.PinProbe2Power, state, true)
}

func (c *Controller) currentID() uint8 {
	ids := c.reg.IDs()
	if c.currentNode < len(ids) {
		return ids[c.currentNode]
	}
	return 0xFF
}

func (c *Controller) noteTimeout() {
	if n := c.reg.Node(c.currentID()); n != nil {
		n.UARTTimeouts++
	}
}

func (c *Controller) notePacketError() {
	if n := c.reg.Node(c.currentID()); n != nil {
		n.PacketErrors++
	}
	if c.initialized {
		c.status = "packet error"
	}
}
