// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 U.S. Geological Survey

package cmd

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.bug.st/serial"

	"github.com/jkennedy-usgs/sdi12-wsn/pkg/bridge"
	"github.com/jkennedy-usgs/sdi12-wsn/pkg/wsn"
	"github.com/jkennedy-usgs/sdi12-wsn/pkg/xbeeapi"
)

var discoverWindow time.Duration

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover wireless nodes",
	Long: `Broadcast a node discovery request and list the nodes that answer
inside the discovery window. Useful when commissioning a site or chasing a
node that dropped off the network.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if xbeePort == "" {
			return fmt.Errorf("--xbee-port is required")
		}

		port, err := bridge.OpenXBeePort(xbeePort)
		if err != nil {
			return err
		}
		defer port.Close()

		radio := xbeeapi.NewRadio(port)
		if err := radio.NodeDiscover(); err != nil {
			return err
		}
		fmt.Printf("Discovering nodes for %s...\n", discoverWindow)

		port.SetReadTimeout(100 * time.Millisecond)
		dec := xbeeapi.NewDecoder()
		buf := make([]byte, 128)
		var nodes []xbeeapi.Addr64
		deadline := time.Now().Add(discoverWindow)

		for time.Now().Before(deadline) {
			n, err := port.Read(buf)
			if err != nil {
				return fmt.Errorf("XBee read: %v", err)
			}
			for i := 0; i < n; i++ {
				frame, err := dec.DecodeByte(buf[i])
				if err != nil || frame == nil {
					continue
				}
				at, err := xbeeapi.ParseATResponse(frame)
				if err != nil {
					continue
				}
				rec, err := xbeeapi.ParseDiscovery(at)
				if err != nil {
					continue
				}
				nodes = append(nodes, rec.Addr)
				fmt.Printf("  node %d: serial %08X:%08X", len(nodes), rec.Addr.SH, rec.Addr.SL)
				if mv, ok := sampleBattery(radio, dec, port, rec.Addr); ok {
					fmt.Printf("  batt %d.%03dV", mv/1000, mv%1000)
				}
				fmt.Println()
			}
		}

		if len(nodes) == 0 {
			return fmt.Errorf("no nodes responded")
		}
		fmt.Printf("%d of a possible %d nodes responded\n", len(nodes), wsn.NodeArraySize)
		return nil
	},
}

// sampleBattery queries a node's supply voltage and waits briefly for the
// answer. Discovery responses arriving in the meantime are lost; commission
// checks run one node at a time anyway.
func sampleBattery(radio *xbeeapi.Radio, dec *xbeeapi.Decoder, port serial.Port, addr xbeeapi.Addr64) (uint16, bool) {
	if _, err := radio.SampleBattery(addr); err != nil {
		return 0, false
	}
	buf := make([]byte, 128)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, err := port.Read(buf)
		if err != nil {
			return 0, false
		}
		for i := 0; i < n; i++ {
			frame, err := dec.DecodeByte(buf[i])
			if err != nil || frame == nil {
				continue
			}
			r, err := xbeeapi.ParseRemoteATResponse(frame)
			if err != nil || r.Cmd != xbeeapi.CmdBattery || r.Status != xbeeapi.CommandOK {
				continue
			}
			if len(r.Data) < 2 {
				return 0, false
			}
			return binary.BigEndian.Uint16(r.Data[:2]), true
		}
	}
	return 0, false
}

func init() {
	discoverCmd.Flags().DurationVar(&discoverWindow, "window", wsn.DiscoveryWindow, "Discovery listen window")
	rootCmd.AddCommand(discoverCmd)
}
