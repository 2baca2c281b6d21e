// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 U.S. Geological Survey

package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Serial port flags
	sdi12Port string
	xbeePort  string
)

var rootCmd = &cobra.Command{
	Use:   "sdi12-wsn",
	Short: "SDI-12 wireless sensor network bridge",
	Long: `sdi12-wsn bridges a wired SDI-12 data logger to a network of
radio-attached soil-moisture nodes.

The bridge answers standard SDI-12 commands (a!, aI!, ?!, aM!, aD0! and
their CRC variants) on the logger side, and gathers measurements from the
wireless nodes while the network is awake. Node addresses are fixed by DIP
switches on each node and discovered at startup.

Typical use:
  sdi12-wsn run --sdi12-port /dev/ttyUSB0 --xbee-port /dev/ttyUSB1
  sdi12-wsn monitor --url ws://bridge-host:8080/status
  sdi12-wsn discover --xbee-port /dev/ttyUSB1

For websocket authentication, the password is read from the SDI12WSN_PASSWORD
environment variable, or prompted interactively if not set.`,
	Version: "1.0.0",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&sdi12Port, "sdi12-port", "p", "", "SDI-12 serial port device")
	rootCmd.PersistentFlags().StringVarP(&xbeePort, "xbee-port", "x", "", "XBee serial port device")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
