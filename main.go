// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 U.S. Geological Survey
//
// sdi12-wsn - SDI-12 Wireless Sensor Network Bridge
//
// Bridges a wired SDI-12 data logger to a network of radio-attached
// soil-moisture nodes.

package main

import (
	"os"

	"github.com/jkennedy-usgs/sdi12-wsn/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
