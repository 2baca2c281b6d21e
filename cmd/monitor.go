// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 U.S. Geological Survey

package cmd

import (
	"fmt"
	"log"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/jkennedy-usgs/sdi12-wsn/pkg/bridge"
)

var (
	monitorURL    string
	monitorUser   string
	wsNoSSLVerify bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live status display for a running bridge",
	Long: `Connect to a bridge's websocket status feed and render the node
table, sampling activity, and SDI-12 state live in the terminal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if monitorURL == "" {
			return fmt.Errorf("--url is required")
		}

		conn, err := dialFeed(monitorURL, monitorUser, wsNoSSLVerify)
		if err != nil {
			return err
		}
		defer conn.Close()

		p := tea.NewProgram(newMonitorModel(monitorURL), tea.WithAltScreen())
		go readStatusFeed(conn, p)

		if _, err := p.Run(); err != nil {
			return fmt.Errorf("TUI error: %v", err)
		}
		return nil
	},
}

// readStatusFeed pumps decoded status frames into the TUI.
func readStatusFeed(conn *websocket.Conn, p *tea.Program) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			p.Send(feedClosedMsg{err: err})
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		status, err := bridge.DecodeStatus(data)
		if err != nil {
			log.Printf("status decode: %v", err)
			continue
		}
		p.Send(statusMsg{status: status})
	}
}

func init() {
	monitorCmd.Flags().StringVarP(&monitorURL, "url", "u", "", "Bridge status feed URL (ws:// or wss://)")
	monitorCmd.Flags().StringVar(&monitorUser, "username", "", "Username for HTTP Basic auth")
	monitorCmd.Flags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
	rootCmd.AddCommand(monitorCmd)
}
