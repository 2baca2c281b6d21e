// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 U.S. Geological Survey

package cmd

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jkennedy-usgs/sdi12-wsn/pkg/bridge"
	"github.com/jkennedy-usgs/sdi12-wsn/pkg/wsn"
)

// Messages
type statusMsg struct {
	status *bridge.Status
}
type feedClosedMsg struct {
	err error
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("25")).
			Padding(0, 1)

	stateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	detailStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	baseStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))
)

// monitorModel renders the bridge status feed.
type monitorModel struct {
	url       string
	nodes     table.Model
	status    *bridge.Status
	lastSeen  time.Time
	feedError error
	quitting  bool
}

func newMonitorModel(url string) monitorModel {
	columns := []table.Column{
		{Title: "Addr", Width: 4},
		{Title: "Serial", Width: 18},
		{Title: "Avg 1", Width: 6},
		{Title: "Avg 2", Width: 6},
		{Title: "Good", Width: 7},
		{Title: "T/O", Width: 4},
		{Title: "Pkt", Width: 4},
		{Title: "CRC", Width: 4},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithHeight(wsn.NodeArraySize),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	t.SetStyles(s)

	return monitorModel{url: url, nodes: t}
}

func (m monitorModel) Init() tea.Cmd {
	return nil
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}

	case statusMsg:
		m.status = msg.status
		m.lastSeen = time.Now()
		rows := make([]table.Row, 0, len(msg.status.Nodes))
		for _, n := range msg.status.Nodes {
			rows = append(rows, table.Row{
				fmt.Sprintf("%d", n.ID),
				fmt.Sprintf("%08X:%08X", n.SerialHigh, n.SerialLow),
				fmt.Sprintf("%d", n.Averages[0]),
				fmt.Sprintf("%d", n.Averages[1]),
				fmt.Sprintf("%d+%d", n.GoodSamples[0], n.GoodSamples[1]),
				fmt.Sprintf("%d", n.UARTTimeouts),
				fmt.Sprintf("%d", n.PacketErrors),
				fmt.Sprintf("%d", n.CRCErrors),
			})
		}
		m.nodes.SetRows(rows)

	case feedClosedMsg:
		m.feedError = msg.err
	}

	var cmd tea.Cmd
	m.nodes, cmd = m.nodes.Update(msg)
	return m, cmd
}

func (m monitorModel) View() string {
	if m.quitting {
		return ""
	}

	view := titleStyle.Render("SDI-12 WSN Bridge") + "  " + detailStyle.Render(m.url) + "\n\n"

	if m.feedError != nil {
		view += errorStyle.Render(fmt.Sprintf("feed closed: %v", m.feedError)) + "\n"
		view += detailStyle.Render("press q to quit") + "\n"
		return view
	}

	if m.status == nil {
		view += detailStyle.Render("waiting for status...") + "\n"
		return view
	}

	view += fmt.Sprintf("Protocol: %s   Session: %s\n",
		stateStyle.Render(m.status.ProtocolState),
		stateStyle.Render(m.status.SessionState))
	if m.status.SessionDetail != "" {
		view += detailStyle.Render(m.status.SessionDetail) + "\n"
	}
	view += "\n" + baseStyle.Render(m.nodes.View()) + "\n"
	view += detailStyle.Render(fmt.Sprintf("last update %s  •  q to quit",
		m.lastSeen.Format("15:04:05"))) + "\n"
	return view
}
