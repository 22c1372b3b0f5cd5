// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/zenith/pkg/ground"
	"github.com/Thermoquad/zenith/pkg/protocol"
	"github.com/Thermoquad/zenith/pkg/telemetry"
)

// Event log entry
type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for information
}

// Ground console model
type groundModel struct {
	station  *ground.Station
	linkInfo string
	recorder *telemetry.Recorder

	stats         protocol.Statistics
	eventLog      []logEntry
	maxLogEntries int
	lastTelemetry *protocol.TelemetryPacket
	telemetryAt   time.Time
	connected     bool
	remote        string
	requireAck    bool
	showAll       bool

	input   textinput.Model
	logView viewport.Model

	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type groundTickMsg time.Time

type stationEventMsg struct {
	event ground.Event
}

type streamClosedMsg struct{}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialGroundModel(station *ground.Station, linkInfo string, rec *telemetry.Recorder, showAll bool) groundModel {
	ti := textinput.New()
	ti.Placeholder = "att 10 0 -5"
	ti.Prompt = "> "
	ti.CharLimit = 128
	ti.Width = 60
	ti.Focus()

	return groundModel{
		station:       station,
		linkInfo:      linkInfo,
		recorder:      rec,
		stats:         *protocol.NewStatistics(),
		eventLog:      make([]logEntry, 0),
		maxLogEntries: 200,
		showAll:       showAll,
		input:         ti,
		logView:       viewport.New(76, 8),
		width:         80,
		height:        24,
	}
}

// runGroundTUI runs the console until the user quits or the link is gone.
func runGroundTUI(ctx context.Context, cancel context.CancelFunc, station *ground.Station, linkInfo string, rec *telemetry.Recorder) error {
	m := initialGroundModel(station, linkInfo, rec, showAll)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	// Event pump
	go func() {
		for ev := range station.Events() {
			p.Send(stationEventMsg{event: ev})
		}
		p.Send(streamClosedMsg{})
	}()

	if requestInterval > 0 {
		go func() {
			t := time.NewTicker(requestInterval)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					// Errors surface as missing telemetry.
					_ = station.RequestTelemetry(false)
				}
			}
		}()
	}

	_, err := p.Run()
	cancel()
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m groundModel) Init() tea.Cmd {
	return tea.Batch(groundTickCmd(), textinput.Blink)
}

func groundTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return groundTickMsg(t)
	})
}

func (m groundModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "enter":
			line := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if line == "q" || line == "quit" {
				m.quitting = true
				return m, tea.Quit
			}
			m.runCommand(line)
			return m, nil
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.logView, cmd = m.logView.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeLog()

	case groundTickMsg:
		m.stats = m.station.Statistics()
		return m, groundTickCmd()

	case stationEventMsg:
		m.processEvent(msg.event)

	case streamClosedMsg:
		m.addLogEntry("Link closed", true)
		m.connected = false
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *groundModel) runCommand(line string) {
	c, err := parseConsoleCommand(line)
	if err != nil {
		if !errors.Is(err, errEmptyCommand) {
			m.addLogEntry(err.Error(), true)
		}
		return
	}
	if c.action == actionAck {
		m.requireAck = c.ack
		m.addLogEntry(fmt.Sprintf("Acknowledgements %s", onOff(c.ack)), false)
		return
	}

	desc, err := c.execute(m.station, m.requireAck)
	if err != nil {
		m.addLogEntry(fmt.Sprintf("%s failed: %v", desc, err), true)
		return
	}
	if c.action == actionHelp {
		m.addLogEntry(desc, false)
		return
	}
	m.addLogEntry("sent "+desc, false)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

//////////////////////////////////////////////////////////////
// Data Processing
//////////////////////////////////////////////////////////////

func (m *groundModel) processEvent(ev ground.Event) {
	switch ev.Kind {
	case ground.EventConnected:
		m.connected = true
		m.remote = ev.Remote
		m.addLogEntry("Satellite connected: "+ev.Remote, false)

	case ground.EventDisconnected:
		m.connected = false
		msg := "Satellite disconnected"
		if ev.Err != nil {
			msg += fmt.Sprintf(" (%v)", ev.Err)
		}
		m.addLogEntry(msg, true)

	case ground.EventDecodeError:
		m.addLogEntry(fmt.Sprintf("DECODE ERROR: %v", ev.Err), true)

	case ground.EventFrame:
		f := ev.Frame
		msgType := protocol.FormatMessageType(f.Type())
		for _, a := range ev.Anomalies {
			m.addLogEntry(fmt.Sprintf("%s: %s", msgType, a.Message), true)
		}

		switch f.Type() {
		case protocol.MsgTelemetryData:
			if t, err := protocol.ParseTelemetry(f.Payload()); err == nil {
				m.lastTelemetry = &t
				m.telemetryAt = ev.Time
			}
			if err := recordTelemetry(m.recorder, f); err != nil {
				m.addLogEntry(fmt.Sprintf("Recording failed: %v", err), true)
			}
		case protocol.MsgError:
			if code, err := protocol.ParseErrorCode(f.Payload()); err == nil {
				m.addLogEntry("Satellite reported "+protocol.FormatErrorCode(code), true)
			}
		case protocol.MsgAck:
			if acked, err := protocol.ParseAck(f.Payload()); err == nil {
				m.addLogEntry("ACK "+protocol.FormatMessageType(acked), false)
			}
		default:
			if m.showAll {
				m.addLogEntry(msgType, false)
			}
		}
	}
	m.stats = m.station.Statistics()
}

func (m *groundModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
	m.logView.SetContent(m.renderLogLines())
	m.logView.GotoBottom()
}

func (m *groundModel) resizeLog() {
	// Reserve space for header, statistics, telemetry and input
	height := m.height - 19
	if height < 4 {
		height = 4
	}
	m.logView.Width = m.width - 6
	m.logView.Height = height
	m.input.Width = m.width - 8
	m.logView.SetContent(m.renderLogLines())
	m.logView.GotoBottom()
}

//////////////////////////////////////////////////////////////
// Rendering
//////////////////////////////////////////////////////////////

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	statsLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	statsValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

func (m groundModel) renderLogLines() string {
	if len(m.eventLog) == 0 {
		return headerStyle.Render("  (no events yet)")
	}
	var s strings.Builder
	for _, entry := range m.eventLog {
		timestamp := entry.timestamp.Format("15:04:05.000")
		if entry.isError {
			s.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), errorStyle.Render("x "+entry.message)))
		} else {
			s.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), warningStyle.Render("i "+entry.message)))
		}
	}
	return strings.TrimRight(s.String(), "\n")
}

func (m groundModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("ZENITH - GROUND STATION"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("Link: %s | Ack: %s | esc to quit", m.linkInfo, onOff(m.requireAck))))
	s.WriteString("\n\n")

	if m.connected {
		s.WriteString(statsValueStyle.Render("✓ Satellite connected"))
		s.WriteString(headerStyle.Render(" " + m.remote))
	} else {
		s.WriteString(warningStyle.Render("⏳ Waiting for satellite..."))
	}
	s.WriteString("\n")

	s.WriteString(m.renderStatistics())
	s.WriteString("\n")
	if m.lastTelemetry != nil {
		s.WriteString(m.renderTelemetry())
		s.WriteString("\n")
	}

	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")
	s.WriteString(boxStyle.Width(m.width - 4).Render(m.logView.View()))
	s.WriteString("\n")
	s.WriteString(m.input.View())
	return s.String()
}

func (m groundModel) renderStatistics() string {
	st := m.stats
	var validPercent, errorPercent float64
	if st.TotalFrames > 0 {
		validPercent = float64(st.ValidFrames) * 100.0 / float64(st.TotalFrames)
		errorPercent = float64(st.ErrorCount()) * 100.0 / float64(st.TotalFrames)
	}

	var c strings.Builder
	c.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", st.TotalFrames)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", st.ValidFrames, validPercent)),
		statsLabelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", st.ErrorCount(), errorPercent)),
	))
	if st.CRCErrors > 0 || st.DecodeErrors > 0 || st.AnomalousValues > 0 {
		c.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
			statsLabelStyle.Render("CRC:"), errorStyle.Render(fmt.Sprintf("%d", st.CRCErrors)),
			statsLabelStyle.Render("Decode:"), errorStyle.Render(fmt.Sprintf("%d", st.DecodeErrors)),
			statsLabelStyle.Render("Anomalous:"), warningStyle.Render(fmt.Sprintf("%d", st.AnomalousValues)),
		))
	}
	c.WriteString(fmt.Sprintf("%s %s   %s %s   %s %d   %s %d",
		statsLabelStyle.Render("Frame Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f/s", st.FrameRate)),
		statsLabelStyle.Render("Error Rate:"), func() string {
			if st.ErrorRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f/s", st.ErrorRate))
			}
			return statsValueStyle.Render(fmt.Sprintf("%.1f/s", st.ErrorRate))
		}(),
		statsLabelStyle.Render("Telemetry:"), st.TelemetryFrames,
		statsLabelStyle.Render("Heartbeats:"), st.Heartbeats,
	))
	return boxStyle.Width(m.width - 4).Render(c.String())
}

func (m groundModel) renderTelemetry() string {
	t := m.lastTelemetry
	var c strings.Builder
	c.WriteString(fmt.Sprintf("%s %s   %s %s\n",
		statsLabelStyle.Render("Uptime:"), statsValueStyle.Render(formatUptime(uint64(t.Timestamp))),
		statsLabelStyle.Render("Received:"), headerStyle.Render(m.telemetryAt.Format("15:04:05")),
	))
	c.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Temp:"), statsValueStyle.Render(fmt.Sprintf("%.1f°C", t.Temperature)),
		statsLabelStyle.Render("Power:"), statsValueStyle.Render(fmt.Sprintf("%.2f W", t.Power)),
		statsLabelStyle.Render("Battery:"), statsValueStyle.Render(fmt.Sprintf("%.1f%%", t.Battery)),
	))
	c.WriteString(fmt.Sprintf("%s %s   roll %s  pitch %s  yaw %s",
		statsLabelStyle.Render("ADCS:"), statsValueStyle.Render(protocol.FormatADCSMode(t.ADCS.Mode)),
		statsValueStyle.Render(fmt.Sprintf("%7.2f°", degrees(t.ADCS.Roll))),
		statsValueStyle.Render(fmt.Sprintf("%7.2f°", degrees(t.ADCS.Pitch))),
		statsValueStyle.Render(fmt.Sprintf("%7.2f°", degrees(t.ADCS.Yaw))),
	))
	return boxStyle.Width(m.width - 4).Render(c.String())
}
