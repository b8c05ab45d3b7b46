// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/helioguard/internal/engine"
	"github.com/Thermoquad/helioguard/pkg/breaker"
	"github.com/Thermoquad/helioguard/pkg/frame"
	"github.com/Thermoquad/helioguard/pkg/output"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const maxLogEntries = 100

// Input prompts
const (
	inputNone = iota
	inputTripThreshold
	inputLowVoltage
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for notices
}

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	post     func(engine.Event) bool
	connInfo string

	state     engine.State
	telemetry *engine.Telemetry

	errorLog      []errorLogEntry
	maxLogEntries int
	showTraces    bool

	input     textinput.Model
	inputMode int

	width    int
	height   int
	quitting bool
	linkDown bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlTickMsg time.Time

// controlBatchMsg carries everything the engine produced since the last
// batch. Only the latest state and telemetry matter.
type controlBatchMsg struct {
	state     *engine.State
	telemetry *engine.Telemetry
	logs      []engine.LogEntry
}

type postFailedMsg struct {
	event engine.Event
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(post func(engine.Event) bool, connInfo string) controlModel {
	ti := textinput.New()
	ti.CharLimit = 8
	ti.Width = 10

	return controlModel{
		post:          post,
		connInfo:      connInfo,
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: maxLogEntries,
		input:         ti,
		width:         80,
		height:        24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return controlTickCmd()
}

func controlTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return controlTickMsg(t)
	})
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case controlTickMsg:
		m.state.Stats.CalculateRates()
		return m, controlTickCmd()

	case controlBatchMsg:
		m.applyBatch(msg)

	case postFailedMsg:
		m.addLogEntry(fmt.Sprintf("Engine stopped, %T not delivered", msg.event), true)
	}

	return m, nil
}

func (m controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.inputMode != inputNone {
		return m.handleInputKey(msg)
	}

	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "y":
		return m, m.send(engine.ToggleLED{LED: frame.LEDYellow})
	case "r":
		return m, m.send(engine.ToggleLED{LED: frame.LEDRed})
	case "g":
		return m, m.send(engine.ToggleLED{LED: frame.LEDGreen})

	case "m":
		next := (m.state.Mode + 1) % (output.ModePattern + 1)
		return m, m.send(engine.SetMode{Mode: next})

	case "b":
		return m, m.send(engine.SetBypass{Enabled: !m.state.Breaker.Bypassed})

	case "x":
		return m, m.send(engine.ResetBreaker{})

	case "t":
		m.openInput(inputTripThreshold, m.state.Breaker.TripThresholdMA)
	case "l":
		m.openInput(inputLowVoltage, m.state.Breaker.LowVoltageV)

	case "v":
		m.showTraces = !m.showTraces
	}

	return m, nil
}

func (m controlModel) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.closeInput()
		return m, nil

	case "enter":
		mode := m.inputMode
		raw := strings.TrimSpace(m.input.Value())
		m.closeInput()

		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			m.addLogEntry(fmt.Sprintf("Invalid number %q", raw), true)
			return m, nil
		}
		if mode == inputTripThreshold {
			return m, m.send(engine.SetTripThreshold{MilliAmps: v})
		}
		return m, m.send(engine.SetLowVoltage{Volts: v})

	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *controlModel) openInput(mode int, current float64) {
	m.inputMode = mode
	m.input.SetValue(strconv.FormatFloat(current, 'f', -1, 64))
	m.input.CursorEnd()
	m.input.Focus()
}

func (m *controlModel) closeInput() {
	m.inputMode = inputNone
	m.input.Blur()
	m.input.Reset()
}

// send posts an intent off the UI goroutine
func (m *controlModel) send(ev engine.Event) tea.Cmd {
	post := m.post
	return func() tea.Msg {
		if !post(ev) {
			return postFailedMsg{event: ev}
		}
		return nil
	}
}

func (m controlModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	s.WriteString(titleStyle.Render("HELIOGUARD CONTROL"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.linkDown {
		connStatus = warningStyle.Render("RECONNECTING...")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | q=quit", connStatus)))
	s.WriteString("\n\n")

	half := (m.width - 6) / 2
	protection := boxStyle.Width(half).Render(m.renderProtection(statsLabelStyle, statsValueStyle, errorStyle, warningStyle))
	outputs := boxStyle.Width(half).Render(m.renderOutputs(statsLabelStyle, statsValueStyle, headerStyle))
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, protection, " ", outputs))
	s.WriteString("\n")

	s.WriteString(m.renderTelemetry(statsLabelStyle, statsValueStyle, warningStyle, boxStyle))
	s.WriteString("\n")
	s.WriteString(m.renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle))
	s.WriteString("\n")
	s.WriteString(m.renderEventLog(statsLabelStyle, warningStyle, errorStyle, headerStyle, boxStyle))
	s.WriteString("\n")

	if m.inputMode != inputNone {
		label := "Trip threshold (mA): "
		if m.inputMode == inputLowVoltage {
			label = "Low voltage (V): "
		}
		s.WriteString(statsLabelStyle.Render(label))
		s.WriteString(m.input.View())
		s.WriteString(headerStyle.Render("  enter=apply esc=cancel"))
	} else {
		s.WriteString(headerStyle.Render("y/r/g=toggle m=mode b=bypass x=reset t=trip mA l=low V v=traces"))
	}

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m controlModel) renderProtection(labelStyle, valueStyle, errorStyle, warningStyle lipgloss.Style) string {
	var s strings.Builder
	st := m.state
	s.WriteString(labelStyle.Render("PROTECTION"))
	s.WriteString("\n")

	circuit := valueStyle.Render(st.Circuit.String())
	switch st.Circuit {
	case breaker.CircuitTripped:
		circuit = errorStyle.Render(fmt.Sprintf("%s (%s)", st.Circuit, st.Breaker.Reason))
	case breaker.CircuitBypassed:
		circuit = warningStyle.Render(st.Circuit.String())
	}
	battery := valueStyle.Render(st.Battery.String())
	if st.Battery == breaker.BatteryDead {
		battery = errorStyle.Render(st.Battery.String())
	}

	s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Circuit:"), circuit))
	s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Battery:"), battery))
	s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Trip at:"),
		valueStyle.Render(fmt.Sprintf("%.2f mA discharge", st.Breaker.TripThresholdMA))))
	s.WriteString(fmt.Sprintf("%s %s", labelStyle.Render("Low V:  "),
		valueStyle.Render(fmt.Sprintf("%.2f V (recover %.2f V)", st.Breaker.LowVoltageV, st.Breaker.RecoveryVoltageV))))
	return s.String()
}

func lamp(on bool) string {
	if on {
		return "ON "
	}
	return "off"
}

func (m controlModel) renderOutputs(labelStyle, valueStyle, headerStyle lipgloss.Style) string {
	var s strings.Builder
	st := m.state
	s.WriteString(labelStyle.Render("OUTPUTS"))
	s.WriteString("\n")

	mode := st.Mode.String()
	if st.PhaseName != "" {
		mode += " / " + st.PhaseName
	}
	s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Mode:     "), valueStyle.Render(mode)))
	s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Indicator:"), valueStyle.Render(lamp(st.Command.Indicator))))
	s.WriteString(fmt.Sprintf("%s Y %s  R %s  G %s\n", labelStyle.Render("LEDs:     "),
		valueStyle.Render(lamp(st.Command.Lit(frame.LEDYellow))),
		valueStyle.Render(lamp(st.Command.Lit(frame.LEDRed))),
		valueStyle.Render(lamp(st.Command.Lit(frame.LEDGreen)))))
	s.WriteString(headerStyle.Render(fmt.Sprintf("epoch %d", st.Epoch)))
	return s.String()
}

func (m controlModel) renderTelemetry(labelStyle, valueStyle, warningStyle, boxStyle lipgloss.Style) string {
	var content strings.Builder
	content.WriteString(labelStyle.Render("TELEMETRY"))
	content.WriteString(" | ")

	t := m.telemetry
	if t == nil || t.Record == nil {
		content.WriteString("No telemetry data")
		return boxStyle.Width(m.width - 4).Render(content.String())
	}

	content.WriteString(fmt.Sprintf("%s %s  ", labelStyle.Render("Seq:"), valueStyle.Render(fmt.Sprintf("%03d", t.Record.Sequence()))))
	if t.Sample == nil {
		content.WriteString(warningStyle.Render(fmt.Sprintf("checksum mismatch (received %s, computed %s)",
			frame.FormatChecksum(t.Record.ReceivedChecksum()), frame.FormatChecksum(t.Record.ComputedChecksum()))))
		content.WriteString("\n")
		raw := t.Record.Channels()
		mv := make([]string, len(raw))
		for i, v := range raw {
			mv[i] = fmt.Sprintf("%04d", v)
		}
		content.WriteString(fmt.Sprintf("%s %s %s  ", labelStyle.Render("Raw mV:"),
			warningStyle.Render("UNTRUSTED"), valueStyle.Render(strings.Join(mv, " "))))
		content.WriteString(fmt.Sprintf("%s %s", labelStyle.Render("Inputs:"), valueStyle.Render(fmt.Sprintf("%04b", t.Record.InputMask()))))
		return boxStyle.Width(m.width - 4).Render(content.String())
	}

	sm := t.Sample
	content.WriteString(fmt.Sprintf("%s %s  ", labelStyle.Render("Solar:"), valueStyle.Render(fmt.Sprintf("%.3f V", sm.SolarVoltage))))
	content.WriteString(fmt.Sprintf("%s %s  ", labelStyle.Render("Battery:"),
		valueStyle.Render(fmt.Sprintf("%.3f V %+.2f mA", sm.BatteryVoltage, sm.BatteryCurrentMA))))
	content.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Load:"), valueStyle.Render(fmt.Sprintf("%.2f mA", sm.TotalLoadMA))))
	content.WriteString(fmt.Sprintf("%s Y %s  R %s  G %s  ", labelStyle.Render("LED mA:"),
		valueStyle.Render(fmt.Sprintf("%.2f", sm.LEDCurrentMA[frame.LEDYellow])),
		valueStyle.Render(fmt.Sprintf("%.2f", sm.LEDCurrentMA[frame.LEDRed])),
		valueStyle.Render(fmt.Sprintf("%.2f", sm.LEDCurrentMA[frame.LEDGreen]))))
	content.WriteString(fmt.Sprintf("%s %s", labelStyle.Render("Inputs:"), valueStyle.Render(fmt.Sprintf("%04b", t.Record.InputMask()))))

	return boxStyle.Width(m.width - 4).Render(content.String())
}

func (m controlModel) renderStatisticsBar(labelStyle, valueStyle, errorStyle, boxStyle lipgloss.Style) string {
	stats := m.state.Stats
	var validPercent, errorPercent float64
	if stats.TotalFrames > 0 {
		validPercent = float64(stats.ValidFrames) * 100.0 / float64(stats.TotalFrames)
		errorPercent = float64(stats.ErrorCount()) * 100.0 / float64(stats.TotalFrames)
	}

	errText := valueStyle.Render("0.0%")
	if errorPercent > 0 {
		errText = errorStyle.Render(fmt.Sprintf("%.1f%%", errorPercent))
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s",
		labelStyle.Render("Total:"), valueStyle.Render(fmt.Sprintf("%d", stats.TotalFrames)),
		labelStyle.Render("Valid:"), valueStyle.Render(fmt.Sprintf("%.1f%%", validPercent)),
		labelStyle.Render("Errors:"), errText,
		labelStyle.Render("Lost:"), valueStyle.Render(fmt.Sprintf("%d", stats.PacketLoss)),
		labelStyle.Render("Rate:"), valueStyle.Render(fmt.Sprintf("%.1f frame/s", stats.FrameRate)),
	)

	return boxStyle.Width(m.width - 4).Render(content)
}

func (m controlModel) renderEventLog(labelStyle, warningStyle, errorStyle, headerStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("EVENTS"))
	s.WriteString("\n")

	logHeight := m.height - 22
	if logHeight < 4 {
		logHeight = 4
	}
	startIdx := len(m.errorLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.errorLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.errorLog); i++ {
			entry := m.errorLog[i]
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyle
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(entry.timestamp.Format("15:04:05.000")),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}

//////////////////////////////////////////////////////////////
// Data Processing
//////////////////////////////////////////////////////////////

func (m *controlModel) applyBatch(msg controlBatchMsg) {
	if msg.state != nil {
		m.state = *msg.state
		m.linkDown = !msg.state.LinkUp
		if msg.state.LinkUp && msg.state.LinkInfo != "" {
			m.connInfo = msg.state.LinkInfo
		}
	}
	if msg.telemetry != nil {
		m.telemetry = msg.telemetry
	}

	for _, e := range msg.logs {
		if !m.showTraces && (e.Kind == engine.LogInbound || e.Kind == engine.LogOutbound) {
			continue
		}
		text := e.Message
		if e.Err != nil {
			text = fmt.Sprintf("%s: %v", text, e.Err)
		}
		if e.Kind != engine.LogDiagnostic {
			text = fmt.Sprintf("%s %s", e.Kind, text)
		}
		m.addLogEntryAt(e.Time, text, e.IsError())
	}
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *controlModel) addLogEntry(message string, isError bool) {
	m.addLogEntryAt(time.Now(), message, isError)
}

func (m *controlModel) addLogEntryAt(ts time.Time, message string, isError bool) {
	m.errorLog = append(m.errorLog, errorLogEntry{
		timestamp: ts,
		message:   message,
		isError:   isError,
	})
	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}
