package viz

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/diffdrive/internal/automation"
	"github.com/san-kum/diffdrive/internal/drive"
	"github.com/san-kum/diffdrive/internal/drivetrain"
	"github.com/san-kum/diffdrive/internal/sim"
)

const (
	canvasW      = 40
	canvasH      = 16
	dotsPerFoot  = 3.0
	historyLen   = 200
	axisStep     = 0.1
	driveMaxStep = 0.05

	moveInches  = 48
	turnDegrees = 90
)

type tickMsg time.Time

// keyAxes is the keyboard standing in for a joystick.
type keyAxes struct {
	forward, rotation float64
}

func (k *keyAxes) Y() float64 { return -k.forward }
func (k *keyAxes) Z() float64 { return k.rotation }

type point struct{ x, y float64 }

// move is a closed-loop command with a rejection reason.
type move interface {
	drivetrain.Command
	Err() error
}

// TeleopModel drives a rig in real time from the keyboard.
type TeleopModel struct {
	rig    *automation.Rig
	runner *sim.Runner
	period time.Duration
	check  time.Duration

	axes    *keyAxes
	squared bool
	teleop  *drivetrain.TeleopCommand
	move    move
	label   string
	stalled bool

	last         sim.Sample
	pose         point
	lastL, lastR int64
	trail        []point
	outL, outR   []float64
	trips        int
	message      string
	canvas       *Canvas

	// manual disables the real-time tick; steps come from Step.
	manual bool
}

func NewTeleopModel(rig *automation.Rig) *TeleopModel {
	m := &TeleopModel{
		rig:     rig,
		runner:  rig.Runner(),
		period:  rig.Config.LoopPeriod,
		check:   rig.Config.Watchdog.CheckInterval,
		axes:    &keyAxes{},
		squared: rig.Config.Teleop.Squared,
		canvas:  NewCanvas(canvasW, canvasH),
		trail:   make([]point, 0, historyLen),
	}
	key := rig.Config.Tuning.DriveMaxKey
	if rig.Tuning.Float(key) == 0 {
		rig.Tuning.Set(key, 1)
	}
	m.teleop = drivetrain.NewTeleopCommand(rig.Drivetrain, m.axes, m.squared)
	m.teleop.Initialize()
	m.label = "teleop"
	return m
}

func (m *TeleopModel) Init() tea.Cmd { return m.nextTick() }

func (m *TeleopModel) nextTick() tea.Cmd {
	if m.manual {
		return nil
	}
	return tea.Tick(m.period, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *TeleopModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m, m.handleKey(msg.String())
	case tickMsg:
		m.Step()
		return m, m.nextTick()
	}
	return m, nil
}

func (m *TeleopModel) handleKey(key string) tea.Cmd {
	switch key {
	case "q", "ctrl+c", "esc":
		m.active().End(true)
		return tea.Quit
	case "w":
		m.axes.forward = clampAxis(m.axes.forward + axisStep)
	case "s":
		m.axes.forward = clampAxis(m.axes.forward - axisStep)
	case "d":
		m.axes.rotation = clampAxis(m.axes.rotation + axisStep)
	case "a":
		m.axes.rotation = clampAxis(m.axes.rotation - axisStep)
	case "x":
		m.axes.forward, m.axes.rotation = 0, 0
		if m.move != nil {
			m.move.End(true)
			m.endMove("move cancelled")
		}
	case "e":
		m.squared = !m.squared
		m.teleop = drivetrain.NewTeleopCommand(m.rig.Drivetrain, m.axes, m.squared)
	case "[":
		m.nudgeDriveMax(-driveMaxStep)
	case "]":
		m.nudgeDriveMax(driveMaxStep)
	case " ":
		m.stalled = !m.stalled
	case "m":
		m.startMove("straight", drivetrain.NewStraightInches(m.rig.Drivetrain, moveInches))
	case "t":
		m.startMove("turn", drivetrain.NewTurnDegrees(m.rig.Drivetrain, turnDegrees))
	}
	return nil
}

func (m *TeleopModel) nudgeDriveMax(d float64) {
	key := m.rig.Config.Tuning.DriveMaxKey
	v := math.Round((m.rig.Tuning.Float(key)+d)*100) / 100
	m.rig.Tuning.Set(key, min(1, max(driveMaxStep, v)))
}

func (m *TeleopModel) active() drivetrain.Command {
	if m.move != nil {
		return m.move
	}
	return m.teleop
}

func (m *TeleopModel) startMove(label string, cmd move) {
	if m.move != nil {
		m.message = "finish or cancel the current move first"
		return
	}
	cmd.Initialize()
	if err := cmd.Err(); err != nil {
		m.message = err.Error()
		return
	}
	// Starting a move zeroes the encoders.
	m.lastL, m.lastR = 0, 0
	m.move, m.label, m.message = cmd, label, ""
}

func (m *TeleopModel) endMove(msg string) {
	m.move, m.label, m.message = nil, "teleop", msg
	m.teleop.Initialize()
}

// Step runs one control period.
func (m *TeleopModel) Step() {
	s, done, trips := m.runner.Tick(m.active(), m.period, m.check, m.stalled)
	m.trips += trips
	if m.move != nil && done {
		err := m.move.Err()
		m.move.End(false)
		if err != nil {
			m.endMove(err.Error())
		} else {
			m.endMove(m.label + " arrived")
		}
	}
	m.observe(s)
}

func (m *TeleopModel) observe(s sim.Sample) {
	dl, dr := s.LeftTicks-m.lastL, s.RightTicks-m.lastR
	m.lastL, m.lastR = s.LeftTicks, s.RightTicks

	inches := float64(dl+dr) / 2 / m.rig.Config.TicksPerInch()
	rad := s.Heading * math.Pi / 180
	m.pose.x += inches * math.Sin(rad)
	m.pose.y += inches * math.Cos(rad)
	m.last = s

	m.trail = appendBounded(m.trail, m.pose)
	m.outL = appendBounded(m.outL, s.LeftOutput)
	m.outR = appendBounded(m.outR, s.RightOutput)
}

func appendBounded[T any](xs []T, v T) []T {
	xs = append(xs, v)
	if len(xs) > historyLen {
		xs = xs[1:]
	}
	return xs
}

func clampAxis(v float64) float64 {
	return math.Round(min(1, max(-1, v))*10) / 10
}

// toDots maps field inches to canvas dots, origin at the centre.
func toDots(p point) (int, int) {
	return canvasW + int(math.Round(p.x/12*dotsPerFoot)),
		canvasH*2 - int(math.Round(p.y/12*dotsPerFoot*2))
}

func (m *TeleopModel) draw() {
	m.canvas.Clear()
	for i := 1; i < len(m.trail); i++ {
		x0, y0 := toDots(m.trail[i-1])
		x1, y1 := toDots(m.trail[i])
		m.canvas.DrawLine(x0, y0, x1, y1)
	}
	x, y := toDots(m.pose)
	m.canvas.DrawRobot(x, y, m.last.Heading, 3)
}

func (m *TeleopModel) status() string {
	switch {
	case m.last.WatchdogExpired:
		return statusFault.Render("WATCHDOG: OUTPUTS ZEROED")
	case m.stalled:
		return statusFault.Render("CONTROL LOOP HUNG")
	case m.move != nil:
		return statusMove.Render(strings.ToUpper(m.label) + " " + m.rig.Drivetrain.MoveState().String())
	default:
		return statusOK.Render("TELEOP")
	}
}

func (m *TeleopModel) View() string {
	m.draw()
	dt := m.rig.Drivetrain

	var s strings.Builder
	s.WriteString(headerStyle.Render("DIFFDRIVE") + "\n")
	s.WriteString(m.status() + "\n\n")

	row := func(label, value string) {
		s.WriteString(labelStyle.Render(label) + valueStyle.Render(value) + "\n")
	}
	row("Time", fmt.Sprintf("%.2fs", m.rig.Clock.Elapsed().Seconds()))
	row("Axes", fmt.Sprintf("fwd %+.1f  rot %+.1f", m.axes.forward, m.axes.rotation))
	row("Squared", fmt.Sprintf("%v", m.squared))
	row("Left", OutputBar(m.last.LeftOutput, 20)+fmt.Sprintf(" %+.2f", m.last.LeftOutput))
	row("Right", OutputBar(m.last.RightOutput, 20)+fmt.Sprintf(" %+.2f", m.last.RightOutput))
	row("Ticks", fmt.Sprintf("%d / %d", m.last.LeftTicks, m.last.RightTicks))
	row("Heading", fmt.Sprintf("%.1f°", m.last.Heading))
	if m.rig.Gyro != nil {
		if h, err := dt.Heading(); err == nil {
			row("Gyro", fmt.Sprintf("%.1f°", h))
		} else {
			row("Gyro", "unavailable")
		}
	}
	row("Drive Max", fmt.Sprintf("%.2f", m.rig.Tuning.Float(m.rig.Config.Tuning.DriveMaxKey)))
	row("Ramp", fmt.Sprintf("%.2fs", dt.Ramp()))
	row("Slot", m.rig.Plant.SelectedSlot(drive.Left).String())
	row("Trips", fmt.Sprintf("%d", m.trips))
	row("Faults", fmt.Sprintf("%d", dt.Faults()))
	if m.message != "" {
		row("Note", m.message)
	}

	if len(m.outL) > 1 {
		chart := asciigraph.PlotMany([][]float64{m.outL, m.outR},
			asciigraph.Height(5), asciigraph.Width(40),
			asciigraph.LowerBound(-1), asciigraph.UpperBound(1),
			asciigraph.SeriesColors(asciigraph.Green, asciigraph.Yellow),
			asciigraph.Caption("left / right output"))
		s.WriteString("\n" + graphStyle.Render(chart) + "\n")
	}
	s.WriteString(helpStyle.Render("W/S fwd  A/D rot  X centre  E squared\n[ ] drive max  M straight  T turn\nSPACE hang loop  Q quit"))

	field := panelStyle.Render(m.canvas.String())
	return lipgloss.JoinHorizontal(lipgloss.Top, field, panelStyle.Render(s.String()))
}
