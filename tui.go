package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	colorful "github.com/lucasb-eyer/go-colorful"
)

type state int

const (
	stateDiscovering state = iota
	stateSelecting
	stateRunning
	stateStopping
	stateDone
)

type devicesFoundMsg struct {
	devices []string
	last    string
	err     error
}

type frameMsg FrameStats

type runDoneMsg struct {
	err error
}

type model struct {
	state   state
	spinner spinner.Model
	p       *pipeline
	ctx     context.Context
	cancel  context.CancelFunc
	frames  chan FrameStats

	devices []string
	last    string
	cursor  int
	device  string

	stats    FrameStats
	received int
	overruns int
	err      error
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	itemStyle     = lipgloss.NewStyle().PaddingLeft(2)
	selectedStyle = lipgloss.NewStyle().PaddingLeft(0).Foreground(lipgloss.Color("170"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func newModel(ctx context.Context, p *pipeline) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("63"))
	ctx, cancel := context.WithCancel(ctx)
	return model{
		state:   stateDiscovering,
		spinner: s,
		p:       p,
		ctx:     ctx,
		cancel:  cancel,
		frames:  make(chan FrameStats, 1),
	}
}

// runMonitor runs the frame loop under a terminal UI that lets the user
// pick a device and shows the strip live.
func runMonitor(ctx context.Context, p *pipeline) error {
	m := newModel(ctx, p)
	defer m.cancel()
	result, err := tea.NewProgram(m).Run()
	if err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	return result.(model).err
}

func (m model) Init() tea.Cmd {
	if m.p.opts.device != "" {
		return tea.Batch(m.spinner.Tick, func() tea.Msg {
			return devicesFoundMsg{devices: []string{m.p.opts.device}}
		})
	}
	return tea.Batch(m.spinner.Tick, discoverCmd())
}

func discoverCmd() tea.Cmd {
	return func() tea.Msg {
		devices, err := DiscoverDevices()
		msg := devicesFoundMsg{devices: devices, err: err}
		if rec, found, _ := LastDevice(); found {
			msg.last = rec.Path
		}
		return msg
	}
}

// startCmd runs the whole frame loop; it returns when the loop ends.
func (m model) startCmd(device string) tea.Cmd {
	p, ctx, frames := m.p, m.ctx, m.frames
	run := func() tea.Msg {
		err := p.run(ctx, device, func(s FrameStats) {
			select {
			case frames <- s:
			default: // the UI is behind; it only needs the newest frame
			}
		})
		// The runner was the only sender; closing releases waitForFrame.
		close(frames)
		return runDoneMsg{err: err}
	}
	return tea.Batch(run, waitForFrame(frames))
}

// waitForFrame delivers the next frame, or nothing once the run is over.
func waitForFrame(frames <-chan FrameStats) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-frames
		if !ok {
			return nil
		}
		return frameMsg(s)
	}
}

func (m model) start(device string) (model, tea.Cmd) {
	m.device = device
	m.state = stateRunning
	return m, m.startCmd(device)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.cancel()
			if m.state == stateRunning {
				m.state = stateStopping
				return m, nil
			}
			m.state = stateDone
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case devicesFoundMsg:
		// Discovery errors are not fatal; the remembered device or the
		// simulated strip may still be usable.
		m.last = msg.last
		if len(msg.devices) <= 1 {
			device := ""
			if len(msg.devices) == 1 {
				device = msg.devices[0]
			}
			return m.start(device)
		}
		m.devices = msg.devices
		for i, d := range m.devices {
			if d == m.last {
				m.cursor = i
			}
		}
		m.state = stateSelecting
		return m, nil

	case frameMsg:
		m.stats = FrameStats(msg)
		m.received++
		if msg.Overrun {
			m.overruns++
		}
		return m, waitForFrame(m.frames)

	case runDoneMsg:
		m.err = msg.err
		m.state = stateDone
		return m, tea.Quit
	}

	if m.state == stateSelecting {
		if msg, ok := msg.(tea.KeyMsg); ok {
			switch msg.String() {
			case "up", "k":
				if m.cursor > 0 {
					m.cursor--
				}
			case "down", "j":
				if m.cursor < len(m.devices)-1 {
					m.cursor++
				}
			case "enter":
				return m.start(m.devices[m.cursor])
			}
		}
	}

	return m, nil
}

func (m model) View() string {
	switch m.state {
	case stateDiscovering:
		return fmt.Sprintf("\n %s %s\n\n",
			m.spinner.View(),
			titleStyle.Render("Looking for LED strip controllers..."))

	case stateSelecting:
		s := "\n" + titleStyle.Render("  Select a serial device:") + "\n\n"
		for i, d := range m.devices {
			label := d
			if d == m.last {
				label += " (last used)"
			}
			if i == m.cursor {
				s += selectedStyle.Render("▸ "+label) + "\n"
			} else {
				s += itemStyle.Render(label) + "\n"
			}
		}
		s += "\n" + helpStyle.Render("  ↑/k up · ↓/j down · enter select · q quit") + "\n"
		return s

	case stateRunning, stateStopping:
		if m.received == 0 {
			return fmt.Sprintf("\n %s %s\n\n",
				m.spinner.View(),
				titleStyle.Render("Waiting for the first frame..."))
		}
		var b strings.Builder
		b.WriteString("\n" + titleStyle.Render("  ambiled") + "\n\n")
		b.WriteString(renderPerimeter(m.p.geometry, m.stats.Colors))
		b.WriteString("\n" + m.statusLine() + "\n")
		if m.state == stateStopping {
			b.WriteString("\n" + helpStyle.Render("  stopping...") + "\n")
		} else {
			b.WriteString("\n" + helpStyle.Render("  q quit") + "\n")
		}
		return b.String()

	case stateDone:
		if m.err != nil {
			return "\n" + errStyle.Render("  Error: "+m.err.Error()) + "\n\n"
		}
		return fmt.Sprintf("\n  %d frames sent.\n\n", m.received)
	}

	return ""
}

func (m model) statusLine() string {
	s := m.stats
	period := s.Work + s.Sleep
	fps := 0.0
	if period > 0 {
		fps = float64(time.Second) / float64(period)
	}
	avg := averageZoneColor(s.Colors)
	l, _, _ := avg.Lab()
	device := m.device
	if device == "" {
		device = "auto"
	}
	return fmt.Sprintf("  frame %d · work %.1f ms · sleep %.1f ms · %.1f fps · %d overruns\n  device %s · average %s (L %.2f)",
		s.Index, ms(s.Work), ms(s.Sleep), fps, m.overruns, device, avg.Hex(), l)
}

// renderPerimeter draws the zones as colored blocks laid out around an
// empty screen.
func renderPerimeter(g Geometry, colors ZoneColors) string {
	width := max(g.Top, g.Bottom)*2 + 4
	var b strings.Builder

	row := func(s Side) {
		b.WriteString("  ")
		for _, id := range g.Zones(s) {
			b.WriteString(ledBlock(colors[id]))
		}
		b.WriteString("\n")
	}

	row(SideTop)
	for i := 0; i < g.verticalZones(); i++ {
		b.WriteString("  ")
		left, right := "  ", "  "
		if i < g.Left {
			left = ledBlock(colors[ZoneID{Side: SideLeft, Index: i}])
		}
		if i < g.Right {
			right = ledBlock(colors[ZoneID{Side: SideRight, Index: i}])
		}
		b.WriteString(left)
		b.WriteString(strings.Repeat(" ", max(0, width-8)))
		b.WriteString(right)
		b.WriteString("\n")
	}
	row(SideBottom)
	return b.String()
}

func toColorful(c RGB) colorful.Color {
	return colorful.Color{R: float64(c.R) / 255, G: float64(c.G) / 255, B: float64(c.B) / 255}
}

func ledBlock(c RGB) string {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(toColorful(c).Hex())).Render("██")
}

func averageZoneColor(colors ZoneColors) colorful.Color {
	if len(colors) == 0 {
		return colorful.Color{}
	}
	var r, g, b float64
	for _, c := range colors {
		cc := toColorful(c)
		r += cc.R
		g += cc.G
		b += cc.B
	}
	n := float64(len(colors))
	return colorful.Color{R: r / n, G: g / n, B: b / n}
}
