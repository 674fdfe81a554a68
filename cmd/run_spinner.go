package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/bnema/upsample-dispatch/internal/application"
	"github.com/bnema/upsample-dispatch/internal/domain"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type batchDoneMsg struct {
	err error
}

type batchEventMsg struct {
	event application.Event
}

type batchSpinnerModel struct {
	spinner  spinner.Model
	run      tea.Cmd
	total    int
	finished int
	current  string
	state    domain.ItemState
	err      error
	done     bool
}

func newBatchSpinnerModel(total int, run tea.Cmd) batchSpinnerModel {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("69"))),
	)

	return batchSpinnerModel{
		spinner: s,
		run:     run,
		total:   total,
	}
}

func (m batchSpinnerModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.run)
}

func (m batchSpinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case batchEventMsg:
		m.current = msg.event.ID
		m.state = msg.event.State
		if msg.event.State.Terminal() {
			m.finished++
		}
		return m, nil
	case batchDoneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit
	default:
		return m, nil
	}
}

func (m batchSpinnerModel) View() string {
	if m.done {
		return ""
	}
	if m.current == "" {
		return fmt.Sprintf("%s Dispatching %d items...", m.spinner.View(), m.total)
	}

	return fmt.Sprintf("%s [%d/%d] %s %s", m.spinner.View(), m.finished, m.total, m.current, m.state)
}

// runBatchSpinner drives run inside a spinner program and forwards its
// item events to the view. The program outlives ctx so a cancelled batch
// still reports its result; signals stay with the caller.
func runBatchSpinner(ctx context.Context, output io.Writer, total int, run func(context.Context, func(application.Event)) error) error {
	var p *tea.Program
	runCmd := func() tea.Msg {
		return batchDoneMsg{err: run(ctx, func(event application.Event) {
			p.Send(batchEventMsg{event: event})
		})}
	}

	p = tea.NewProgram(
		newBatchSpinnerModel(total, runCmd),
		tea.WithInput(nil),
		tea.WithOutput(output),
		tea.WithoutSignalHandler(),
	)

	finalModel, err := p.Run()
	if err != nil {
		return err
	}

	result, ok := finalModel.(batchSpinnerModel)
	if !ok {
		return fmt.Errorf("unexpected final spinner model type %T", finalModel)
	}

	return result.err
}
