package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/valter-silva-au/questsync/internal/core"
	"github.com/valter-silva-au/questsync/pkg/models"
)

var (
	agendaAt   string
	agendaJSON bool
)

// Style definitions shared by the agenda and the dashboard.
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	dayStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	timeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("141"))

	statusOpen       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	statusStarted    = lipgloss.NewStyle().Foreground(lipgloss.Color("69"))
	statusInProgress = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	statusCompleted  = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	statusExpired    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

var agendaCmd = &cobra.Command{
	Use:   "agenda",
	Short: "Show tasks grouped by day and time",
	Long: `Show the task agenda: Today, Tomorrow and later days, each with its untimed
tasks followed by time-of-day groups, plus the episodic tasks that are
currently active.

Deleted tasks, hidden episodic tasks and past tasks that were neither
completed nor in progress are left out.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Agenda == nil {
			return fmt.Errorf("agenda service not initialized")
		}

		now := time.Now()
		if agendaAt != "" {
			at, err := time.Parse(time.RFC3339, agendaAt)
			if err != nil {
				return fmt.Errorf("parsing --at: %w", err)
			}
			now = at
		}

		agenda, err := Agenda.Build(commandContext(cmd), now)
		if err != nil {
			return fmt.Errorf("building agenda: %w", err)
		}

		if agendaJSON {
			data, err := json.MarshalIndent(agenda, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting agenda as JSON: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		fmt.Fprint(cmd.OutOrStdout(), renderAgenda(agenda))
		if agenda.Skipped > 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %d task record(s) could not be decoded\n", agenda.Skipped)
		}
		return nil
	},
}

// renderAgenda formats an agenda for the terminal.
func renderAgenda(a *core.Agenda) string {
	var b strings.Builder

	if len(a.Days) == 0 && len(a.Episodic) == 0 {
		b.WriteString("No tasks.\n")
		return b.String()
	}

	for i, day := range a.Days {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(dayStyle.Render(day.DayLabel))
		b.WriteString("\n")
		for _, t := range day.TasksWithoutTime {
			b.WriteString(fmt.Sprintf("  %-9s %s\n", "", taskLine(t)))
		}
		for _, g := range day.TimeGroups {
			for j, t := range g.Tasks {
				label := ""
				if j == 0 {
					label = g.Time
				}
				b.WriteString(fmt.Sprintf("  %s %s\n", timeStyle.Render(fmt.Sprintf("%-9s", label)), taskLine(t)))
			}
		}
	}

	if len(a.Episodic) > 0 {
		b.WriteString("\n")
		b.WriteString(dayStyle.Render("Episodic"))
		b.WriteString("\n")
		for _, t := range a.Episodic {
			b.WriteString(fmt.Sprintf("  %s\n", taskLine(t)))
		}
	}

	return b.String()
}

func taskLine(t models.Task) string {
	title := t.Title
	if title == "" {
		title = t.ID
	}
	if t.Status == "" {
		return title
	}
	return fmt.Sprintf("%s %s", title, styleForStatus(t.Status).Render("["+string(t.Status)+"]"))
}

func styleForStatus(status models.TaskStatus) lipgloss.Style {
	switch status {
	case models.StatusOpen, models.StatusVisible:
		return statusOpen
	case models.StatusStarted:
		return statusStarted
	case models.StatusInProgress:
		return statusInProgress
	case models.StatusCompleted:
		return statusCompleted
	case models.StatusExpired, models.StatusRecalled:
		return statusExpired
	default:
		return lipgloss.NewStyle()
	}
}

func init() {
	agendaCmd.Flags().StringVar(&agendaAt, "at", "", "Build the agenda for this instant (RFC 3339) instead of now")
	agendaCmd.Flags().BoolVar(&agendaJSON, "json", false, "Output the agenda as JSON")
	rootCmd.AddCommand(agendaCmd)
}
