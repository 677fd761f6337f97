package ui

import (
	"fmt"
	"time"

	"github.com/broadcomms/meeting-ledger/internal/conference"
	"github.com/broadcomms/meeting-ledger/internal/organizer"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	ptable "github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// SummaryView renders the peers seen during a call with their last state.
func SummaryView(peers []conference.PeerInfo) string {
	if len(peers) == 0 {
		return MutedStyle.Render("No other participants joined.")
	}

	var rows [][]string
	for _, p := range peers {
		name := p.DisplayName
		if name == "" {
			name = p.PeerID
		}
		rows = append(rows, []string{
			truncate(name, 24),
			truncate(p.PeerID, 12),
			p.State.String(),
			yesNo(p.EverConnected),
			yesNo(p.RemoteStreamAttached),
		})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Participant", "Session", "Final state", "Connected", "Media").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

func RenderSummary(peers []conference.PeerInfo) {
	fmt.Printf("\n%s Call Summary\n", IconSummary)
	fmt.Println(SummaryView(peers))
}

// MeetingsView lists meetings known to the server.
func MeetingsView(meetings []organizer.Meeting, userID string) string {
	t := ptable.NewWriter()
	t.SetStyle(ptable.StyleRounded)
	t.Style().Color.Header = text.Colors{text.Bold, text.FgCyan}
	t.AppendHeader(ptable.Row{"Meeting", "Title", "Organizer", "Conference", "Participants"})

	for _, m := range meetings {
		owner := m.OrganizerID
		if owner == userID && userID != "" {
			owner += " (you)"
		}
		status := "idle"
		if m.Active {
			status = "live"
			if !m.StartedAt.IsZero() {
				status += " since " + m.StartedAt.Local().Format(time.Kitchen)
			}
		}
		t.AppendRow(ptable.Row{m.ID, m.Title, owner, status, m.Participants})
	}

	if len(meetings) == 0 {
		t.AppendFooter(ptable.Row{"", "no meetings"})
	}
	return t.Render()
}

func RenderMeetings(meetings []organizer.Meeting, userID string) {
	fmt.Println(MeetingsView(meetings, userID))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
