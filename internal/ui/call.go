package ui

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/broadcomms/meeting-ledger/internal/conference"
	"github.com/broadcomms/meeting-ledger/internal/media"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	pion "github.com/pion/webrtc/v4"
)

const (
	refreshInterval = 500 * time.Millisecond
	tilesPerRow     = 3
)

// Controls is the part of the coordinator the call view drives.
type Controls interface {
	Peers() []conference.PeerInfo
	LocalMedia() (media.State, error)
	ToggleVideo() error
	ToggleAudio() error
	Leave()
}

type (
	trackAttachedMsg struct {
		peerID string
		name   string
		kind   pion.RTPCodecType
	}
	tileDetachedMsg struct{ peerID string }
	mediaChangedMsg struct {
		peerID string
		state  media.State
	}
	reportMsg   struct{ err error }
	snapshotMsg struct {
		peers  []conference.PeerInfo
		local  media.State
		joined bool
	}
	refreshMsg time.Time
)

// CallUI renders one tile per remote participant. It implements
// conference.Renderer and conference.Notifier; both only queue a message, so
// the coordinator is never blocked by the terminal.
type CallUI struct {
	model   *callModel
	updates chan tea.Msg
	done    chan struct{}
	opts    []tea.ProgramOption

	program  *tea.Program
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewCallUI(meetingID string, opts ...tea.ProgramOption) *CallUI {
	updates := make(chan tea.Msg, 100)
	done := make(chan struct{})
	return &CallUI{
		model:   newCallModel(meetingID, updates, done),
		updates: updates,
		done:    done,
		opts:    opts,
	}
}

func (u *CallUI) push(msg tea.Msg) {
	select {
	case u.updates <- msg:
	default:
	}
}

func (u *CallUI) Attach(peerID, displayName string, track conference.RemoteTrack) {
	u.push(trackAttachedMsg{peerID: peerID, name: displayName, kind: track.Kind()})
}

func (u *CallUI) Detach(peerID string) {
	u.push(tileDetachedMsg{peerID: peerID})
}

func (u *CallUI) MediaChanged(peerID string, state media.State) {
	u.push(mediaChangedMsg{peerID: peerID, state: state})
}

func (u *CallUI) Report(err error) {
	u.push(reportMsg{err: err})
}

// Start runs the view until Stop or until the user leaves through it.
func (u *CallUI) Start(ctl Controls) {
	u.model.ctl = ctl
	u.program = tea.NewProgram(u.model, u.opts...)

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		if _, err := u.program.Run(); err != nil {
			fmt.Printf("UI error: %v\n", err)
		}
	}()
}

func (u *CallUI) Stop() {
	u.stopOnce.Do(func() {
		close(u.done)
		if u.program != nil {
			u.program.Quit()
		}
		u.wg.Wait()
	})
}

type tile struct {
	name   string
	video  bool
	audio  bool
	remote *media.State
}

type callModel struct {
	meetingID string
	ctl       Controls
	updates   <-chan tea.Msg
	done      <-chan struct{}

	spinner  spinner.Model
	tiles    map[string]*tile
	peers    []conference.PeerInfo
	local    media.State
	joined   bool
	lastErr  error
	quitting bool
}

func newCallModel(meetingID string, updates <-chan tea.Msg, done <-chan struct{}) *callModel {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = SpinnerStyle

	return &callModel{
		meetingID: meetingID,
		updates:   updates,
		done:      done,
		spinner:   s,
		tiles:     make(map[string]*tile),
	}
}

func (m *callModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForUpdates(), m.snapshot())
}

func (m *callModel) listenForUpdates() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-m.updates:
			return msg
		case <-m.done:
			return nil
		}
	}
}

// snapshot polls the coordinator off the UI goroutine.
func (m *callModel) snapshot() tea.Cmd {
	ctl := m.ctl
	return func() tea.Msg {
		if ctl == nil {
			return snapshotMsg{}
		}
		local, err := ctl.LocalMedia()
		return snapshotMsg{peers: ctl.Peers(), local: local, joined: err == nil}
	}
}

func (m *callModel) toggle(fn func() error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(); err != nil {
			return reportMsg{err: err}
		}
		return refreshMsg(time.Now())
	}
}

func (m *callModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			if m.ctl != nil {
				m.ctl.Leave()
			}
			return m, tea.Quit
		case "v":
			if m.ctl != nil {
				return m, m.toggle(m.ctl.ToggleVideo)
			}
		case "a":
			if m.ctl != nil {
				return m, m.toggle(m.ctl.ToggleAudio)
			}
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case trackAttachedMsg:
		t := m.tile(msg.peerID)
		if msg.name != "" {
			t.name = msg.name
		}
		switch msg.kind {
		case pion.RTPCodecTypeVideo:
			t.video = true
		case pion.RTPCodecTypeAudio:
			t.audio = true
		}
		return m, m.listenForUpdates()

	case tileDetachedMsg:
		delete(m.tiles, msg.peerID)
		return m, m.listenForUpdates()

	case mediaChangedMsg:
		state := msg.state
		m.tile(msg.peerID).remote = &state
		return m, m.listenForUpdates()

	case reportMsg:
		m.lastErr = msg.err
		return m, m.listenForUpdates()

	case snapshotMsg:
		m.peers = msg.peers
		m.local = msg.local
		m.joined = msg.joined
		for _, p := range msg.peers {
			if t, ok := m.tiles[p.PeerID]; ok && t.name == "" {
				t.name = p.DisplayName
			}
		}
		return m, tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return refreshMsg(t) })

	case refreshMsg:
		if m.quitting {
			return m, nil
		}
		return m, m.snapshot()
	}

	return m, nil
}

func (m *callModel) tile(peerID string) *tile {
	t, ok := m.tiles[peerID]
	if !ok {
		t = &tile{}
		m.tiles[peerID] = t
	}
	return t
}

func (m *callModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(HeaderStyle.Render(fmt.Sprintf("%s Meeting %s", IconMeeting, m.meetingID)))
	b.WriteString("\n")

	if !m.joined {
		b.WriteString(fmt.Sprintf("%s %s\n", m.spinner.View(), "Waiting for the conference to start..."))
	} else {
		b.WriteString(fmt.Sprintf("You: %s %s   %s\n",
			mediaIcon(m.local.VideoEnabled, IconCamera, IconCamOff),
			mediaIcon(m.local.AudioEnabled, IconMic, IconMuted),
			MutedStyle.Render(fmt.Sprintf("%d peer(s)", len(m.peers))),
		))
	}

	if m.joined && len(m.peers) == 0 {
		b.WriteString(MutedStyle.Render("\nNobody else is here yet.\n"))
	}

	var row []string
	for _, p := range m.peers {
		row = append(row, m.renderTile(p))
		if len(row) == tilesPerRow {
			b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, row...) + "\n")
			row = nil
		}
	}
	if len(row) > 0 {
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, row...) + "\n")
	}

	if m.lastErr != nil {
		b.WriteString("\n" + describeError(m.lastErr) + "\n")
	}

	b.WriteString(FooterStyle.Render("v camera · a microphone · q leave"))
	return b.String()
}

func (m *callModel) renderTile(p conference.PeerInfo) string {
	name := p.DisplayName
	t := m.tiles[p.PeerID]
	if t != nil && t.name != "" {
		name = t.name
	}
	if name == "" {
		name = p.PeerID
	}

	style := InactiveTileStyle
	if p.State == conference.StateConnected {
		style = TileStyle
	}

	lines := []string{
		BoldStyle.Render(IconPeer + " " + truncate(name, 20)),
		MutedStyle.Render(p.State.String()),
	}

	switch {
	case t != nil && t.remote != nil:
		lines = append(lines, mediaIcon(t.remote.VideoEnabled, IconCamera, IconCamOff)+" "+mediaIcon(t.remote.AudioEnabled, IconMic, IconMuted))
	case t != nil && (t.video || t.audio):
		lines = append(lines, mediaIcon(t.video, IconCamera, IconCamOff)+" "+mediaIcon(t.audio, IconMic, IconMuted))
	default:
		lines = append(lines, MutedStyle.Render(IconConnect+" no media yet"))
	}

	return style.Render(strings.Join(lines, "\n"))
}

func mediaIcon(on bool, onIcon, offIcon string) string {
	if on {
		return onIcon
	}
	return offIcon
}

// describeError gives per-peer failures a softer look than session errors.
func describeError(err error) string {
	var ce *conference.Error
	if errors.As(err, &ce) && ce.Peer != "" {
		return WarningStyle.Render(IconWarning + " " + err.Error())
	}
	return FormatError(err)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
