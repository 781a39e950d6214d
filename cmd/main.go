package main

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"

	"github.com/galarux/subastapp/configs"
	"github.com/galarux/subastapp/internal/auction"
	"github.com/galarux/subastapp/internal/database"
	"github.com/galarux/subastapp/internal/handlers/websocket"
	"github.com/galarux/subastapp/pkg/utils"
)

var (
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	baseStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))
	db database.Service
)

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Every(5*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Define the model for the Bubble Tea application
type model struct {
	table     table.Model
	viewport  viewport.Model
	logBuffer *bytes.Buffer
	logs      []string
	showTable bool
	quitting  bool
}

func (m model) Init() tea.Cmd {
	return tick()
}

func participantRows() []table.Row {
	ctx := context.Background()

	participants, err := db.ListParticipants(ctx)
	if err != nil {
		log.Error("Error listing participants: ", err)
		return nil
	}
	state, err := db.GetAuctionState(ctx)
	if err != nil {
		log.Error("Error getting auction state: ", err)
		return nil
	}
	tallies, err := db.ItemsWonTallies(ctx)
	if err != nil {
		log.Error("Error getting tallies: ", err)
		return nil
	}

	won := make(map[string]int, len(tallies))
	for _, t := range tallies {
		won[t.ParticipantID] = t.ItemsWon
	}

	rows := make([]table.Row, 0, len(participants))
	for _, p := range participants {
		turn := "-"
		if p.Order == state.CurrentTurn {
			turn = "●"
		}
		withdrawn := "-"
		if p.Withdrawn {
			withdrawn = "out"
		}
		row := []string{
			p.Name,
			strconv.Itoa(p.Credits),
			strconv.Itoa(won[p.ID]),
			strconv.Itoa(p.Order),
			turn,
			withdrawn,
		}
		rows = append(rows, row)
	}
	return rows
}

func newTable() model {
	columns := []table.Column{
		{Title: "PARTICIPANT", Width: 20},
		{Title: "CREDITS", Width: 10},
		{Title: "ITEMS WON", Width: 10},
		{Title: "ORDER", Width: 8},
		{Title: "TURN", Width: 6},
		{Title: "WITHDRAWN", Width: 10},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(participantRows()),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	vp := viewport.New(100, 15)
	vp.Style = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		PaddingRight(2)
	return model{table: t, showTable: true, viewport: vp}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {

	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)
	switch msg := msg.(type) {
	case tickMsg:
		if m.showTable {
			m.table.SetRows(participantRows())
		} else {
			// refresh logs to get new logs
			m.logs = nil
			logs := strings.Split(m.logBuffer.String(), "\n")
			m.logs = append(m.logs, logs...)
		}
		return m, tick()

	case tea.KeyMsg:
		switch msg.String() {
		case "up":
			if !m.showTable {
				m.viewport.LineUp(1) // Scroll up one line in logs
			}
		case "down":
			if !m.showTable {
				m.viewport.LineDown(1) // Scroll down one line in logs
			}
		case "tab":
			m.showTable = !m.showTable
			if !m.showTable {
				// Load logs from buffer when switching to logs view
				m.logs = nil
				logs := strings.Split(m.logBuffer.String(), "\n")
				m.logs = append(m.logs, logs...)
			}
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
	}

	if m.showTable {
		m.table, cmd = m.table.Update(msg)
		cmds = append(cmds, cmd)
		return m, tea.Batch(cmds...)
	}
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// Render the view based on the current state of the model
func (m model) View() string {
	if m.quitting {
		return "Bye!\n"
	}
	if m.showTable {
		return baseStyle.Render(m.table.View()) + "\n" + helpStyle.Render("• tab: switch modes • q: exit\n")
	}

	// Create a copy of logs to avoid modifying the original
	styledLogs := make([]string, len(m.logs))
	copy(styledLogs, m.logs)

	styledLogs = utils.ColorizeLogs(styledLogs)

	// only show last 15 lines of logs
	if len(styledLogs) > 15 {
		styledLogs = styledLogs[len(styledLogs)-15:]
	}

	m.viewport.SetContent(strings.Join(styledLogs, "\n"))
	return m.viewport.View() + "\n" + helpStyle.Render("• tab: switch modes • q: exit\n")
}

func main() {
	// Load configurations
	cfg, err := configs.LoadConfig()
	if err != nil {
		log.Fatal("Error loading config: ", err)
	}

	port := cfg.Server.Port
	if port == "" {
		port = "8080" // Default port if not specified
	}

	// Setup logger
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "debug" // Default log level if not specified
	}
	logLevel, err := log.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		log.Error("Invalid log level: ", err)
	}
	log.SetLevel(logLevel)

	// Redirect logs to buffer so the dashboard can display them
	logBuffer := new(bytes.Buffer)
	log.SetOutput(logBuffer)

	// Initialize database service
	db = database.New(cfg)
	defer db.Close()

	// Initialize WebSocket handler and the room coordinator
	auctionHandler := websocket.NewAuctionWebSocketHandler(db)
	coordinator := auction.New(db, auctionHandler, auction.Config{
		CountdownSeconds:    cfg.Auction.CountdownSeconds,
		MinIncrement:        cfg.Auction.MinIncrement,
		ItemsPerParticipant: cfg.Auction.ItemsPerParticipant,
	}, nil)
	auctionHandler.SetCoordinator(coordinator)
	defer coordinator.Stop()

	if err := coordinator.Hydrate(context.Background()); err != nil {
		log.Error("Error resuming auction state: ", err)
	}

	// Setup routes
	http.HandleFunc("/ws/auction", auctionHandler.HandleAuctions)

	// Start server in a goroutine
	log.Infof("Server started on port %s", port)
	go func() {
		if err := http.ListenAndServe(":"+port, nil); err != nil {
			log.Fatal("Failed to start server: ", err)
		}
	}()

	// Start Bubble Tea program
	m := newTable()
	m.logBuffer = logBuffer
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		log.Fatalf("Error running Bubble Tea program: %v", err)
	}
}
