package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"swarmcore/internal/coordination"
)

type client struct {
	baseURL string
	http    *http.Client
}

type statsResponse struct {
	Dispatched    map[string]uint64 `json:"dispatched"`
	QueueSize     int               `json:"queue_size"`
	DroppedEvents uint64            `json:"dropped_events"`
	ActiveAgents  []string          `json:"active_agents"`
}

func main() {
	addr := flag.String("addr", "http://localhost:8093", "swarmd base URL")
	interval := flag.Duration("interval", 2*time.Second, "refresh interval")
	flag.Parse()

	c := &client{
		baseURL: strings.TrimRight(*addr, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	if err := waitHealth(c, 30*time.Second); err != nil {
		fmt.Fprintf(os.Stderr, "swarmd health check failed: %v\n", err)
		os.Exit(1)
	}

	app := tview.NewApplication()
	agentsTable := tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false)
	agentsTable.SetTitle("Active Agents (F5 refresh, F10 quit)").SetBorder(true)

	statsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	statsView.SetTitle("Dispatch Stats").SetBorder(true)

	eventsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	eventsView.SetTitle("Recent Events").SetBorder(true)

	statusView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	statusView.SetBorder(true).SetTitle("Status")
	statusView.SetText(fmt.Sprintf("Connected to %s | shortcuts: F10 quit, F5 refresh", c.baseURL))

	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(statsView, 0, 1, false).
		AddItem(eventsView, 0, 2, false)

	mainLayout := tview.NewFlex().
		AddItem(agentsTable, 0, 1, false).
		AddItem(right, 0, 2, false)

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(mainLayout, 0, 12, false).
		AddItem(statusView, 3, 0, false)

	refresh := func() {
		stats, err := c.fetchStats()
		if err != nil {
			app.QueueUpdateDraw(func() {
				statusView.SetText(fmt.Sprintf("stats load error: %v", err))
			})
			return
		}
		events, err := c.listEvents(50)
		if err != nil {
			app.QueueUpdateDraw(func() {
				statusView.SetText(fmt.Sprintf("events load error: %v", err))
			})
			return
		}
		app.QueueUpdateDraw(func() {
			renderAgentsTable(agentsTable, stats.ActiveAgents)
			statsView.SetText(renderStats(stats))
			eventsView.SetText(renderEvents(events))
			statusView.SetText(fmt.Sprintf(
				"Connected to %s | agents=%d queue=%d dropped=%d | updated %s",
				c.baseURL, len(stats.ActiveAgents), stats.QueueSize, stats.DroppedEvents,
				time.Now().Format("15:04:05"),
			))
		})
	}

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyF10:
			app.Stop()
			return nil
		case tcell.KeyF5:
			go refresh()
			return nil
		}
		return event
	})

	go func() {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()

		refresh()
		for range ticker.C {
			refresh()
		}
	}()

	if err := app.SetRoot(root, true).EnableMouse(true).SetFocus(agentsTable).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "monitor failed: %v\n", err)
		os.Exit(1)
	}
}

func waitHealth(c *client, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		req, err := http.NewRequest(http.MethodGet, c.baseURL+"/healthz", nil)
		if err == nil {
			resp, err := c.http.Do(req)
			if err == nil {
				_ = resp.Body.Close()
				if resp.StatusCode < 300 {
					return nil
				}
			}
		}
		time.Sleep(400 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for /healthz")
}

func (c *client) fetchStats() (statsResponse, error) {
	var stats statsResponse
	if err := c.getJSON("/stats", nil, &stats); err != nil {
		return statsResponse{}, err
	}
	return stats, nil
}

func (c *client) listEvents(limit int) ([]coordination.Event, error) {
	var events []coordination.Event
	query := url.Values{"limit": []string{fmt.Sprintf("%d", limit)}}
	if err := c.getJSON("/events", query, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *client) getJSON(path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	resp, err := c.http.Get(target)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("get %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func renderAgentsTable(table *tview.Table, agents []string) {
	table.Clear()
	table.SetCell(0, 0, tview.NewTableCell("Agent").SetSelectable(false).SetAttributes(tcell.AttrBold))
	for i, agentID := range agents {
		table.SetCell(i+1, 0, tview.NewTableCell(agentID))
	}
}

func renderStats(stats statsResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "queue size: %d\n", stats.QueueSize)
	fmt.Fprintf(&b, "dropped (expired): %d\n\n", stats.DroppedEvents)

	types := make([]string, 0, len(stats.Dispatched))
	for t := range stats.Dispatched {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(&b, "%-22s %d\n", t, stats.Dispatched[t])
	}
	return b.String()
}

func renderEvents(events []coordination.Event) string {
	var b strings.Builder
	for _, ev := range events {
		fmt.Fprintf(
			&b,
			"%s  %-22s %-9s %s -> %s\n",
			ev.Timestamp.Local().Format("15:04:05"),
			ev.Type,
			ev.Priority,
			ev.Source,
			renderTargets(ev.Targets),
		)
	}
	if b.Len() == 0 {
		return "no events recorded yet"
	}
	return b.String()
}

func renderTargets(targets []string) string {
	if len(targets) == 0 {
		return "(untargeted)"
	}
	if len(targets) > 4 {
		return fmt.Sprintf("%s +%d more", strings.Join(targets[:4], ","), len(targets)-4)
	}
	return strings.Join(targets, ",")
}
