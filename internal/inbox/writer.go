// Package inbox delivers dispatched events as JSON files into per-agent
// inbox directories. File delivery is an external collaborator of the
// coordination core, not part of it; it plugs into dispatch via Handler.
package inbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"swarmcore/internal/coordination"
)

type Writer struct {
	root string
}

// NewWriter roots the inbox tree at dir, creating it if needed.
func NewWriter(dir string) (*Writer, error) {
	absRoot, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve inbox root: %w", err)
	}
	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create inbox root: %w", err)
	}
	return &Writer{root: absRoot}, nil
}

// Deliver writes one copy of the event into every target agent's inbox.
// Events with no targets produce no files. A failed write for one agent
// does not stop delivery to the rest.
func (w *Writer) Deliver(ev coordination.Event) error {
	data, err := json.MarshalIndent(ev, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.ID, err)
	}

	var firstErr error
	for _, agentID := range ev.Targets {
		dir, err := w.agentDir(agentID)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("create inbox for %s: %w", agentID, err)
			}
			continue
		}
		path := filepath.Join(dir, ev.ID+".json")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("write inbox file for %s: %w", agentID, err)
			}
		}
	}
	return firstErr
}

// List returns the event ids currently sitting in the agent's inbox,
// sorted for stable iteration.
func (w *Writer) List(agentID string) ([]string, error) {
	dir, err := w.agentDir(agentID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read inbox for %s: %w", agentID, err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Remove deletes one delivered event file from the agent's inbox.
func (w *Writer) Remove(agentID, eventID string) error {
	dir, err := w.agentDir(agentID)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(dir, eventID+".json")); err != nil {
		return fmt.Errorf("remove inbox file: %w", err)
	}
	return nil
}

// Handler adapts the writer into a dispatch handler.
func (w *Writer) Handler() coordination.Handler {
	return w.Deliver
}

// agentDir resolves the inbox directory for an agent, rejecting ids that
// would escape the inbox root.
func (w *Writer) agentDir(agentID string) (string, error) {
	normalized := strings.TrimSpace(agentID)
	if normalized == "" {
		return "", fmt.Errorf("agent id is empty")
	}

	abs := filepath.Clean(filepath.Join(w.root, normalized, "inbox"))
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return "", fmt.Errorf("resolve inbox path: %w", err)
	}
	if rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("agent id %q escapes inbox root", agentID)
	}
	return abs, nil
}
