package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"swarmcore/internal/config"
	"swarmcore/internal/coordination"
	"swarmcore/internal/inbox"
	sqlitejournal "swarmcore/internal/journal/sqlite"
	"swarmcore/internal/relay"
	"swarmcore/internal/swarm"
)

type app struct {
	cfg     config.Config
	core    *coordination.Core
	swarm   *swarm.Coordinator
	journal *sqlitejournal.Journal
}

func main() {
	configPath := flag.String("config", "", "path to config.toml (default: ~/.swarmcore/config.toml)")
	addrFlag := flag.String("addr", "", "http listen address override")
	dbPathFlag := flag.String("db", "", "sqlite journal path override")
	inboxFlag := flag.String("inbox", "", "inbox root override (empty disables file delivery)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if *configPath != "" || !errors.Is(err, os.ErrNotExist) {
			log.Fatalf("load config: %v", err)
		}
		log.Printf("no config file found, using defaults")
		cfg = config.Config{}
	}

	addr := firstNonEmpty(*addrFlag, cfg.Server.Addr, ":8093")
	dbPath := filepath.Clean(firstNonEmpty(*dbPathFlag, cfg.Journal.DBPath, "data/swarmcore.db"))
	inboxRoot := firstNonEmpty(*inboxFlag, cfg.Inbox.Root)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		log.Fatalf("create journal directory: %v", err)
	}

	journal, err := sqlitejournal.Open(dbPath)
	if err != nil {
		log.Fatalf("open journal: %v", err)
	}
	defer func() {
		_ = journal.Close()
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := journal.Migrate(ctx); err != nil {
		log.Fatalf("migrate journal: %v", err)
	}

	coreCfg := coordination.Config{
		DefaultTTL: durationMS(cfg.Coordination.DefaultTTLMS, coordination.DefaultTTL),
		GetTimeout: durationMS(cfg.Coordination.GetTimeoutMS, 50*time.Millisecond),
		Retry: coordination.RetryPolicy{
			MaxAttempts: intOrDefault(cfg.Coordination.RetryAttempts, 1),
			Backoff:     coordination.LinearBackoff(durationMS(cfg.Coordination.RetryBackoffMS, 100*time.Millisecond)),
		},
	}
	core := coordination.New(coreCfg, log.Default())
	coordinator := swarm.New(core, log.Default())

	for _, eventType := range coordination.AllEventTypes {
		core.RegisterHandler(eventType, journal.Recorder(ctx))
	}

	if inboxRoot != "" || cfg.Inbox.Enabled {
		writer, err := inbox.NewWriter(firstNonEmpty(inboxRoot, "data/inbox"))
		if err != nil {
			log.Fatalf("create inbox writer: %v", err)
		}
		for _, eventType := range coordination.AllEventTypes {
			core.RegisterHandler(eventType, writer.Handler())
		}
	}

	if cfg.Relay.Enabled {
		redisRelay := relay.NewRedisRelay(&redis.Options{Addr: firstNonEmpty(cfg.Relay.Addr, "localhost:6379")}, log.Default())
		defer func() {
			_ = redisRelay.Close()
		}()
		for _, eventType := range coordination.AllEventTypes {
			core.RegisterHandler(eventType, redisRelay.Handler(ctx))
		}
	}

	batchSize := intOrDefault(cfg.Coordination.BatchSize, 64)
	processInterval := durationMS(cfg.Coordination.ProcessIntervalMS, 100*time.Millisecond)
	go processLoop(ctx, core, batchSize, processInterval)

	a := &app{
		cfg:     cfg,
		core:    core,
		swarm:   coordinator,
		journal: journal,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/config", a.handleConfig)
	mux.HandleFunc("/agents", a.handleAgents)
	mux.HandleFunc("/agents/", a.handleAgentByID)
	mux.HandleFunc("/events", a.handleEvents)
	mux.HandleFunc("/broadcast", a.handleBroadcast)
	mux.HandleFunc("/coordination", a.handleCoordination)
	mux.HandleFunc("/sync", a.handleSync)
	mux.HandleFunc("/stats", a.handleStats)

	server := &http.Server{
		Addr:              addr,
		Handler:           loggingMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Printf("swarmd started addr=%s journal=%s relay=%t", addr, dbPath, cfg.Relay.Enabled)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http server failed: %v", err)
	}
}

// processLoop drains the core in bounded batches until the context ends.
func processLoop(ctx context.Context, core *coordination.Core, batchSize int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			core.ProcessEvents(batchSize)
		}
	}
}

func (a *app) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *app) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"path": a.cfg.Path,
		"raw":  a.cfg.Raw,
	})
}

func (a *app) handleAgents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.core.ActiveAgents())
	case http.MethodPost:
		var req struct {
			AgentID string `json:"agent_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
			return
		}
		if strings.TrimSpace(req.AgentID) == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("agent_id is required"))
			return
		}
		if !a.core.RegisterAgent(req.AgentID) {
			writeError(w, http.StatusConflict, fmt.Errorf("agent %s is already registered", req.AgentID))
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"status": "registered", "agent_id": req.AgentID})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (a *app) handleAgentByID(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.TrimPrefix(r.URL.Path, "/agents/")
	parts := strings.Split(trimmed, "/")
	agentID := parts[0]
	if agentID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("agent id is required"))
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !a.core.UnregisterAgent(agentID) {
			writeError(w, http.StatusNotFound, fmt.Errorf("agent %s is not registered", agentID))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "unregistered", "agent_id": agentID})
		return
	}

	action := parts[1]
	switch action {
	case "events":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		limit := queryInt(r, "limit", 200)
		events, err := a.journal.ListAgentEvents(r.Context(), agentID, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, events)
	case "state":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		state, ok := a.swarm.AgentState(agentID)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("no state synced for agent %s", agentID))
			return
		}
		writeJSON(w, http.StatusOK, state)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown action: %s", action))
	}
}

func (a *app) handleEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit := queryInt(r, "limit", 200)
		events, err := a.journal.ListEvents(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, events)
	case http.MethodPost:
		var req struct {
			Type     string         `json:"type"`
			Source   string         `json:"source"`
			Targets  []string       `json:"targets"`
			Payload  map[string]any `json:"payload"`
			Priority string         `json:"priority"`
			TTLMS    int            `json:"ttl_ms"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
			return
		}
		if strings.TrimSpace(req.Type) == "" || strings.TrimSpace(req.Source) == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("type and source are required"))
			return
		}
		priority := coordination.ParsePriority(req.Priority)
		var id string
		if req.TTLMS > 0 {
			id = a.core.EmitWithTTL(
				coordination.EventType(req.Type), req.Source, req.Targets, req.Payload,
				priority, time.Duration(req.TTLMS)*time.Millisecond,
			)
		} else {
			id = a.core.Emit(coordination.EventType(req.Type), req.Source, req.Targets, req.Payload, priority)
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"event_id": id})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (a *app) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Source   string         `json:"source"`
		Message  map[string]any `json:"message"`
		Priority string         `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
		return
	}
	if strings.TrimSpace(req.Source) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("source is required"))
		return
	}
	id := a.swarm.Broadcast(req.Source, req.Message, coordination.ParsePriority(firstNonEmpty(req.Priority, "critical")))
	writeJSON(w, http.StatusAccepted, map[string]any{"event_id": id})
}

func (a *app) handleCoordination(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Requester   string         `json:"requester"`
		Target      string         `json:"target"`
		RequestType string         `json:"request_type"`
		Details     map[string]any `json:"details"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
		return
	}
	if req.Requester == "" || req.Target == "" || req.RequestType == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("requester, target, request_type are required"))
		return
	}
	id := a.swarm.RequestCoordination(req.Requester, req.Target, req.RequestType, req.Details)
	writeJSON(w, http.StatusAccepted, map[string]any{"event_id": id})
}

func (a *app) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		AgentID string         `json:"agent_id"`
		State   map[string]any `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
		return
	}
	if strings.TrimSpace(req.AgentID) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("agent_id is required"))
		return
	}
	if !a.swarm.SyncSwarmState(req.AgentID, req.State) {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("sync failed for agent %s", req.AgentID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "synced", "agent_id": req.AgentID})
}

func (a *app) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dispatched":     a.swarm.Stats(),
		"queue_size":     a.core.QueueSize(),
		"dropped_events": a.core.DroppedEvents(),
		"active_agents":  a.core.ActiveAgents(),
	})
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func durationMS(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Millisecond
}

func intOrDefault(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func queryInt(r *http.Request, key string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
