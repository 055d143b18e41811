// Command optoutd is the opt-out automation engine's desktop-companion
// binary. It owns no user interface of its own: it reads one JSON command
// per line on stdin and writes one JSON response per line to stdout, so the
// UI shell (Tauri, Electron, or a test harness) can drive it as a
// subprocess (spec.md §1, "the engine is UI-agnostic").
package main

import (
	_ "embed"
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opt-outta/engine/internal/appconfig"
	"github.com/opt-outta/engine/internal/browser"
	"github.com/opt-outta/engine/internal/device"
	"github.com/opt-outta/engine/internal/history"
	"github.com/opt-outta/engine/internal/obslog"
	"github.com/opt-outta/engine/internal/playbook"
	"github.com/opt-outta/engine/internal/profile"
	"github.com/opt-outta/engine/internal/registry"
	"github.com/opt-outta/engine/internal/registryapi"
	"github.com/opt-outta/engine/internal/runengine"
	"github.com/opt-outta/engine/internal/secrets"
)

//go:embed brokers.json
var bundledBrokersJSON []byte

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", defaultConfigPath(), "path to the engine's TOML configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("OPTOUTTA_ENV"))
	logger := obslog.Setup("optoutd", env)

	cfg, err := appconfig.Load(configPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	app, err := wireApp(cfg)
	if err != nil {
		logger.Error("wire application", "error", err)
		os.Exit(1)
	}
	defer app.browserDriver.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go app.pumpEngineEvents(logger)

	logger.Info("optoutd ready", "data_dir", cfg.DataDir, "environment", cfg.Environment)
	app.runCommandLoop(ctx, os.Stdin, os.Stdout, logger)
}

// defaultConfigPath resolves the config file location the same way
// internal/appconfig resolves the data directory: XDG_DATA_HOME if set,
// otherwise the OS's per-user config directory (spec.md §6).
func defaultConfigPath() string {
	if xdg := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); xdg != "" {
		return xdg + "/opt-outta/config.toml"
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.toml"
	}
	return dir + "/opt-outta/config.toml"
}

// app bundles every wired component a command may need to touch.
type app struct {
	cfg           *appconfig.Config
	profileStore  *profile.Store
	historyStore  *history.Store
	registryCache *registry.Cache
	localStore    *playbook.LocalStore
	verifier      *playbook.Verifier
	api           *registryapi.Client
	browserDriver *browser.Driver
	engine        *runengine.Engine
	deviceID      string
}

func wireApp(cfg *appconfig.Config) (*app, error) {
	secretsCache := secrets.New()
	if err := secretsCache.Load(); err != nil {
		return nil, err
	}
	profileStore := profile.NewStore(secretsCache, cfg.DataDir)
	historyStore := history.NewStore(cfg.DataDir)
	localStore := playbook.NewLocalStore(cfg.DataDir)

	verifier, err := playbook.NewVerifier(cfg.PlaybookPublicKeyBase64)
	if err != nil {
		return nil, err
	}

	var api *registryapi.Client
	if cfg.IsSandbox() {
		api = registryapi.NewSandbox(cfg.RegistryBaseURL, cfg.SandboxBearerToken)
	} else {
		seed, err := cfg.SigningSeed()
		if err != nil {
			return nil, err
		}
		api, err = registryapi.New(cfg.RegistryBaseURL, seed)
		if err != nil {
			return nil, err
		}
	}

	var bundled playbook.BrokerRegistry
	if err := json.Unmarshal(bundledBrokersJSON, &bundled); err != nil {
		return nil, err
	}
	registryCache := registry.NewCache(cfg.DataDir, &bundled, api)

	binary, err := browser.FindChromeBinary()
	if err != nil {
		return nil, err
	}
	driver := browser.New(binary)

	source := newCombinedSource(localStore, api)
	eng := runengine.New(driver, source, historyStore, api, verifier, device.ID(), cfg.AppVersion)

	return &app{
		cfg:           cfg,
		profileStore:  profileStore,
		historyStore:  historyStore,
		registryCache: registryCache,
		localStore:    localStore,
		verifier:      verifier,
		api:           api,
		browserDriver: driver,
		engine:        eng,
		deviceID:      device.ID(),
	}, nil
}

// pumpEngineEvents logs every progress/completion event the engine emits.
// Events are not written to stdout; "run.status" reports only the engine's
// current status.
func (a *app) pumpEngineEvents(logger interface {
	Info(msg string, args ...any)
}) {
	for {
		select {
		case ev, ok := <-a.engine.Progress:
			if !ok {
				return
			}
			logger.Info("run progress", "run_id", ev.RunID, "broker_id", ev.BrokerID, "status", string(ev.Status))
		case ev, ok := <-a.engine.Completion:
			if !ok {
				return
			}
			logger.Info("run completed", "run_id", ev.RunID, "succeeded", ev.Succeeded, "failed", ev.Failed)
		}
	}
}

// command is one line of the stdin protocol: {"cmd": "...", "payload": {...}}.
type command struct {
	Cmd     string          `json:"cmd"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// response is one line of stdout: either {"ok": true, "data": ...} or
// {"ok": false, "error": "..."}.
type response struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

func (a *app) runCommandLoop(ctx context.Context, in *os.File, out *os.File, logger interface {
	Error(msg string, args ...any)
}) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	enc := json.NewEncoder(out)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var cmd command
		if err := json.Unmarshal([]byte(line), &cmd); err != nil {
			_ = enc.Encode(response{OK: false, Error: "malformed command: " + err.Error()})
			continue
		}

		data, err := a.dispatch(ctx, cmd)
		if err != nil {
			_ = enc.Encode(response{OK: false, Error: err.Error()})
			continue
		}
		if err := enc.Encode(response{OK: true, Data: data}); err != nil {
			logger.Error("encode response", "error", err)
		}

		if cmd.Cmd == "quit" {
			return
		}
	}
}

func (a *app) dispatch(ctx context.Context, cmd command) (any, error) {
	switch cmd.Cmd {
	case "profile.save":
		var p profile.Profile
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode profile: %w", err)
		}
		return nil, a.profileStore.Save(&p)

	case "profile.get":
		return a.profileStore.Get()

	case "profile.delete":
		return nil, a.profileStore.Delete()

	case "device.id":
		return map[string]string{"device_id": a.deviceID}, nil

	case "brokers.list":
		return a.registryCache.Current()

	case "brokers.sync":
		return nil, a.registryCache.Sync(ctx)

	case "playbooks.local.list":
		return a.localStore.All()

	case "playbooks.local.save":
		var draft playbook.LocalPlaybook
		if err := json.Unmarshal(cmd.Payload, &draft); err != nil {
			return nil, fmt.Errorf("decode local playbook: %w", err)
		}
		return nil, a.localStore.Upsert(draft)

	case "playbooks.local.delete":
		var req struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, fmt.Errorf("decode request: %w", err)
		}
		return nil, a.localStore.Delete(req.ID)

	case "run.start":
		return a.handleRunStart(ctx, cmd.Payload)

	case "run.cancel":
		return nil, a.engine.Cancel()

	case "run.continue":
		return nil, a.engine.Continue()

	case "run.status":
		return map[string]string{"status": string(a.engine.Status())}, nil

	case "history.list":
		return a.historyStore.Load()

	case "history.latest":
		records, err := a.historyStore.Load()
		if err != nil {
			return nil, err
		}
		return history.LatestPerBroker(records), nil

	case "history.due":
		records, err := a.historyStore.Load()
		if err != nil {
			return nil, err
		}
		return history.DueForRecheck(records, time.Now()), nil

	case "history.confirm":
		var req struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, fmt.Errorf("decode request: %w", err)
		}
		return nil, a.historyStore.SetStatus(req.ID, history.StatusConfirmed, time.Now())

	case "quit":
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown command %q", cmd.Cmd)
	}
}

type runStartRequest struct {
	RunID   string `json:"run_id"`
	Brokers []struct {
		BrokerID  string `json:"broker_id"`
		Selection string `json:"selection"`
	} `json:"brokers"`
}

// handleRunStart resolves each requested broker against the current
// registry, launches the run, and resolves profile keys against the
// user's saved profile at dispatch time (spec.md §4.8).
func (a *app) handleRunStart(ctx context.Context, payload json.RawMessage) (any, error) {
	var req runStartRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode run request: %w", err)
	}

	current, err := a.registryCache.Current()
	if err != nil {
		return nil, err
	}
	byID := make(map[string]playbook.Broker, len(current.Brokers))
	for _, b := range current.Brokers {
		byID[b.ID] = b
	}

	runs := make([]runengine.BrokerRun, 0, len(req.Brokers))
	for _, b := range req.Brokers {
		broker, ok := byID[b.BrokerID]
		if !ok {
			return nil, fmt.Errorf("unknown broker %q", b.BrokerID)
		}
		runs = append(runs, runengine.BrokerRun{Broker: broker, PlaybookSelection: b.Selection})
	}

	p, err := a.profileStore.Get()
	if err != nil {
		return nil, err
	}
	resolver := func(key string) (string, bool) { return profile.Resolve(p, key) }

	if err := a.browserDriver.Launch(ctx); err != nil {
		return nil, err
	}
	if err := a.engine.Start(ctx, req.RunID, runs, resolver); err != nil {
		return nil, err
	}
	return map[string]string{"run_id": req.RunID}, nil
}
