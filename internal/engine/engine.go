// Package engine assembles the development-state engine: repository,
// store, document manager, and every service over them, owned by one
// Engine value. Nothing in the engine is process-global; callers hold
// the handles they need and per-request state travels through an
// agent.RequestScope.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/gao-dev/devstate/internal/agent"
	"github.com/gao-dev/devstate/internal/atomic"
	"github.com/gao-dev/devstate/internal/config"
	"github.com/gao-dev/devstate/internal/consistency"
	"github.com/gao-dev/devstate/internal/contextcache"
	"github.com/gao-dev/devstate/internal/docs"
	"github.com/gao-dev/devstate/internal/git"
	"github.com/gao-dev/devstate/internal/lineage"
	"github.com/gao-dev/devstate/internal/migration"
	"github.com/gao-dev/devstate/internal/state"
	"github.com/gao-dev/devstate/internal/storage"
	"github.com/gao-dev/devstate/internal/workflow"
)

// Engine owns every service handle for one project.
type Engine struct {
	Root   string
	Config *config.Config
	Log    *logrus.Logger

	Repo  *git.Repo
	Store *storage.Store

	Docs        *docs.Manager
	Validator   *docs.Validator
	State       *state.Coordinator
	Atomic      *atomic.Manager
	Migration   *migration.Engine
	Consistency *consistency.Engine
	Workflows   *workflow.Persistence
	Cache       *contextcache.Cache
	Usage       *lineage.UsageTracker
	Lineage     *lineage.Tracker

	loader *agent.FSLoader
}

// Options tune engine construction.
type Options struct {
	// Registry is the external document registry; nil wires a no-op.
	Registry docs.Registry

	// LogLevel overrides the configured logging level when non-empty.
	LogLevel string
}

// Open builds an engine for the project rooted at root. The root must
// be inside a git repository. The state database directory is created
// if missing.
func Open(ctx context.Context, root string, opts Options) (*Engine, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}

	logCfg := cfg.Logging
	if opts.LogLevel != "" {
		logCfg.Level = opts.LogLevel
	}
	log, err := newLogger(logCfg)
	if err != nil {
		return nil, err
	}

	repo, err := git.New(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}

	dbPath := cfg.DatabasePath(root)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	store, err := storage.Open(dbPath, log)
	if err != nil {
		return nil, err
	}

	docsRoot := cfg.DocsRoot(root)
	templates := cfg.Templates()
	registry := opts.Registry
	if registry == nil {
		registry = docs.NopRegistry{}
	}

	docsMgr := docs.NewManager(docsRoot, templates, registry, repo, log)
	e := &Engine{
		Root:        root,
		Config:      cfg,
		Log:         log,
		Repo:        repo,
		Store:       store,
		Docs:        docsMgr,
		Validator:   docs.NewValidator(docsRoot, templates),
		State:       state.NewCoordinator(store, log),
		Atomic:      atomic.NewManager(repo, store, docsMgr, log),
		Migration:   migration.NewEngine(repo, store, docsRoot, log),
		Consistency: consistency.NewEngine(repo, store, docsRoot, log),
		Workflows:   workflow.NewPersistence(store, log),
		Cache:       contextcache.New(cfg.Cache.MaxSize, cfg.Cache.TTL),
		Usage:       lineage.NewUsageTracker(store, log),
		Lineage:     lineage.NewTracker(store, log),
		loader:      agent.NewFSLoader(docsRoot, templates, registry, log),
	}
	return e, nil
}

// NewScope builds a request scope over the engine's shared cache,
// loader, and usage tracker.
func (e *Engine) NewScope() *agent.RequestScope {
	return agent.NewRequestScope(e.Cache, e.loader.Load, e.Usage, e.Log)
}

// Close releases the state database.
func (e *Engine) Close() error {
	return e.Store.Close()
}

func newLogger(cfg config.LoggingConfig) (*logrus.Logger, error) {
	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	log.SetLevel(level)
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log, nil
}
