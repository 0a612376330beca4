package agent

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/gao-dev/devstate/internal/contextcache"
	"github.com/gao-dev/devstate/internal/lineage"
	"github.com/gao-dev/devstate/internal/workflow"
)

// RequestScope carries the current workflow context for one unit of
// work. The engine hands each request its own scope; nothing here is
// process-global. The mutex only guards against accidental sharing, the
// intended use is one scope per goroutine.
type RequestScope struct {
	cache  *contextcache.Cache
	loader DocumentLoader
	usage  *lineage.UsageTracker
	log    logrus.FieldLogger

	mu  sync.Mutex
	api *ContextAPI
}

// NewRequestScope builds an empty scope over shared cache, loader, and
// usage tracker handles.
func NewRequestScope(cache *contextcache.Cache, loader DocumentLoader, usage *lineage.UsageTracker, log logrus.FieldLogger) *RequestScope {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RequestScope{cache: cache, loader: loader, usage: usage, log: log}
}

// SetCurrent binds the scope to a workflow context and returns the API
// bound to it. A previous binding is replaced.
func (s *RequestScope) SetCurrent(wc *workflow.Context) *ContextAPI {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.api = NewContextAPI(wc, s.cache, s.loader, s.usage, s.log)
	return s.api
}

// Current returns the bound workflow context, or ok=false when the
// scope is empty.
func (s *RequestScope) Current() (*workflow.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.api == nil {
		return nil, false
	}
	return s.api.Context(), true
}

// API returns the context API bound by SetCurrent, or ok=false when the
// scope is empty.
func (s *RequestScope) API() (*ContextAPI, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.api == nil {
		return nil, false
	}
	return s.api, true
}

// ClearCurrent unbinds the scope.
func (s *RequestScope) ClearCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.api = nil
}
