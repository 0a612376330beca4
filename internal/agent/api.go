// Package agent exposes workflow documents to agent code through a
// bound context API: semantic keys resolve through the context cache and
// a document loader, and every read is recorded in the usage history.
package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/gao-dev/devstate/internal/contextcache"
	"github.com/gao-dev/devstate/internal/lineage"
	"github.com/gao-dev/devstate/internal/workflow"
)

// Semantic document keys served through the cache and loader. Any other
// key is looked up in the API's custom key-value map.
const (
	KeyPRD                = "prd"
	KeyArchitecture       = "architecture"
	KeyEpicDefinition     = "epic_definition"
	KeyStoryDefinition    = "story_definition"
	KeyCodingStandards    = "coding_standards"
	KeyAcceptanceCriteria = "acceptance_criteria"
)

var semanticKeys = map[string]bool{
	KeyPRD:                true,
	KeyArchitecture:       true,
	KeyEpicDefinition:     true,
	KeyStoryDefinition:    true,
	KeyCodingStandards:    true,
	KeyAcceptanceCriteria: true,
}

// IsSemanticKey reports whether key resolves through the loader rather
// than the custom map.
func IsSemanticKey(key string) bool { return semanticKeys[key] }

// ContextAPI serves documents for one workflow context. It is bound at
// construction and never rebinds; build a new API for a new context.
type ContextAPI struct {
	wc     *workflow.Context
	cache  *contextcache.Cache
	loader DocumentLoader
	usage  *lineage.UsageTracker
	custom map[string]string
	log    logrus.FieldLogger
}

// NewContextAPI binds an API to a workflow context. usage may be nil to
// disable access recording.
func NewContextAPI(wc *workflow.Context, cache *contextcache.Cache, loader DocumentLoader, usage *lineage.UsageTracker, log logrus.FieldLogger) *ContextAPI {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ContextAPI{
		wc:     wc,
		cache:  cache,
		loader: loader,
		usage:  usage,
		custom: make(map[string]string),
		log:    log,
	}
}

// Context returns the bound workflow context.
func (a *ContextAPI) Context() *workflow.Context { return a.wc }

// CacheKey builds the cache key for a semantic document of the bound
// context: "<feature>:<epic[.story]>:<docType>".
func (a *ContextAPI) CacheKey(docType string) string {
	scope := fmt.Sprintf("%d", a.wc.EpicNum)
	if a.wc.StoryNum != nil {
		scope = fmt.Sprintf("%d.%d", a.wc.EpicNum, *a.wc.StoryNum)
	}
	return fmt.Sprintf("%s:%s:%s", a.wc.Feature, scope, docType)
}

// ContentHash is the document version identifier recorded with each
// access: the first 16 hex characters of the SHA-256 of the content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:16]
}

// Get resolves a document key. Semantic keys go through cache and
// loader; other keys are served from the custom map. ok=false means the
// document does not exist for the bound context.
func (a *ContextAPI) Get(ctx context.Context, key string) (string, bool, error) {
	if !IsSemanticKey(key) {
		v, ok := a.custom[key]
		return v, ok, nil
	}

	if key == KeyStoryDefinition && a.wc.StoryNum == nil {
		return "", false, nil
	}

	cacheKey := a.CacheKey(key)
	if value, hit := a.cache.Get(cacheKey); hit {
		a.recordAccess(ctx, cacheKey, value, true)
		return value, true, nil
	}

	content, ok, err := a.loader(ctx, key, a.wc)
	if err != nil {
		return "", false, fmt.Errorf("failed to load %s document: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}

	a.cache.Set(cacheKey, content, 0)
	a.recordAccess(ctx, cacheKey, content, false)
	return content, true, nil
}

// SetCustom registers a custom key served by Get without touching the
// cache or the loader.
func (a *ContextAPI) SetCustom(key, value string) {
	a.custom[key] = value
}

// PRD returns the product requirements document for the bound feature.
func (a *ContextAPI) PRD(ctx context.Context) (string, bool, error) {
	return a.Get(ctx, KeyPRD)
}

// Architecture returns the architecture document.
func (a *ContextAPI) Architecture(ctx context.Context) (string, bool, error) {
	return a.Get(ctx, KeyArchitecture)
}

// EpicDefinition returns the bound epic's overview document.
func (a *ContextAPI) EpicDefinition(ctx context.Context) (string, bool, error) {
	return a.Get(ctx, KeyEpicDefinition)
}

// StoryDefinition returns the bound story's document, or ok=false when
// the context has no story.
func (a *ContextAPI) StoryDefinition(ctx context.Context) (string, bool, error) {
	return a.Get(ctx, KeyStoryDefinition)
}

// CodingStandards returns the project coding standards document.
func (a *ContextAPI) CodingStandards(ctx context.Context) (string, bool, error) {
	return a.Get(ctx, KeyCodingStandards)
}

// AcceptanceCriteria returns the acceptance criteria section of the
// bound story's document.
func (a *ContextAPI) AcceptanceCriteria(ctx context.Context) (string, bool, error) {
	return a.Get(ctx, KeyAcceptanceCriteria)
}

func (a *ContextAPI) recordAccess(ctx context.Context, cacheKey, content string, hit bool) {
	if a.usage == nil {
		return
	}
	epic := a.wc.EpicNum
	err := a.usage.Record(ctx, lineage.Access{
		ContextKey:  cacheKey,
		ContentHash: ContentHash(content),
		CacheHit:    hit,
		WorkflowID:  a.wc.WorkflowID,
		Epic:        &epic,
		Story:       a.wc.StoryNum,
	})
	if err != nil {
		a.log.WithError(err).WithField("context_key", cacheKey).Warn("failed to record document access")
	}
}
