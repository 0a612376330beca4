package lineage

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/gao-dev/devstate/internal/storage"
)

// ArtifactType values accepted by the tracker. Mirrors the store's CHECK
// constraint.
const (
	ArtifactEpic  = "epic"
	ArtifactStory = "story"
	ArtifactTask  = "task"
	ArtifactCode  = "code"
	ArtifactTest  = "test"
	ArtifactDoc   = "doc"
	ArtifactOther = "other"
)

// documentHierarchy orders lineage output from requirements down to
// leaves: prd before architecture before epic, and so on.
var documentHierarchy = map[string]int{
	"prd":          0,
	"architecture": 1,
	"epic":         2,
	"story":        3,
	"code":         4,
	"test":         5,
	"doc":          6,
}

const hierarchyOther = 7

func hierarchyRank(docType string) int {
	if r, ok := documentHierarchy[docType]; ok {
		return r
	}
	return hierarchyOther
}

// Tracker records and queries artifact-to-document attribution.
type Tracker struct {
	store *storage.Store
	log   logrus.FieldLogger
}

// NewTracker wires a lineage tracker over an open store.
func NewTracker(store *storage.Store, log logrus.FieldLogger) *Tracker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Tracker{store: store, log: log}
}

// Attribution describes one document version feeding one artifact.
type Attribution struct {
	ArtifactType    string
	ArtifactID      string
	DocumentID      string
	DocumentPath    string
	DocumentType    string
	DocumentVersion string
	WorkflowID      string
	WorkflowName    string
	Epic            *int
	Story           *int
}

// Record appends one lineage row.
func (t *Tracker) Record(ctx context.Context, a Attribution) error {
	return t.store.InsertUsage(ctx, &storage.UsageRecord{
		ArtifactType:    a.ArtifactType,
		ArtifactID:      a.ArtifactID,
		DocumentID:      a.DocumentID,
		DocumentPath:    a.DocumentPath,
		DocumentType:    a.DocumentType,
		DocumentVersion: a.DocumentVersion,
		WorkflowID:      a.WorkflowID,
		WorkflowName:    a.WorkflowName,
		Epic:            a.Epic,
		Story:           a.Story,
	})
}

// ArtifactContext returns every document access recorded for an
// artifact, newest first.
func (t *Tracker) ArtifactContext(ctx context.Context, artifactType, artifactID string) ([]*storage.UsageRecord, error) {
	return t.store.QueryUsage(ctx, storage.UsageFilter{
		ArtifactType: artifactType, ArtifactID: artifactID})
}

// WorkflowContext returns every document access recorded for a workflow
// run, newest first.
func (t *Tracker) WorkflowContext(ctx context.Context, workflowID string) ([]*storage.UsageRecord, error) {
	return t.store.QueryUsage(ctx, storage.UsageFilter{WorkflowID: workflowID})
}

// ContextLineage returns an artifact's document accesses ordered by the
// document-type hierarchy: prd, architecture, epic, story, code, test,
// doc, other. Ties keep newest-first order.
func (t *Tracker) ContextLineage(ctx context.Context, artifactType, artifactID string) ([]*storage.UsageRecord, error) {
	records, err := t.ArtifactContext(ctx, artifactType, artifactID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return hierarchyRank(records[i].DocumentType) < hierarchyRank(records[j].DocumentType)
	})
	return records, nil
}

// DetectStaleUsage returns records whose recorded document version no
// longer matches the current hash for that document id. Documents absent
// from currentVersions are skipped.
func (t *Tracker) DetectStaleUsage(ctx context.Context, currentVersions map[string]string) ([]*storage.UsageRecord, error) {
	records, err := t.store.QueryUsage(ctx, storage.UsageFilter{})
	if err != nil {
		return nil, err
	}

	var stale []*storage.UsageRecord
	for _, r := range records {
		if r.DocumentID == "" {
			continue
		}
		current, ok := currentVersions[r.DocumentID]
		if !ok {
			continue
		}
		if r.DocumentVersion != current {
			stale = append(stale, r)
		}
	}
	return stale, nil
}
