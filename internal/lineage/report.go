package lineage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gao-dev/devstate/internal/storage"
)

// Report is a renderable set of lineage records with a title.
type Report struct {
	Title   string                 `json:"title"`
	Records []*storage.UsageRecord `json:"records"`
}

// JSON renders the report as indented JSON.
func (r *Report) JSON() (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}
	return string(data), nil
}

// Markdown renders the report as a table, one row per record.
func (r *Report) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", r.Title)

	if len(r.Records) == 0 {
		b.WriteString("No records.\n")
		return b.String()
	}

	b.WriteString("| Document | Type | Version | Artifact | Workflow | Accessed |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, rec := range r.Records {
		doc := rec.DocumentID
		if doc == "" {
			doc = rec.ContextKey
		}
		artifact := ""
		if rec.ArtifactType != "" {
			artifact = rec.ArtifactType + ":" + rec.ArtifactID
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
			doc, rec.DocumentType, rec.DocumentVersion, artifact,
			rec.WorkflowID, rec.AccessedAt.Format("2006-01-02 15:04"))
	}
	return b.String()
}
