// Package snapshot assembles everything recorded for a session into one
// nested, JSON-ready document that can be shared with the remote server.
//
// DOCUMENT SHAPE:
//
//	{
//	  "sessionId": 3, "machineId": "...", "key": "...",
//	  "session":  {...},
//	  "case":     {...},
//	  "analyses": [
//	    {"analysis": {...}, "catalog": {...}, "rates": [...], "rateAnalysis": [...]}
//	  ]
//	}
//
// Build either returns a complete document or an error; there is no
// partial result.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/sakif/keybridge/internal/apperror"
	"github.com/sakif/keybridge/internal/model"
	"github.com/sakif/keybridge/internal/repository"
)

// Snapshot is a built document plus a few facts about it.
type Snapshot struct {
	SessionID     int64
	Key           string
	AnalysisCount int
	Document      map[string]any
}

// Builder reads host data and produces snapshots.
type Builder struct {
	src       repository.SessionDataProvider
	machineID string
	logger    *slog.Logger
}

func NewBuilder(src repository.SessionDataProvider, machineID string, logger *slog.Logger) *Builder {
	return &Builder{src: src, machineID: machineID, logger: logger}
}

// MachineID returns the identifier attached to every snapshot.
func (b *Builder) MachineID() string {
	return b.machineID
}

// Build assembles the snapshot for sessionID, tagging it with key.
//
// Errors:
//   - session, case or a catalog missing    → apperror.ErrNotFound
//   - no analyses, rates or rate results    → apperror.ErrEmptyResult
func (b *Builder) Build(ctx context.Context, sessionID int64, key string) (*Snapshot, error) {
	sid := strconv.FormatInt(sessionID, 10)

	session, err := b.src.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("snapshot: loading session %d: %w", sessionID, err)
	}
	if session == nil {
		return nil, apperror.NotFound("session", sid)
	}

	analyses, err := b.src.ListAnalysesForSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("snapshot: loading analyses for session %d: %w", sessionID, err)
	}
	if len(analyses) == 0 {
		return nil, apperror.EmptyResult("analyses", "session", sid)
	}

	c, err := b.src.GetCase(ctx, session.CaseID)
	if err != nil {
		return nil, fmt.Errorf("snapshot: loading case %d: %w", session.CaseID, err)
	}
	if c == nil {
		return nil, apperror.NotFound("case", strconv.FormatInt(session.CaseID, 10))
	}

	entries := make([]any, 0, len(analyses))
	for _, a := range analyses {
		entry, err := b.analysisEntry(ctx, a)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	doc := map[string]any{
		"sessionId": sessionID,
		"machineId": b.machineID,
		"key":       key,
		"session":   sessionDoc(session),
		"case":      caseDoc(c),
		"analyses":  entries,
	}

	b.logger.Debug("snapshot built",
		slog.Int64("session_id", sessionID),
		slog.Int("analyses", len(entries)),
	)

	return &Snapshot{
		SessionID:     sessionID,
		Key:           key,
		AnalysisCount: len(entries),
		Document:      Canonicalize(doc).(map[string]any),
	}, nil
}

func (b *Builder) analysisEntry(ctx context.Context, a model.Analysis) (map[string]any, error) {
	catalog, err := b.src.GetCatalog(ctx, a.CatalogID)
	if err != nil {
		return nil, fmt.Errorf("snapshot: loading catalog %d: %w", a.CatalogID, err)
	}
	if catalog == nil {
		return nil, apperror.NotFound("catalog", strconv.FormatInt(a.CatalogID, 10))
	}

	rates, err := b.src.ListRatesForCatalog(ctx, catalog.ID)
	if err != nil {
		return nil, fmt.Errorf("snapshot: loading rates for catalog %d: %w", catalog.ID, err)
	}
	if len(rates) == 0 {
		return nil, apperror.EmptyResult("rates", "catalog", strconv.FormatInt(catalog.ID, 10))
	}

	results, err := b.src.ListRateAnalysisResults(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("snapshot: loading rate analysis for analysis %d: %w", a.ID, err)
	}
	if len(results) == 0 {
		return nil, apperror.EmptyResult("rate analysis results", "analysis", strconv.FormatInt(a.ID, 10))
	}

	rateDocs := make([]any, len(rates))
	for i, r := range rates {
		rateDocs[i] = map[string]any{
			"id":          r.ID,
			"signature":   r.Signature,
			"description": r.Description,
			"catalogId":   r.CatalogID,
		}
	}

	resultDocs := make([]any, len(results))
	for i, r := range results {
		resultDocs[i] = map[string]any{
			"id":             r.ID,
			"signature":      r.Signature,
			"description":    r.Description,
			"catalogId":      r.CatalogID,
			"analysisId":     r.AnalysisID,
			"energeticValue": r.EnergeticValue,
			"gv":             r.GV,
			"level":          r.Level,
			"potencyType":    r.PotencyType,
			"potency":        r.Potency,
			"note":           r.Note,
		}
	}

	return map[string]any{
		"analysis": map[string]any{
			"id":        a.ID,
			"name":      a.Name,
			"targetGv":  a.TargetGV,
			"note":      a.Note,
			"sessionId": a.SessionID,
			"catalogId": a.CatalogID,
			"created":   a.Created,
		},
		"catalog": map[string]any{
			"id":          catalog.ID,
			"name":        catalog.Name,
			"description": catalog.Description,
			"author":      catalog.Author,
			"importDate":  catalog.ImportDate,
		},
		"rates":        rateDocs,
		"rateAnalysis": resultDocs,
	}, nil
}

func sessionDoc(s *model.Session) map[string]any {
	return map[string]any{
		"id":          s.ID,
		"intention":   s.Intention,
		"description": s.Description,
		"created":     s.Created,
		"caseId":      s.CaseID,
	}
}

func caseDoc(c *model.Case) map[string]any {
	return map[string]any{
		"id":          c.ID,
		"name":        c.Name,
		"email":       c.Email,
		"color":       c.Color,
		"description": c.Description,
		"created":     c.Created,
		"lastChange":  c.LastChange,
	}
}
