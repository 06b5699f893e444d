package search

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/vectral-ai/corpus-engine/internal/store"
)

// Handle-shape heuristics: a 32-hex handle is treated as a document id,
// a dot-extension handle as a source filename, anything else as a title.
var (
	hexIDPattern     = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)
	extensionPattern = regexp.MustCompile(`\.[a-zA-Z0-9]{2,4}$`)
)

const (
	fuzzyThreshold  = 0.7
	maxIDsPerHandle = 3
)

// ResolveHandles maps free-form document references (ids, filenames,
// titles) to document ids within the optional tenant scope. Each handle
// contributes at most three ids; the result is the deduplicated union
// across handles in first-seen order. Handles that match nothing are
// silently dropped.
func (s *Service) ResolveHandles(ctx context.Context, handles []string, tenantID string) ([]string, error) {
	if len(handles) == 0 {
		return nil, nil
	}

	known, err := s.store.ListHandles(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var ids []string
	seen := make(map[string]struct{})
	for _, handle := range handles {
		for _, id := range resolveHandle(handle, known) {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	s.logger.Debug().
		Strs("handles", handles).
		Strs("document_ids", ids).
		Str("tenant_id", tenantID).
		Msg("resolved document handles")
	return ids, nil
}

func resolveHandle(handle string, known []store.DocumentHandle) []string {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil
	}

	switch {
	case hexIDPattern.MatchString(handle):
		return matchDocumentID(handle, known)
	case extensionPattern.MatchString(handle):
		return matchFilename(handle, known)
	default:
		return matchTitle(handle, known)
	}
}

func matchDocumentID(handle string, known []store.DocumentHandle) []string {
	var ids []string
	for _, h := range known {
		if strings.EqualFold(h.DocumentID, handle) {
			ids = append(ids, h.DocumentID)
			if len(ids) == maxIDsPerHandle {
				break
			}
		}
	}
	return ids
}

func matchFilename(handle string, known []store.DocumentHandle) []string {
	type scored struct {
		id  string
		sim float64
	}

	var exact []string
	var fuzzy []scored
	for _, h := range known {
		if strings.EqualFold(h.SourceFilename, handle) {
			exact = append(exact, h.DocumentID)
			continue
		}
		if sim := similarity(handle, h.SourceFilename); sim >= fuzzyThreshold {
			fuzzy = append(fuzzy, scored{id: h.DocumentID, sim: sim})
		}
	}
	if len(exact) > 0 {
		return capIDs(exact)
	}

	sort.SliceStable(fuzzy, func(i, j int) bool { return fuzzy[i].sim > fuzzy[j].sim })
	ids := make([]string, 0, len(fuzzy))
	for _, f := range fuzzy {
		ids = append(ids, f.id)
	}
	return capIDs(ids)
}

// matchTitle ranks candidates by title similarity; equal title scores are
// broken by filename similarity, so "Q4 report" prefers Q4.pdf over a
// same-titled upload with an unrelated name.
func matchTitle(handle string, known []store.DocumentHandle) []string {
	type scored struct {
		id       string
		title    float64
		filename float64
	}

	var exact []string
	var fuzzy []scored
	for _, h := range known {
		if h.Title != "" && strings.EqualFold(h.Title, handle) {
			exact = append(exact, h.DocumentID)
			continue
		}
		if sim := similarity(handle, h.Title); sim >= fuzzyThreshold {
			fuzzy = append(fuzzy, scored{
				id:       h.DocumentID,
				title:    sim,
				filename: similarity(handle, h.SourceFilename),
			})
		}
	}
	if len(exact) > 0 {
		return capIDs(exact)
	}

	sort.SliceStable(fuzzy, func(i, j int) bool {
		if fuzzy[i].title != fuzzy[j].title {
			return fuzzy[i].title > fuzzy[j].title
		}
		return fuzzy[i].filename > fuzzy[j].filename
	})
	ids := make([]string, 0, len(fuzzy))
	for _, f := range fuzzy {
		ids = append(ids, f.id)
	}
	return capIDs(ids)
}

// similarity is a normalised Levenshtein ratio in [0,1] over lower-cased
// input: the share of the combined rune length not consumed by edits. The
// combined-length base keeps short handles comparable against longer
// stored titles ("q4 results" vs "q4 2024 results" scores 0.8).
func similarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	total := len([]rune(a)) + len([]rune(b))
	dist := levenshtein.ComputeDistance(a, b)
	return float64(total-dist) / float64(total)
}

func capIDs(ids []string) []string {
	if len(ids) > maxIDsPerHandle {
		return ids[:maxIDsPerHandle]
	}
	return ids
}
