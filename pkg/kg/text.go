package kg

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	jsonrepair "github.com/kaptinlin/jsonrepair"

	"github.com/docfuse/docfuse/pkg/nlp"
	"github.com/docfuse/docfuse/pkg/types"
)

const extractionPrompt = `Extract entities and relations from the text below.

Respond with only a JSON object of this shape:
{
  "entities": [{"name": "...", "type": "PERSON|ORG|LOCATION|CONCEPT|PRODUCT|EVENT", "confidence": 0.0}],
  "relations": [{"subject": "...", "predicate": "...", "object": "...", "confidence": 0.0}]
}

Rules:
- Use the surface form of each entity as its name.
- Every relation subject and object must appear in the entities list.
- Confidence is your certainty in [0,1].

Text:
%s`

type extractionPayload struct {
	Entities []struct {
		Name       string  `json:"name"`
		Type       string  `json:"type"`
		Confidence float64 `json:"confidence"`
	} `json:"entities"`
	Relations []struct {
		Subject    string  `json:"subject"`
		Predicate  string  `json:"predicate"`
		Object     string  `json:"object"`
		Confidence float64 `json:"confidence"`
	} `json:"relations"`
}

// TextStrategy extracts entities and relations from prose with a language
// model prompt. Output that cannot be parsed as JSON, even after repair,
// falls back to a permissive line-pattern parser rather than failing the
// unit.
type TextStrategy struct {
	llm    nlp.Client
	logger *slog.Logger
}

// NewTextStrategy creates the text extraction strategy.
func NewTextStrategy(llm nlp.Client, logger *slog.Logger) *TextStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &TextStrategy{llm: llm, logger: logger}
}

// Extract implements Strategy.
func (s *TextStrategy) Extract(ctx context.Context, unit *types.ContentUnit) ([]*types.Entity, []*types.Relation, error) {
	text := unit.SearchText()
	if strings.TrimSpace(text) == "" {
		return nil, nil, nil
	}
	if s.llm == nil {
		return nil, nil, fmt.Errorf("text strategy requires a language model client")
	}

	raw, err := s.llm.Complete(ctx, fmt.Sprintf(extractionPrompt, text))
	if err != nil {
		return nil, nil, fmt.Errorf("extraction prompt: %w", err)
	}

	payload, err := parseExtraction(raw)
	if err != nil {
		s.logger.Debug("extraction output unparseable, using fallback parser",
			"unit_id", unit.ID, "error", err)
		payload = fallbackParse(raw)
	}

	return payloadToGraph(payload, unit)
}

// parseExtraction decodes the model output as JSON, repairing common damage
// (trailing commas, unquoted keys, truncation) before giving up.
func parseExtraction(raw string) (*extractionPayload, error) {
	candidate := extractJSONObject(stripThinkTags(raw))
	if candidate == "" {
		return nil, fmt.Errorf("no JSON object in output")
	}

	var payload extractionPayload
	if err := json.Unmarshal([]byte(candidate), &payload); err == nil {
		return &payload, nil
	}

	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return nil, fmt.Errorf("repair: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &payload); err != nil {
		return nil, fmt.Errorf("unmarshal repaired: %w", err)
	}
	return &payload, nil
}

var (
	thinkTagRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

	// "Name | TYPE | 0.8" or "- Name | TYPE | 0.8"
	entityLineRe = regexp.MustCompile(`^[-*\s]*(.+?)\s*\|\s*([A-Za-z_]+)\s*\|\s*([0-9.]+)\s*$`)
	// "(subject, PREDICATE, object)"
	tripleLineRe = regexp.MustCompile(`\(\s*([^,()]+?)\s*,\s*([^,()]+?)\s*,\s*([^,()]+?)\s*\)`)
)

func stripThinkTags(s string) string {
	return thinkTagRe.ReplaceAllString(s, "")
}

// extractJSONObject returns the outermost {...} span in s, or "".
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 {
		return ""
	}
	if end <= start {
		// Truncated output; let the repairer close it.
		return s[start:]
	}
	return s[start : end+1]
}

// fallbackParse recovers what it can from non-JSON output, one line at a
// time. It never fails; unrecognized lines are skipped.
func fallbackParse(raw string) *extractionPayload {
	payload := &extractionPayload{}
	for _, line := range strings.Split(stripThinkTags(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if m := entityLineRe.FindStringSubmatch(line); m != nil {
			conf, err := strconv.ParseFloat(m[3], 64)
			if err != nil || conf < 0 || conf > 1 {
				conf = 0.5
			}
			payload.Entities = append(payload.Entities, struct {
				Name       string  `json:"name"`
				Type       string  `json:"type"`
				Confidence float64 `json:"confidence"`
			}{Name: m[1], Type: strings.ToUpper(m[2]), Confidence: conf})
			continue
		}

		if m := tripleLineRe.FindStringSubmatch(line); m != nil {
			payload.Relations = append(payload.Relations, struct {
				Subject    string  `json:"subject"`
				Predicate  string  `json:"predicate"`
				Object     string  `json:"object"`
				Confidence float64 `json:"confidence"`
			}{Subject: m[1], Predicate: strings.ToUpper(strings.ReplaceAll(m[2], " ", "_")), Object: m[3], Confidence: 0.5})
		}
	}
	return payload
}

func payloadToGraph(payload *extractionPayload, unit *types.ContentUnit) ([]*types.Entity, []*types.Relation, error) {
	var entities []*types.Entity
	for _, e := range payload.Entities {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			continue
		}
		conf := e.Confidence
		if conf <= 0 || conf > 1 {
			conf = 0.5
		}
		entities = append(entities, &types.Entity{
			ID:            uuid.NewString(),
			Name:          name,
			Type:          strings.ToUpper(strings.TrimSpace(e.Type)),
			Confidence:    conf,
			SourceUnitIDs: []string{unit.ID},
			MergeCount:    1,
		})
	}

	var relations []*types.Relation
	for _, r := range payload.Relations {
		subject := strings.TrimSpace(r.Subject)
		object := strings.TrimSpace(r.Object)
		predicate := strings.TrimSpace(r.Predicate)
		if subject == "" || object == "" || predicate == "" {
			continue
		}
		conf := r.Confidence
		if conf <= 0 || conf > 1 {
			conf = 0.5
		}
		relations = append(relations, &types.Relation{
			ID:            uuid.NewString(),
			SubjectName:   subject,
			Predicate:     predicate,
			ObjectName:    object,
			Confidence:    conf,
			SourceUnitIDs: []string{unit.ID},
			DocumentID:    unit.DocumentID,
		})
	}

	return entities, relations, nil
}
