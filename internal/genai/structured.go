package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/courseforge/courseforge-backend/internal/pkg/logger"
	"github.com/courseforge/courseforge-backend/internal/platform/openai"
)

// StructureError means the model never produced schema-valid output within
// the documented attempt budget (two remote attempts plus one local repair
// parse). It is distinct from transport/auth errors so callers can apply
// job-level retry policy separately.
type StructureError struct {
	Attempts int
	Err      error
}

func (e *StructureError) Error() string {
	return fmt.Sprintf("structured generation failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *StructureError) Unwrap() error { return e.Err }

const repairSuffix = "\n\nIMPORTANT: your previous answer was not valid. Respond with ONLY a valid JSON object that conforms exactly to the provided schema. No prose, no code fences."

// Generator obtains schema-valid structured values from an inherently
// unreliable text-generation call.
type Generator interface {
	GenerateStructured(ctx context.Context, system string, user string, schemaName string, schema map[string]any) (map[string]any, error)
}

type generator struct {
	ai  openai.Client
	log *logger.Logger
}

func NewGenerator(ai openai.Client, baseLog *logger.Logger) Generator {
	return &generator{
		ai:  ai,
		log: baseLog.With("component", "StructuredGenerator"),
	}
}

// GenerateStructured runs up to two remote attempts (the second with a
// corrective suffix) and one local repair parse of the raw emitted text.
// Transport and auth errors propagate immediately; retry policy for those
// belongs to the caller.
func (g *generator) GenerateStructured(ctx context.Context, system string, user string, schemaName string, schema map[string]any) (map[string]any, error) {
	var lastErr error
	var lastRaw string

	prompts := []string{user, user + repairSuffix}
	for attempt, prompt := range prompts {
		out, err := g.ai.GenerateJSON(ctx, system, prompt, schemaName, schema)
		if err != nil {
			if !openai.IsKind(err, openai.KindStructure) {
				return nil, err
			}
			lastErr = err
			if raw := openai.StructureRawText(err); raw != "" {
				lastRaw = raw
			}
			g.log.Warn("Structured generation attempt produced malformed output",
				"schema", schemaName, "attempt", attempt+1, "error", err.Error())
			continue
		}
		if vErr := ValidateSchema(schema, out); vErr != nil {
			lastErr = vErr
			if b, mErr := json.Marshal(out); mErr == nil {
				lastRaw = string(b)
			}
			g.log.Warn("Structured generation attempt failed schema validation",
				"schema", schemaName, "attempt", attempt+1, "error", vErr.Error())
			continue
		}
		return out, nil
	}

	// Local fallback: the error may carry the raw emitted text wrapped in
	// code fences or with trailing prose.
	if lastRaw != "" {
		if out, ok := g.repairParse(lastRaw, schema); ok {
			g.log.Info("Recovered structured output via local repair parse", "schema", schemaName)
			return out, nil
		}
	}

	return nil, &StructureError{Attempts: 3, Err: lastErr}
}

func (g *generator) repairParse(raw string, schema map[string]any) (map[string]any, bool) {
	s := stripCodeFences(raw)
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, false
	}
	if err := ValidateSchema(schema, out); err != nil {
		return nil, false
	}
	return out, true
}

// ValidateSchema checks a decoded value against a JSON-schema map.
func ValidateSchema(schema map[string]any, value map[string]any) error {
	res, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(value))
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("schema validation: %s", strings.Join(msgs, "; "))
	}
	return nil
}

func stripCodeFences(src string) string {
	s := strings.TrimSpace(src)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 2 {
		return s
	}
	body := lines[1:]
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		body = lines[1 : len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(body, "\n"))
}
