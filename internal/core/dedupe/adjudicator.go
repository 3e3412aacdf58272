package dedupe

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/agenthands/catalog-dedup/internal/core/common"
	"github.com/agenthands/catalog-dedup/internal/core/model"
	"github.com/agenthands/catalog-dedup/internal/llm"
)

// Verdict is the answer of a binary adjudication.
type Verdict int

const (
	VerdictNo Verdict = iota
	VerdictYes
)

func (v Verdict) String() string {
	if v == VerdictYes {
		return "yes"
	}
	return "no"
}

// Adjudicator judges whether a set of candidate duplicates is really one product.
// Score asks for a confidence in [0,1]; Decide asks for yes or no.
type Adjudicator interface {
	Score(ctx context.Context, prompt string) (float64, error)
	Decide(ctx context.Context, prompt string) (Verdict, error)
}

const DefaultRerankPrompt = `Evaluate if these items are EXACTLY the same product.
Pay close attention to differences in:
- Flavor or Scent (e.g., Lavender vs Cherry)
- Size or Volume (e.g., 700ML vs 1L)
- Material or Color
- Pack Size (e.g., Pack 1 vs Pack 12)

If any of these attributes differ, they are DIFFERENT products.
Respond with a single number from 0 to 1 representing your confidence that they are the same.

Items:
%s
Confidence score:`

const DefaultAmbiguityPrompt = `Are these items the same product?
Check for differences in flavor, scent, size, or pack quantity.
For example, 'MONIN LAVENDER' and 'MONIN CHERRY' are DIFFERENT.
Answer 'yes' or 'no' only.

Items:
%s`

// maxFieldLen caps each description value quoted in a prompt.
const maxFieldLen = 200

// LLMAdjudicator asks a generative model and parses its free-text answer.
type LLMAdjudicator struct {
	LLM llm.LLMClient
}

func NewLLMAdjudicator(client llm.LLMClient) *LLMAdjudicator {
	return &LLMAdjudicator{LLM: client}
}

func (a *LLMAdjudicator) Score(ctx context.Context, prompt string) (float64, error) {
	resp, err := a.LLM.Generate(ctx, prompt)
	if err != nil {
		return 0, &CollaboratorError{Op: "score", Err: err}
	}
	return ParseScore(resp)
}

func (a *LLMAdjudicator) Decide(ctx context.Context, prompt string) (Verdict, error) {
	resp, err := a.LLM.Generate(ctx, prompt)
	if err != nil {
		return VerdictNo, &CollaboratorError{Op: "decide", Err: err}
	}
	return ParseVerdict(resp)
}

// ParseScore accepts a bare number in [0,1], surrounding whitespace allowed.
func ParseScore(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || v < 0 || v > 1 {
		return 0, &ParseError{Input: s, Expected: "a confidence between 0 and 1"}
	}
	return v, nil
}

// ParseVerdict looks for "yes" first, then "no", ignoring case.
func ParseVerdict(s string) (Verdict, error) {
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "yes"):
		return VerdictYes, nil
	case strings.Contains(lower, "no"):
		return VerdictNo, nil
	}
	return VerdictNo, &ParseError{Input: s, Expected: "yes or no"}
}

// describeItems renders one line per record from its description fields.
func describeItems(recs []*model.Record, fields []string) string {
	var sb strings.Builder
	for i, r := range recs {
		var parts []string
		for _, f := range fields {
			if v, ok := r.Value(f); ok {
				parts = append(parts, fmt.Sprintf("%s: %s", f, common.Truncate(v, maxFieldLen)))
			}
		}
		if len(parts) == 0 {
			parts = append(parts, "N/A")
		}
		fmt.Fprintf(&sb, "%d. %s\n", i+1, strings.Join(parts, " | "))
	}
	return sb.String()
}

func buildPrompt(template, fallback string, recs []*model.Record, fields []string) string {
	if template == "" {
		template = fallback
	}
	return fmt.Sprintf(template, describeItems(recs, fields))
}
