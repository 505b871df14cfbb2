// Package evaluation extracts the structured self-evaluation agents append to
// their output. Parsing is an ordered chain of strategies, each one more
// tolerant than the previous:
//
//  1. strict: a fenced ```json block or the first brace-balanced object,
//     decoded as a whole.
//  2. fields: per-key extraction that survives truncated or malformed JSON,
//     as produced by a stream cut mid-token.
//  3. raw: the whole text is the output and no evaluation is attached.
//
// Parse never panics. Failures are reported as a descriptive string on the
// Result and the caller keeps the raw text regardless of the outcome.
package evaluation

import (
	"fmt"
	"strings"

	"github.com/hupe1980/draftmesh/core"
)

// Strategy names the parsing strategy that produced a Result.
type Strategy string

const (
	StrategyStrict Strategy = "strict"
	StrategyFields Strategy = "fields"
	StrategyRaw    Strategy = "raw"
)

// AuxiliaryFields are the optional keys agents may emit next to "output".
var AuxiliaryFields = []string{
	"thinking",
	"reasoning",
	"analysis",
	"comments",
	"feedback",
	"suggestions",
	"changes",
}

// Result is the tagged outcome of parsing one agent response.
type Result struct {
	Strategy   Strategy
	Output     string
	Fields     map[string]string
	Evaluation *core.Evaluation
	ParseError string
}

// HasEvaluation reports whether an evaluation was recovered.
func (r Result) HasEvaluation() bool { return r.Evaluation != nil }

// strategy is one link of the chain. ok=false hands over to the next link;
// reason explains why, and is surfaced when a later link succeeds.
type strategy interface {
	name() Strategy
	parse(raw string, criteria []core.EvaluationCriterion) (res Result, reason string, ok bool)
}

// Parser runs the strategy chain.
type Parser struct {
	chain []strategy
}

// NewParser returns a parser with the default strict → fields → raw chain.
func NewParser() *Parser {
	return &Parser{chain: []strategy{strictStrategy{}, fieldStrategy{}, rawStrategy{}}}
}

var defaultParser = NewParser()

// Parse parses raw with the default parser.
func Parse(raw string, criteria []core.EvaluationCriterion) Result {
	return defaultParser.Parse(raw, criteria)
}

// Parse returns the first successful strategy's result. Reasons reported by
// the strategies that gave up become the parse error of a degraded result.
func (p *Parser) Parse(raw string, criteria []core.EvaluationCriterion) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Strategy: StrategyRaw, Output: raw, ParseError: fmt.Sprintf("parser panic: %v", r)}
		}
	}()

	var reasons []string

	for _, s := range p.chain {
		r, reason, ok := s.parse(raw, criteria)
		if !ok {
			if reason != "" {
				reasons = append(reasons, fmt.Sprintf("%s: %s", s.name(), reason))
			}

			continue
		}

		r.Strategy = s.name()

		if len(reasons) > 0 {
			if r.ParseError != "" {
				reasons = append(reasons, r.ParseError)
			}

			r.ParseError = strings.Join(reasons, "; ")
		}

		return r
	}

	// The raw strategy always succeeds; reaching this point means an empty chain.
	return Result{Strategy: StrategyRaw, Output: raw, ParseError: strings.Join(reasons, "; ")}
}
