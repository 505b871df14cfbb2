package evaluation

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/hupe1980/draftmesh/core"
)

var (
	fencedJSON    = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(\\{.*?\\})\\s*```")
	flatObject    = regexp.MustCompile(`\{[^{}]*\}`)
	fieldPatterns = map[string]*regexp.Regexp{}
	unescaper     = strings.NewReplacer(`\\`, `\`, `\n`, "\n", `\t`, "\t", `\"`, `"`, `\r`, "\r")
)

func init() {
	for _, key := range append([]string{"output", "summary"}, AuxiliaryFields...) {
		fieldPatterns[key] = regexp.MustCompile(`(?s)"` + regexp.QuoteMeta(key) + `"\s*:\s*"((?:[^"\\]|\\.)*)(")?`)
	}
}

// locateObject finds the JSON candidate in raw. Balanced objects that are not
// valid JSON, such as a {placeholder} in prose, are skipped in favour of a
// later valid one; the first of them is returned when none is valid. found is
// false when raw holds no object at all (reason empty) or the object never
// closes.
func locateObject(raw string) (candidate, rest string, found bool, reason string) {
	if m := fencedJSON.FindStringSubmatchIndex(raw); m != nil {
		return raw[m[2]:m[3]], raw[:m[0]] + raw[m[1]:], true, ""
	}

	first, firstEnd := -1, -1

	for from := 0; from < len(raw); {
		i := strings.IndexByte(raw[from:], '{')
		if i < 0 {
			break
		}

		start := from + i

		end, closed := scanObject(raw, start)
		if !closed {
			break
		}

		if gjson.Valid(raw[start:end]) {
			return raw[start:end], raw[:start] + raw[end:], true, ""
		}

		if first < 0 {
			first, firstEnd = start, end
		}

		from = end
	}

	switch {
	case first >= 0:
		return raw[first:firstEnd], raw[:first] + raw[firstEnd:], true, ""
	case strings.IndexByte(raw, '{') >= 0:
		return "", "", false, "unterminated JSON object"
	default:
		return "", "", false, ""
	}
}

// scanObject returns the end offset of the object opening at raw[start]. It
// tracks string literals so braces inside them do not count.
func scanObject(raw string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(raw); i++ {
		c := raw[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}

			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}

	return 0, false
}

func stringValue(r gjson.Result) string {
	if r.Type == gjson.String {
		return r.String()
	}

	return r.Raw
}

func parseScores(arr gjson.Result) []core.CriterionScore {
	var scores []core.CriterionScore

	arr.ForEach(func(_, item gjson.Result) bool {
		if s, ok := parseScore(item); ok {
			scores = append(scores, s)
		}

		return true
	})

	return scores
}

func parseScore(item gjson.Result) (core.CriterionScore, bool) {
	name := item.Get("criterion")
	if !name.Exists() {
		name = item.Get("name")
	}

	score := item.Get("score")
	if !name.Exists() || !score.Exists() || name.String() == "" {
		return core.CriterionScore{}, false
	}

	return core.CriterionScore{
		Criterion:     name.String(),
		Score:         clampScore(score.Float()),
		Justification: item.Get("justification").String(),
	}, true
}

type strictStrategy struct{}

func (strictStrategy) name() Strategy { return StrategyStrict }

func (strictStrategy) parse(raw string, criteria []core.EvaluationCriterion) (Result, string, bool) {
	candidate, rest, found, reason := locateObject(raw)
	if !found {
		return Result{}, reason, false
	}

	if !gjson.Valid(candidate) {
		return Result{}, "invalid JSON object", false
	}

	root := gjson.Parse(candidate)

	evNode := root.Get("evaluation")
	if !evNode.IsObject() {
		evNode = root
	}

	output := root.Get("output")
	scoresNode := evNode.Get("criteria_scores")

	fields := map[string]string{}

	for _, key := range AuxiliaryFields {
		if v := root.Get(key); v.Exists() {
			fields[key] = stringValue(v)
		}
	}

	if !output.Exists() && !scoresNode.Exists() && !root.Get("evaluation").Exists() && len(fields) == 0 {
		return Result{}, "JSON object has no recognized fields", false
	}

	res := Result{Fields: fields}

	switch {
	case output.Exists():
		res.Output = stringValue(output)
	case strings.TrimSpace(rest) != "":
		res.Output = strings.TrimSpace(rest)
	default:
		res.Output = strings.TrimSpace(raw)
	}

	var reported *float64

	if r := evNode.Get("overall_score"); r.Exists() && (r.Type == gjson.Number || r.Type == gjson.String) {
		v := r.Float()
		reported = &v
	}

	res.Evaluation = buildEvaluation(parseScores(scoresNode), reported, evNode.Get("summary").String(), criteria)

	return res, "", true
}

type fieldStrategy struct{}

func (fieldStrategy) name() Strategy { return StrategyFields }

func extractField(raw, key string) (value string, closed, ok bool) {
	m := fieldPatterns[key].FindStringSubmatch(raw)
	if m == nil {
		return "", false, false
	}

	return unescaper.Replace(m[1]), m[2] != "", true
}

func (fieldStrategy) parse(raw string, criteria []core.EvaluationCriterion) (Result, string, bool) {
	if !strings.Contains(raw, "{") {
		return Result{}, "", false
	}

	res := Result{Fields: map[string]string{}}

	output, closed, hasOutput := extractField(raw, "output")

	for _, key := range AuxiliaryFields {
		if v, _, ok := extractField(raw, key); ok {
			res.Fields[key] = v
		}
	}

	if !hasOutput && len(res.Fields) == 0 {
		return Result{}, "no recoverable fields", false
	}

	if hasOutput {
		res.Output = output
	} else {
		res.Output = strings.TrimSpace(raw)
	}

	var scores []core.CriterionScore

	if idx := strings.Index(raw, `"criteria_scores"`); idx >= 0 {
		for _, obj := range flatObject.FindAllString(raw[idx:], -1) {
			if !gjson.Valid(obj) {
				continue
			}

			if s, ok := parseScore(gjson.Parse(obj)); ok {
				scores = append(scores, s)
			}
		}
	}

	summary, _, _ := extractField(raw, "summary")
	res.Evaluation = buildEvaluation(scores, nil, summary, criteria)

	if hasOutput && !closed {
		res.ParseError = "output truncated"
	}

	return res, "", true
}

type rawStrategy struct{}

func (rawStrategy) name() Strategy { return StrategyRaw }

func (rawStrategy) parse(raw string, _ []core.EvaluationCriterion) (Result, string, bool) {
	return Result{Output: strings.TrimSpace(raw)}, "", true
}
