package command

import (
	"regexp"
	"strings"

	"Minerva/internal/cerrors"
	"Minerva/internal/models"
)

// Recognition is the outcome of matching a message against the template
// set.
type Recognition struct {
	Template   models.CommandTemplate
	Confidence float64
	RawParams  map[string]string
}

// Engine runs the RECOGNIZE and VALIDATE stages. It is stateless; all
// configuration lives in the registry.
type Engine struct {
	registry *Registry
	compiled map[string][]*compiledPattern
}

type compiledPattern struct {
	re          *regexp.Regexp
	fixedTokens []string
}

var placeholderPattern = regexp.MustCompile(`\{(\w+)\}`)

// NewEngine compiles every template pattern up front. Placeholders of the
// form {name} become named capture groups.
func NewEngine(registry *Registry) *Engine {
	eng := &Engine{
		registry: registry,
		compiled: make(map[string][]*compiledPattern),
	}
	for _, tmpl := range registry.Templates() {
		for _, pattern := range tmpl.Patterns {
			eng.compiled[tmpl.Name] = append(eng.compiled[tmpl.Name], compilePattern(pattern))
		}
	}
	return eng
}

// compilePattern turns "create ontology {name}" into a case-insensitive
// regexp with a capture group per placeholder, remembering the fixed
// tokens for partial-match scoring.
func compilePattern(pattern string) *compiledPattern {
	var fixed []string
	var expr strings.Builder
	expr.WriteString(`(?i)`)

	tokens := strings.Fields(pattern)
	for i, token := range tokens {
		if i > 0 {
			expr.WriteString(`\s+`)
		}
		if m := placeholderPattern.FindStringSubmatch(token); m != nil {
			if i == len(tokens)-1 {
				expr.WriteString(`(?P<` + m[1] + `>.+)`)
			} else {
				expr.WriteString(`(?P<` + m[1] + `>.+?)`)
			}
			continue
		}
		fixed = append(fixed, strings.ToLower(token))
		expr.WriteString(regexp.QuoteMeta(token))
	}

	return &compiledPattern{
		re:          regexp.MustCompile(expr.String()),
		fixedTokens: fixed,
	}
}

// Recognize scores the message against every pattern of every template and
// returns the best recognition. A full pattern match scores 1.0 and yields
// the captured parameters; otherwise the score is the fraction of the
// pattern's fixed tokens present in the message and no parameters are
// extracted. The caller compares Confidence against the template's own
// threshold.
func (e *Engine) Recognize(message string) (Recognition, bool) {
	lower := strings.ToLower(message)
	words := make(map[string]bool)
	for _, w := range strings.Fields(lower) {
		words[strings.Trim(w, `.,!?"'`)] = true
	}

	var best Recognition
	found := false
	for _, tmpl := range e.registry.Templates() {
		for _, cp := range e.compiled[tmpl.Name] {
			conf, params := cp.score(message, words)
			better := conf > best.Confidence ||
				(conf == best.Confidence && best.RawParams == nil && params != nil)
			if !found || better {
				best = Recognition{Template: tmpl, Confidence: conf, RawParams: params}
				found = true
			}
		}
	}
	return best, found
}

func (cp *compiledPattern) score(message string, words map[string]bool) (float64, map[string]string) {
	if m := cp.re.FindStringSubmatch(message); m != nil {
		params := map[string]string{}
		for i, name := range cp.re.SubexpNames() {
			if name != "" && i < len(m) {
				params[name] = strings.TrimSpace(m[i])
			}
		}
		return 1.0, params
	}

	if len(cp.fixedTokens) == 0 {
		return 0, nil
	}
	matched := 0
	for _, token := range cp.fixedTokens {
		if words[token] {
			matched++
		}
	}
	return float64(matched) / float64(len(cp.fixedTokens)), nil
}

// Validate fills missing parameters from the thread context and reports
// exactly which required parameters are still missing afterwards. Nothing
// is ever guessed: a parameter is filled from the source its spec names or
// not at all.
func (e *Engine) Validate(tmpl models.CommandTemplate, raw map[string]string, snap models.ContextSnapshot) (map[string]string, *cerrors.ValidationError) {
	params := make(map[string]string, len(tmpl.Parameters))
	var missing []string

	for _, spec := range tmpl.Parameters {
		if v, ok := raw[spec.Name]; ok && v != "" {
			params[spec.Name] = v
			continue
		}
		if v := fillFromContext(spec.ContextSource, snap); v != "" {
			params[spec.Name] = v
			continue
		}
		if spec.Required {
			missing = append(missing, spec.Name)
		}
	}

	if len(missing) > 0 {
		return nil, &cerrors.ValidationError{Command: tmpl.Name, Missing: missing}
	}
	return params, nil
}

func fillFromContext(source string, snap models.ContextSnapshot) string {
	switch source {
	case models.ContextSourceActiveOntology:
		if len(snap.ActiveOntologies) > 0 {
			return snap.ActiveOntologies[0]
		}
	case models.ContextSourceRecentDocument:
		if len(snap.RecentDocuments) > 0 {
			return snap.RecentDocuments[0]
		}
	case models.ContextSourceCurrentWorkbench:
		if snap.CurrentWorkbench != models.WorkbenchNone {
			return string(snap.CurrentWorkbench)
		}
	}
	return ""
}
