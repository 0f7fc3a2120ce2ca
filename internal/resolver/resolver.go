// Package resolver performs the single-pass intent classification and
// contextual reference resolution of inbound messages. Everything here is
// deterministic string work: the same message against the same snapshot
// always resolves the same way, which is what makes the pipeline testable.
package resolver

import (
	"regexp"
	"strings"

	"Minerva/internal/models"
	"Minerva/pkg/logger"
)

// Resolution is the outcome of resolving one inbound message.
type Resolution struct {
	Intent models.IntentState

	// Resolved is the message with anaphoric references substituted by
	// the labels they resolved to. Equal to the original message when
	// nothing resolved.
	Resolved string

	// Query is the retrieval query after the enhancement policy ran.
	Query string

	// References lists the entities that anaphora resolved to.
	References []models.ContextualReference

	// Unresolved lists referential cues that matched no recent entity.
	// Their presence marks the resolution low-confidence.
	Unresolved []string

	LowConfidence bool
}

var (
	greetingPattern = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|yo|good (morning|afternoon|evening)|greetings)[\s!,.]*$`)

	commandVerbPattern = regexp.MustCompile(`(?i)^\s*(create|delete|remove|add|update|rename|generate|run|execute|start|stop|open|switch|upload|export|import|validate)\b`)

	questionPattern = regexp.MustCompile(`(?i)^\s*(what|which|who|where|when|why|how|can|could|does|do|is|are|should|would|tell me|explain|describe|show)\b`)

	memoryCuePattern = regexp.MustCompile(`(?i)\b(what did (we|i|you)|last time|earlier|previously|before|remind me|we (discussed|talked|decided|agreed)|did (we|i) (say|decide|discuss))\b`)

	// Demonstrative pronoun + type noun, the closed cue set of anaphora.
	anaphoraPattern = regexp.MustCompile(`(?i)\b(this|that|these|those)\s+(ontology|ontologies|class|classes|document|documents|doc|docs|file|files|workflow|workflows|simulation|simulations|requirement|requirements|entity|entities|model|models)\b`)

	// A proper-noun-like span: two or more adjacent capitalized tokens.
	properSpanPattern = regexp.MustCompile(`\b[A-Z][A-Za-z0-9]*(?:\s+[A-Z][A-Za-z0-9]*)+\b`)

	// An alphanumeric model identifier such as "T4" or "GPT-4".
	modelIDPattern = regexp.MustCompile(`\b[A-Za-z]+-?\d[\w-]*\b`)
)

// typeNouns maps the cue's type noun to the entity_type recorded in the
// contextual reference list.
var typeNouns = map[string]string{
	"ontology": "ontology", "ontologies": "ontology",
	"class": "class", "classes": "class",
	"document": "document", "documents": "document",
	"doc": "document", "docs": "document",
	"file": "document", "files": "document",
	"workflow": "workflow", "workflows": "workflow",
	"simulation": "simulation", "simulations": "simulation",
	"requirement": "requirement", "requirements": "requirement",
	"entity": "entity", "entities": "entity",
	"model": "model", "models": "model",
}

// Resolver classifies messages and resolves their references against the
// thread's context.
type Resolver struct {
	log *logger.Logger
}

// New creates a Resolver.
func New(log *logger.Logger) *Resolver {
	return &Resolver{log: log}
}

// Resolve runs classification, anaphora resolution and query enhancement
// for one message.
func (r *Resolver) Resolve(message string, snap models.ContextSnapshot, refs models.ReferenceList) Resolution {
	res := Resolution{Resolved: message}

	res.Resolved, res.References, res.Unresolved = substituteReferences(message, refs)
	res.LowConfidence = len(res.Unresolved) > 0

	res.Intent = classify(message, len(res.References) > 0)
	res.Query = enhanceQuery(res.Resolved, snap, refs)
	return res
}

// classify maps a message to one of the five flat intent states. The
// tie-break is fixed: a question-shaped message whose anaphora resolved is
// a QUESTION about that entity, never a memory lookup.
func classify(message string, hasResolvedReference bool) models.IntentState {
	if greetingPattern.MatchString(message) {
		return models.IntentGreeting
	}
	if commandVerbPattern.MatchString(message) {
		return models.IntentCommand
	}

	isQuestion := questionPattern.MatchString(message) || strings.Contains(message, "?")
	hasMemoryCue := memoryCuePattern.MatchString(message)

	switch {
	case isQuestion && hasResolvedReference:
		return models.IntentQuestion
	case hasMemoryCue:
		return models.IntentConversationMemory
	case isQuestion:
		return models.IntentQuestion
	default:
		return models.IntentClarification
	}
}

// substituteReferences replaces each demonstrative cue with the label of
// the most recent matching entity. Cues without a match are kept verbatim
// and reported back so the caller can lower its confidence.
func substituteReferences(message string, refs models.ReferenceList) (string, []models.ContextualReference, []string) {
	var resolved []models.ContextualReference
	var unresolved []string

	out := anaphoraPattern.ReplaceAllStringFunc(message, func(cue string) string {
		parts := strings.Fields(strings.ToLower(cue))
		entityType, ok := typeNouns[parts[len(parts)-1]]
		if !ok {
			unresolved = append(unresolved, cue)
			return cue
		}
		ref, ok := refs.Resolve(entityType)
		if !ok {
			unresolved = append(unresolved, cue)
			return cue
		}
		resolved = append(resolved, ref)
		return ref.Label
	})

	return out, resolved, unresolved
}

// enhanceQuery applies the enhancement policy: a query that already names
// a specific entity is precise and stays untouched; a vague query gets a
// bounded context clause so retrieval has something to bite on.
func enhanceQuery(query string, snap models.ContextSnapshot, refs models.ReferenceList) string {
	if hasSpecificEntity(query) {
		return query
	}

	var clause []string
	if snap.CurrentWorkbench != models.WorkbenchNone {
		clause = append(clause, string(snap.CurrentWorkbench)+" workbench")
	}
	if snap.ProjectGoals != "" {
		clause = append(clause, snap.ProjectGoals)
	}
	for i, ref := range refs {
		if i >= 2 || len(clause) >= 3 {
			break
		}
		clause = append(clause, ref.Label)
	}
	if len(clause) == 0 {
		return query
	}
	return query + " (context: " + strings.Join(clause, "; ") + ")"
}

// hasSpecificEntity reports whether the query names something precise: a
// capitalized multi-token span past the sentence start, or an alphanumeric
// model identifier.
func hasSpecificEntity(query string) bool {
	for _, loc := range properSpanPattern.FindAllStringIndex(query, -1) {
		if loc[0] > 0 {
			return true
		}
	}
	return modelIDPattern.MatchString(query)
}
