// Package composer turns pipeline outcomes into user-facing replies. The
// question and memory paths go through the language model with grounded
// prompts; greetings, clarifications and command reports are template
// work, no model call needed.
package composer

import (
	"context"
	"fmt"
	"strings"

	"Minerva/internal/command"
	"Minerva/internal/llm"
	"Minerva/internal/models"
	"Minerva/internal/retrieval"
)

// Composer builds replies for every intent path.
type Composer struct {
	model llm.LLM
}

// New creates a Composer.
func New(model llm.LLM) *Composer {
	return &Composer{model: model}
}

// AnswerQuestion answers a question from retrieved context. Sources are
// cited by document title so the user can tell grounded statements from
// model interpolation.
func (c *Composer) AnswerQuestion(ctx context.Context, question string, results []retrieval.Result) (string, error) {
	if len(results) == 0 {
		prompt := fmt.Sprintf(
			"You are a project assistant. No project material matched the question below; say so briefly and answer from general knowledge only if you can do it safely.\n\nQuestion: %s",
			question)
		return c.model.Generate(ctx, prompt)
	}

	var b strings.Builder
	b.WriteString("You are a project assistant. Answer the question using only the numbered context passages. Cite passages as [n]. If the context does not contain the answer, say so.\n\n")
	for i, result := range results {
		fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, result.DocTitle, result.Content)
	}
	fmt.Fprintf(&b, "\nQuestion: %s", question)
	return c.model.Generate(ctx, b.String())
}

// RecallConversation answers a memory question from the thread's own
// dialogue history rather than project documents.
func (c *Composer) RecallConversation(ctx context.Context, question string, history []*models.ChatMessage) (string, error) {
	var b strings.Builder
	b.WriteString("You are a project assistant. Answer the question using only the conversation transcript below. If the transcript does not contain the answer, say you have no record of it.\n\nTranscript:\n")
	for _, msg := range history {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}
	fmt.Fprintf(&b, "\nQuestion: %s", question)
	return c.model.Generate(ctx, b.String())
}

// Greeting returns the fixed greeting reply. The current workbench is
// mentioned when known so the user can confirm where they are.
func (c *Composer) Greeting(snap models.ContextSnapshot) string {
	if snap.CurrentWorkbench != models.WorkbenchNone {
		return fmt.Sprintf("Hello! You are in the %s workbench. How can I help?", snap.CurrentWorkbench)
	}
	return "Hello! How can I help with your project?"
}

// Clarification asks the user to restate, naming whatever the resolver
// could not pin down.
func (c *Composer) Clarification(unresolved []string) string {
	if len(unresolved) == 0 {
		return "I am not sure what you are asking for. Could you rephrase that?"
	}
	return fmt.Sprintf("I could not work out what %s refers to. Could you name it explicitly?",
		strings.Join(unresolved, ", "))
}

// CommandClarification reports a low-confidence recognition without
// executing anything.
func (c *Composer) CommandClarification(commandName string, confidence float64) string {
	return fmt.Sprintf("That looks like it might be the %q command, but I am not confident enough (%.2f) to run it. Could you state the command more explicitly?",
		commandName, confidence)
}

// MissingParameters reports a validation failure, naming every missing
// parameter verbatim.
func (c *Composer) MissingParameters(commandName string, missing []string) string {
	return fmt.Sprintf("The %q command is missing required parameters: %s. Please provide them.",
		commandName, strings.Join(missing, ", "))
}

// CommandReport renders an execution report. Failures are surfaced
// verbatim, annotated with the endpoint that failed.
func (c *Composer) CommandReport(report *command.Report) string {
	if report.Success {
		if report.ResourceID != "" {
			return fmt.Sprintf("Done: %s succeeded (resource %s).", report.Command, report.ResourceID)
		}
		return fmt.Sprintf("Done: %s succeeded.", report.Command)
	}
	return fmt.Sprintf("The %s command failed at %s: %s", report.Command, report.Endpoint, report.Error)
}
