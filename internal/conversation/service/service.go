// Package service ties the conversation pipeline together: thread
// discovery, intent resolution, retrieval, command execution and reply
// composition, ending in one serialized append to the project's thread.
package service

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"Minerva/internal/cerrors"
	"Minerva/internal/command"
	"Minerva/internal/composer"
	"Minerva/internal/config"
	"Minerva/internal/ingest"
	"Minerva/internal/models"
	"Minerva/internal/resolver"
	"Minerva/internal/retrieval"
	"Minerva/internal/thread"
	"Minerva/pkg/logger"
)

// Reply is what the pipeline hands back to the transport layer.
type Reply struct {
	ThreadID string             `json:"thread_id"`
	Intent   models.IntentState `json:"intent"`
	Content  string             `json:"content"`
	Sources  []string           `json:"sources,omitempty"`
}

// Threads is the slice of the thread manager the pipeline depends on.
type Threads interface {
	GetOrCreate(ctx context.Context, projectID, userID string) (*models.ProjectThread, error)
	Append(ctx context.Context, projectID, userID string, apply thread.ApplyFunc) (*models.ProjectThread, *models.Event, error)
	History(ctx context.Context, projectID string, limit int) ([]*models.Event, []*models.ChatMessage, error)
	TruncateLast(ctx context.Context, projectID string) error
}

// Retriever runs the semantic fan-out behind QUESTION messages.
type Retriever interface {
	Retrieve(ctx context.Context, query string, collections []string, topK int, floor float32) ([]retrieval.Result, error)
}

// Recognizer covers the RECOGNIZE and VALIDATE stages of a command.
type Recognizer interface {
	Recognize(message string) (command.Recognition, bool)
	Validate(tmpl models.CommandTemplate, raw map[string]string, snap models.ContextSnapshot) (map[string]string, *cerrors.ValidationError)
}

// Dispatcher covers the EXECUTE and REPORT stages of a command.
type Dispatcher interface {
	Execute(ctx context.Context, projectID, threadID string, tmpl models.CommandTemplate, params map[string]string) (*command.Report, error)
}

var (
	_ Threads    = (*thread.Manager)(nil)
	_ Retriever  = (*retrieval.Orchestrator)(nil)
	_ Recognizer = (*command.Engine)(nil)
	_ Dispatcher = (*command.Executor)(nil)
)

// Service is the conversation core's application service.
type Service struct {
	threads     Threads
	resolver    *resolver.Resolver
	retriever   Retriever
	engine      Recognizer
	executor    Dispatcher
	composer    *composer.Composer
	ingestor    *ingest.Ingestor
	collections []string
	cfg         config.ConversationConfig
	log         *logger.Logger
}

// New wires the conversation service.
func New(
	threads Threads,
	res *resolver.Resolver,
	retriever Retriever,
	engine Recognizer,
	executor Dispatcher,
	comp *composer.Composer,
	ingestor *ingest.Ingestor,
	collections []string,
	cfg config.ConversationConfig,
	log *logger.Logger,
) *Service {
	return &Service{
		threads:     threads,
		resolver:    res,
		retriever:   retriever,
		engine:      engine,
		executor:    executor,
		composer:    comp,
		ingestor:    ingestor,
		collections: collections,
		cfg:         cfg,
		log:         log,
	}
}

// ProcessMessage runs one inbound message through the full pipeline and
// appends the exchange to the project's thread. The append is the commit
// point: a reply is only returned once the relational write succeeded.
func (s *Service) ProcessMessage(ctx context.Context, projectID, userID, message string) (*Reply, error) {
	t, err := s.threads.GetOrCreate(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}

	snap := t.Snapshot()
	refs := t.RefList()
	res := s.resolver.Resolve(message, snap, refs)

	var reply *Reply
	switch res.Intent {
	case models.IntentGreeting:
		reply = &Reply{Intent: res.Intent, Content: s.composer.Greeting(snap)}
	case models.IntentClarification:
		reply = &Reply{Intent: res.Intent, Content: s.composer.Clarification(res.Unresolved)}
	case models.IntentQuestion:
		reply, err = s.answerQuestion(ctx, res)
	case models.IntentConversationMemory:
		reply, err = s.recallConversation(ctx, projectID, res)
	case models.IntentCommand:
		reply, err = s.runCommand(ctx, projectID, t.ThreadID, snap, res)
	default:
		reply = &Reply{Intent: models.IntentClarification, Content: s.composer.Clarification(nil)}
	}
	if err != nil {
		return nil, err
	}

	t, _, err = s.threads.Append(ctx, projectID, userID, func(t *models.ProjectThread) (*models.Event, []*models.ChatMessage, error) {
		event, buildErr := buildExchangeEvent(message, reply, res)
		if buildErr != nil {
			return nil, nil, buildErr
		}
		msgs := []*models.ChatMessage{
			{Role: "user", Content: message},
			{Role: "assistant", Content: reply.Content},
		}
		return event, msgs, nil
	})
	if err != nil {
		return nil, err
	}

	reply.ThreadID = t.ThreadID
	return reply, nil
}

func (s *Service) answerQuestion(ctx context.Context, res resolver.Resolution) (*Reply, error) {
	results, err := s.retriever.Retrieve(ctx, res.Query, s.collections, s.cfg.TopK, float32(s.cfg.SimilarityFloor))
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}
	answer, err := s.composer.AnswerQuestion(ctx, res.Resolved, results)
	if err != nil {
		return nil, fmt.Errorf("answer composition failed: %w", err)
	}
	sources := make([]string, 0, len(results))
	for _, result := range results {
		sources = append(sources, result.DocID)
	}
	return &Reply{Intent: models.IntentQuestion, Content: answer, Sources: sources}, nil
}

func (s *Service) recallConversation(ctx context.Context, projectID string, res resolver.Resolution) (*Reply, error) {
	_, msgs, err := s.threads.History(ctx, projectID, s.cfg.TopK*4)
	if err != nil {
		return nil, err
	}
	answer, err := s.composer.RecallConversation(ctx, res.Resolved, msgs)
	if err != nil {
		return nil, fmt.Errorf("memory composition failed: %w", err)
	}
	return &Reply{Intent: models.IntentConversationMemory, Content: answer}, nil
}

// runCommand walks RECOGNIZE, VALIDATE, EXECUTE, REPORT. Low confidence
// and missing parameters both come back as conversational replies rather
// than errors; only infrastructure failures propagate.
func (s *Service) runCommand(ctx context.Context, projectID, threadID string, snap models.ContextSnapshot, res resolver.Resolution) (*Reply, error) {
	rec, found := s.engine.Recognize(res.Resolved)
	if !found || rec.Confidence < rec.Template.ConfidenceThreshold {
		name := ""
		if found {
			name = rec.Template.Name
		}
		return &Reply{
			Intent:  models.IntentClarification,
			Content: s.composer.CommandClarification(name, rec.Confidence),
		}, nil
	}

	params, verr := s.engine.Validate(rec.Template, rec.RawParams, snap)
	if verr != nil {
		return &Reply{
			Intent:  models.IntentCommand,
			Content: s.composer.MissingParameters(verr.Command, verr.Missing),
		}, nil
	}

	report, err := s.executor.Execute(ctx, projectID, threadID, rec.Template, params)
	if err != nil {
		var violation *cerrors.SecurityViolationError
		if errors.As(err, &violation) {
			// Fail closed, and say so: a blocked capability is never
			// disguised as a generic failure.
			return &Reply{Intent: models.IntentCommand, Content: violation.Error()}, nil
		}
		return nil, err
	}
	return &Reply{
		Intent:  models.IntentCommand,
		Content: s.composer.CommandReport(report),
		Sources: nil,
	}, nil
}

// buildExchangeEvent records the exchange as one append-only event,
// carrying the entities the resolver pinned down so the thread's reference
// list stays current.
func buildExchangeEvent(message string, reply *Reply, res resolver.Resolution) (*models.Event, error) {
	var entities []models.EntityMention
	for _, ref := range res.References {
		entities = append(entities, models.EntityMention{
			EntityID:   ref.EntityID,
			EntityType: ref.EntityType,
			Label:      ref.Label,
		})
	}

	event := &models.Event{
		EventType: eventTypeFor(reply.Intent),
		Summary:   summarize(message),
	}
	kd := models.EventKeyData{
		UserMessage: message,
		Response:    reply.Content,
		Intent:      reply.Intent,
		Sources:     reply.Sources,
		Entities:    entities,
	}
	if res.Resolved != message {
		kd.ContextualReference = res.Resolved
	}
	if err := event.SetKeyData(kd); err != nil {
		return nil, err
	}
	return event, nil
}

func eventTypeFor(intent models.IntentState) models.EventType {
	switch intent {
	case models.IntentGreeting:
		return models.EventGreeting
	case models.IntentQuestion:
		return models.EventQuestion
	case models.IntentConversationMemory:
		return models.EventConversationMemory
	case models.IntentCommand:
		return models.EventCommand
	default:
		return models.EventClarification
	}
}

// summarize caps the stored summary, cutting on a rune boundary so a
// multi-byte character is never split.
func summarize(message string) string {
	const max = 200
	if len(message) <= max {
		return message
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(message[cut]) {
		cut--
	}
	return message[:cut]
}

// Thread returns the project's thread, creating it on first contact, plus
// its recent history.
func (s *Service) Thread(ctx context.Context, projectID, userID string) (*models.ProjectThread, []*models.Event, []*models.ChatMessage, error) {
	t, err := s.threads.GetOrCreate(ctx, projectID, userID)
	if err != nil {
		return nil, nil, nil, err
	}
	events, msgs, err := s.threads.History(ctx, projectID, 50)
	if err != nil {
		return nil, nil, nil, err
	}
	return t, events, msgs, nil
}

// History returns the chronological merge inputs of a thread.
func (s *Service) History(ctx context.Context, projectID string, limit int) ([]*models.Event, []*models.ChatMessage, error) {
	return s.threads.History(ctx, projectID, limit)
}

// TruncateLast removes the last user message and everything after it.
func (s *Service) TruncateLast(ctx context.Context, projectID string) error {
	return s.threads.TruncateLast(ctx, projectID)
}

// IngestDocument stores a document, mirrors its chunks, and records the
// upload as a thread event so later messages can refer back to it.
func (s *Service) IngestDocument(ctx context.Context, projectID, userID, title, source, collection, text string) (*models.Doc, int, error) {
	doc, inserted, err := s.ingestor.Ingest(ctx, projectID, title, source, collection, text)
	if err != nil {
		return nil, 0, err
	}

	_, _, err = s.threads.Append(ctx, projectID, userID, func(t *models.ProjectThread) (*models.Event, []*models.ChatMessage, error) {
		event := &models.Event{
			EventType: models.EventDocumentUploaded,
			Summary:   fmt.Sprintf("uploaded document %q (%d chunks)", title, inserted),
		}
		kd := models.EventKeyData{
			ResourceID: doc.DocID,
			Entities: []models.EntityMention{
				{EntityID: doc.DocID, EntityType: "document", Label: title},
			},
		}
		if err := event.SetKeyData(kd); err != nil {
			return nil, nil, err
		}
		return event, nil, nil
	})
	if err != nil {
		s.log.WithProject(projectID).
			Warn(fmt.Sprintf("document %s stored but upload event append failed: %v", doc.DocID, err))
	}
	return doc, inserted, nil
}
