package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// WorkbenchType identifies which workbench of the project the user is
// currently working in. It is part of the thread's context snapshot.
type WorkbenchType string

const (
	WorkbenchNone         WorkbenchType = ""
	WorkbenchRequirements WorkbenchType = "requirements"
	WorkbenchOntology     WorkbenchType = "ontology"
	WorkbenchSimulation   WorkbenchType = "simulation"
	WorkbenchWorkflow     WorkbenchType = "workflow"
)

// IntentState is the flat classification assigned to each inbound message.
type IntentState string

const (
	IntentGreeting           IntentState = "GREETING"
	IntentClarification      IntentState = "CLARIFICATION"
	IntentQuestion           IntentState = "QUESTION"
	IntentConversationMemory IntentState = "CONVERSATION_MEMORY"
	IntentCommand            IntentState = "COMMAND"
)

// ContextualReference records one recently mentioned named entity so that
// later anaphora ("that class") can be resolved against it.
type ContextualReference struct {
	Label           string    `json:"label"`
	EntityID        string    `json:"entity_id"`
	EntityType      string    `json:"entity_type"`
	LastMentionedAt time.Time `json:"last_mentioned_at"`
}

// ReferenceList is the bounded, most-recent-first list backing the thread's
// contextual_reference map. The slice order is the LRU order: index 0 is the
// most recently mentioned entity.
type ReferenceList []ContextualReference

// Touch records a mention of an entity, moving it to the front of the list.
// The list is capped to limit entries; the least recently mentioned entry is
// evicted when the cap is exceeded.
func (r ReferenceList) Touch(ref ContextualReference, limit int) ReferenceList {
	out := make(ReferenceList, 0, len(r)+1)
	out = append(out, ref)
	for _, existing := range r {
		if existing.Label == ref.Label && existing.EntityType == ref.EntityType {
			continue
		}
		out = append(out, existing)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Resolve returns the most recently mentioned entity of the given type.
func (r ReferenceList) Resolve(entityType string) (ContextualReference, bool) {
	for _, ref := range r {
		if ref.EntityType == entityType {
			return ref, true
		}
	}
	return ContextualReference{}, false
}

// ContextSnapshot is the bounded per-thread context used for intent
// classification, query enhancement and command parameter filling.
type ContextSnapshot struct {
	ActiveOntologies []string      `json:"active_ontologies,omitempty"`
	RecentDocuments  []string      `json:"recent_documents,omitempty"`
	CurrentWorkbench WorkbenchType `json:"current_workbench,omitempty"`
	ProjectGoals     string        `json:"project_goals,omitempty"`
}

// ProjectThread is the single persistent conversation/event log scoped to
// one project. Uniqueness on ProjectID enforces the one-thread-per-project
// invariant at the database level; Version carries the optimistic lock.
type ProjectThread struct {
	ThreadID     string `gorm:"primaryKey;size:36"`
	ProjectID    string `gorm:"uniqueIndex;not null;size:64"`
	CreatedBy    string `gorm:"size:64"`
	CreatedAt    time.Time
	LastActivity time.Time
	Version      int64          `gorm:"not null;default:0"`
	Context      datatypes.JSON `gorm:"column:context_snapshot"`
	References   datatypes.JSON `gorm:"column:contextual_references"`
	Mirrored     bool           `gorm:"not null;default:false"`
}

// TableName sets the MySQL table name for GORM.
func (ProjectThread) TableName() string { return "project_threads" }

// Snapshot decodes the context snapshot column. A missing or empty column
// decodes to the zero snapshot.
func (t *ProjectThread) Snapshot() ContextSnapshot {
	var snap ContextSnapshot
	if len(t.Context) > 0 {
		_ = json.Unmarshal(t.Context, &snap)
	}
	return snap
}

// SetSnapshot encodes and stores the context snapshot column.
func (t *ProjectThread) SetSnapshot(snap ContextSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	t.Context = raw
	return nil
}

// RefList decodes the contextual reference column.
func (t *ProjectThread) RefList() ReferenceList {
	var refs ReferenceList
	if len(t.References) > 0 {
		_ = json.Unmarshal(t.References, &refs)
	}
	return refs
}

// SetRefList encodes and stores the contextual reference column.
func (t *ProjectThread) SetRefList(refs ReferenceList) error {
	raw, err := json.Marshal(refs)
	if err != nil {
		return err
	}
	t.References = raw
	return nil
}

// EventType classifies a project activity record.
type EventType string

const (
	EventQuestion           EventType = "question"
	EventCommand            EventType = "command"
	EventOntologyChanged    EventType = "ontology_changed"
	EventDocumentUploaded   EventType = "document_uploaded"
	EventGreeting           EventType = "greeting"
	EventClarification      EventType = "clarification"
	EventConversationMemory EventType = "conversation_memory"
)

// EntityMention names an entity referenced inside an event's key data. It
// is what feeds the thread's contextual reference list.
type EntityMention struct {
	EntityID   string `json:"entity_id"`
	EntityType string `json:"entity_type"`
	Label      string `json:"label"`
}

// EventKeyData is the structured payload of an Event. Fields are filled
// per event type; unused fields stay empty.
type EventKeyData struct {
	UserMessage         string          `json:"user_message,omitempty"`
	Response            string          `json:"response,omitempty"`
	Intent              IntentState     `json:"intent,omitempty"`
	ContextualReference string          `json:"contextual_reference,omitempty"`
	Sources             []string        `json:"sources,omitempty"`
	Entities            []EntityMention `json:"entities,omitempty"`
	Command             string          `json:"command,omitempty"`
	Endpoint            string          `json:"endpoint,omitempty"`
	ResourceID          string          `json:"resource_id,omitempty"`
	Error               string          `json:"error,omitempty"`
}

// Event is one immutable, append-only record of a project activity. Ordering
// is by Timestamp with Seq breaking ties; Seq is assigned inside the persist
// transaction and is strictly increasing per thread.
type Event struct {
	EventID   string `gorm:"primaryKey;size:36"`
	ThreadID  string `gorm:"index:idx_event_thread_seq,priority:1;not null;size:36"`
	Seq       int64  `gorm:"index:idx_event_thread_seq,priority:2;not null"`
	Timestamp time.Time
	EventType EventType `gorm:"type:varchar(32);not null"`
	Summary   string    `gorm:"size:1024"`
	KeyData   datatypes.JSON
	Mirrored  bool `gorm:"not null;default:false"`
}

func (Event) TableName() string { return "thread_events" }

// DecodeKeyData decodes the structured payload of the event.
func (e *Event) DecodeKeyData() EventKeyData {
	var kd EventKeyData
	if len(e.KeyData) > 0 {
		_ = json.Unmarshal(e.KeyData, &kd)
	}
	return kd
}

// SetKeyData encodes and stores the structured payload of the event.
func (e *Event) SetKeyData(kd EventKeyData) error {
	raw, err := json.Marshal(kd)
	if err != nil {
		return err
	}
	e.KeyData = raw
	return nil
}

// ChatMessage is the lighter-weight dialogue record used for the
// conversation-memory path. It shares the Seq ordering discipline with
// Event but stays a separate table so direct dialogue is not conflated
// with the full activity log.
type ChatMessage struct {
	MessageID string `gorm:"primaryKey;size:36"`
	ThreadID  string `gorm:"index:idx_message_thread_seq,priority:1;not null;size:36"`
	Seq       int64  `gorm:"index:idx_message_thread_seq,priority:2;not null"`
	// EventID names the event appended in the same exchange; truncation
	// uses it to anchor the cut point.
	EventID   string `gorm:"size:36"`
	Role      string `gorm:"type:varchar(16);not null"`
	Content   string `gorm:"type:text;not null"`
	Timestamp time.Time
	Mirrored  bool `gorm:"not null;default:false"`
}

func (ChatMessage) TableName() string { return "thread_messages" }
