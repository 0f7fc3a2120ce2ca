package thread

import (
	"context"
	"errors"
	"time"

	"Minerva/internal/models"

	"gorm.io/gorm"
)

// ErrVersionConflict is returned by AppendExchange when the thread row was
// modified between read and write. Callers re-read the thread, reapply
// their mutation and retry.
var ErrVersionConflict = errors.New("thread version conflict")

// Store is the relational persistence surface of a project thread. It is
// an interface so the manager can be tested against an in-memory fake.
type Store interface {
	GetByProject(ctx context.Context, projectID string) (*models.ProjectThread, error)
	GetByID(ctx context.Context, threadID string) (*models.ProjectThread, error)
	Create(ctx context.Context, t *models.ProjectThread) (*models.ProjectThread, error)
	AppendExchange(ctx context.Context, t *models.ProjectThread, event *models.Event, msgs []*models.ChatMessage) error
	ListEvents(ctx context.Context, threadID string, limit int) ([]*models.Event, error)
	ListMessages(ctx context.Context, threadID string, limit int) ([]*models.ChatMessage, error)
	GetEventsByIDs(ctx context.Context, eventIDs []string) ([]*models.Event, error)
	GetMessagesByIDs(ctx context.Context, messageIDs []string) ([]*models.ChatMessage, error)
	TruncateFromLastUserMessage(ctx context.Context, threadID string) (eventIDs, messageIDs []string, err error)
	ListUnmirroredEvents(ctx context.Context, limit int) ([]*models.Event, error)
	ListUnmirroredMessages(ctx context.Context, limit int) ([]*models.ChatMessage, error)
	ListUnmirroredThreads(ctx context.Context, limit int) ([]*models.ProjectThread, error)
	MarkEventsMirrored(ctx context.Context, eventIDs []string) error
	MarkMessagesMirrored(ctx context.Context, messageIDs []string) error
	MarkThreadMirrored(ctx context.Context, threadID string) error
}

// SQLStore implements Store on MySQL via GORM. All multi-row writes run in
// a transaction; Seq numbers are assigned inside that transaction so they
// are strictly increasing per thread even under concurrent appends.
type SQLStore struct {
	db *gorm.DB
}

// NewSQLStore creates a new SQLStore.
func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db}
}

var _ Store = (*SQLStore)(nil)

// GetByProject fetches the thread of a project, or (nil, nil) when the
// project has no thread yet.
func (s *SQLStore) GetByProject(ctx context.Context, projectID string) (*models.ProjectThread, error) {
	var t models.ProjectThread
	result := s.db.WithContext(ctx).Where("project_id = ?", projectID).First(&t)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &t, nil
}

// GetByID fetches a thread by its primary key, or (nil, nil) when absent.
func (s *SQLStore) GetByID(ctx context.Context, threadID string) (*models.ProjectThread, error) {
	var t models.ProjectThread
	result := s.db.WithContext(ctx).Where("thread_id = ?", threadID).First(&t)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &t, nil
}

// Create inserts a new thread row. When another request won the creation
// race, the unique index on project_id rejects the insert and the already
// existing thread is returned instead, so both callers converge on the
// same row.
func (s *SQLStore) Create(ctx context.Context, t *models.ProjectThread) (*models.ProjectThread, error) {
	result := s.db.WithContext(ctx).Create(t)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return s.GetByProject(ctx, t.ProjectID)
		}
		return nil, result.Error
	}
	return t, nil
}

// AppendExchange atomically appends one event plus its chat messages and
// advances the thread row. The thread update is guarded by the version the
// caller read: if zero rows match, someone else wrote in between and
// ErrVersionConflict is returned without any row having been touched.
func (s *SQLStore) AppendExchange(ctx context.Context, t *models.ProjectThread, event *models.Event, msgs []*models.ChatMessage) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		readVersion := t.Version

		result := tx.Model(&models.ProjectThread{}).
			Where("thread_id = ? AND version = ?", t.ThreadID, readVersion).
			Updates(map[string]interface{}{
				"version":               readVersion + 1,
				"last_activity":         t.LastActivity,
				"context_snapshot":      t.Context,
				"contextual_references": t.References,
				"mirrored":              false,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrVersionConflict
		}
		t.Version = readVersion + 1

		if event != nil {
			seq, err := nextSeq(tx, &models.Event{}, t.ThreadID)
			if err != nil {
				return err
			}
			event.ThreadID = t.ThreadID
			event.Seq = seq
			if err := tx.Create(event).Error; err != nil {
				return err
			}
		}

		if len(msgs) > 0 {
			seq, err := nextSeq(tx, &models.ChatMessage{}, t.ThreadID)
			if err != nil {
				return err
			}
			for i, msg := range msgs {
				msg.ThreadID = t.ThreadID
				msg.Seq = seq + int64(i)
				if event != nil {
					msg.EventID = event.EventID
				}
			}
			if err := tx.Create(msgs).Error; err != nil {
				return err
			}
		}

		return nil
	})
}

// nextSeq computes max(seq)+1 for one thread within the given transaction.
func nextSeq(tx *gorm.DB, model interface{}, threadID string) (int64, error) {
	var maxSeq int64
	err := tx.Model(model).
		Where("thread_id = ?", threadID).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&maxSeq).Error
	if err != nil {
		return 0, err
	}
	return maxSeq + 1, nil
}

// ListEvents returns the newest events of a thread in chronological order.
func (s *SQLStore) ListEvents(ctx context.Context, threadID string, limit int) ([]*models.Event, error) {
	var events []*models.Event
	q := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("seq DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&events).Error; err != nil {
		return nil, err
	}
	reverseEvents(events)
	return events, nil
}

// ListMessages returns the newest chat messages of a thread in
// chronological order.
func (s *SQLStore) ListMessages(ctx context.Context, threadID string, limit int) ([]*models.ChatMessage, error) {
	var msgs []*models.ChatMessage
	q := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("seq DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	reverseMessages(msgs)
	return msgs, nil
}

// GetEventsByIDs fetches event rows by primary key; missing IDs do not
// appear in the result.
func (s *SQLStore) GetEventsByIDs(ctx context.Context, eventIDs []string) ([]*models.Event, error) {
	if len(eventIDs) == 0 {
		return nil, nil
	}
	var events []*models.Event
	if err := s.db.WithContext(ctx).Where("event_id IN ?", eventIDs).Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// GetMessagesByIDs fetches chat message rows by primary key.
func (s *SQLStore) GetMessagesByIDs(ctx context.Context, messageIDs []string) ([]*models.ChatMessage, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	var msgs []*models.ChatMessage
	if err := s.db.WithContext(ctx).Where("message_id IN ?", messageIDs).Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// TruncateFromLastUserMessage deletes the last user message of the thread
// and everything after it, the edit-and-retry semantics of deleting the
// last exchange. Events are paired to the cut through the message's event
// link rather than by timestamp, so an earlier exchange written in the
// same millisecond is never swept. It returns the IDs of the removed rows
// so their vector mirrors can be dropped too. A thread with no user
// message is left untouched.
func (s *SQLStore) TruncateFromLastUserMessage(ctx context.Context, threadID string) ([]string, []string, error) {
	var removedEvents, removedMessages []string

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lastUser models.ChatMessage
		result := tx.Where("thread_id = ? AND role = ?", threadID, "user").
			Order("seq DESC").
			First(&lastUser)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return nil
			}
			return result.Error
		}

		var doomed []*models.ChatMessage
		if err := tx.Where("thread_id = ? AND seq >= ?", threadID, lastUser.Seq).Find(&doomed).Error; err != nil {
			return err
		}
		for _, msg := range doomed {
			removedMessages = append(removedMessages, msg.MessageID)
		}

		var events []*models.Event
		if err := tx.Where("thread_id = ?", threadID).Order("seq ASC").Find(&events).Error; err != nil {
			return err
		}
		for _, ev := range eventCut(events, &lastUser) {
			removedEvents = append(removedEvents, ev.EventID)
		}

		if len(removedMessages) > 0 {
			if err := tx.Where("message_id IN ?", removedMessages).Delete(&models.ChatMessage{}).Error; err != nil {
				return err
			}
		}
		if len(removedEvents) > 0 {
			if err := tx.Where("event_id IN ?", removedEvents).Delete(&models.Event{}).Error; err != nil {
				return err
			}
		}

		return tx.Model(&models.ProjectThread{}).
			Where("thread_id = ?", threadID).
			Updates(map[string]interface{}{
				"version":       gorm.Expr("version + 1"),
				"last_activity": time.Now(),
			}).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return removedEvents, removedMessages, nil
}

// ListUnmirroredEvents returns event rows whose vector mirror is pending.
func (s *SQLStore) ListUnmirroredEvents(ctx context.Context, limit int) ([]*models.Event, error) {
	var events []*models.Event
	err := s.db.WithContext(ctx).
		Where("mirrored = ?", false).
		Order("timestamp ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

// ListUnmirroredMessages returns chat message rows whose vector mirror is
// pending.
func (s *SQLStore) ListUnmirroredMessages(ctx context.Context, limit int) ([]*models.ChatMessage, error) {
	var msgs []*models.ChatMessage
	err := s.db.WithContext(ctx).
		Where("mirrored = ?", false).
		Order("timestamp ASC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListUnmirroredThreads returns thread rows whose vector mirror is pending.
func (s *SQLStore) ListUnmirroredThreads(ctx context.Context, limit int) ([]*models.ProjectThread, error) {
	var threads []*models.ProjectThread
	err := s.db.WithContext(ctx).
		Where("mirrored = ?", false).
		Order("last_activity ASC").
		Limit(limit).
		Find(&threads).Error
	if err != nil {
		return nil, err
	}
	return threads, nil
}

// MarkEventsMirrored records that the vector index now holds the events.
func (s *SQLStore) MarkEventsMirrored(ctx context.Context, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("event_id IN ?", eventIDs).
		Update("mirrored", true).Error
}

// MarkMessagesMirrored records that the vector index now holds the messages.
func (s *SQLStore) MarkMessagesMirrored(ctx context.Context, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.ChatMessage{}).
		Where("message_id IN ?", messageIDs).
		Update("mirrored", true).Error
}

// MarkThreadMirrored records that the vector index now holds the thread.
func (s *SQLStore) MarkThreadMirrored(ctx context.Context, threadID string) error {
	return s.db.WithContext(ctx).
		Model(&models.ProjectThread{}).
		Where("thread_id = ?", threadID).
		Update("mirrored", true).Error
}

// eventCut selects, from a thread's events in seq order, the rows removed
// by a truncation anchored at lastUser: the event of the message's own
// exchange and every event after it. Rows written before the event link
// existed fall back to a strictly-newer timestamp comparison, which leaves
// an earlier exchange in the same millisecond untouched.
func eventCut(events []*models.Event, lastUser *models.ChatMessage) []*models.Event {
	anchorSeq := int64(-1)
	if lastUser.EventID != "" {
		for _, ev := range events {
			if ev.EventID == lastUser.EventID {
				anchorSeq = ev.Seq
				break
			}
		}
	}

	var doomed []*models.Event
	for _, ev := range events {
		if anchorSeq >= 0 {
			if ev.Seq >= anchorSeq {
				doomed = append(doomed, ev)
			}
		} else if ev.Timestamp.After(lastUser.Timestamp) {
			doomed = append(doomed, ev)
		}
	}
	return doomed
}

func reverseEvents(events []*models.Event) {
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
}

func reverseMessages(msgs []*models.ChatMessage) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
