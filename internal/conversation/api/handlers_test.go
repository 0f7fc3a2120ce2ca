package api

import (
	"testing"
	"time"

	"Minerva/internal/models"
)

// 同一毫秒内的事件必须排在它的消息之前：事件与消息的 Seq 来自两张表
// 各自的计数器，跨表比较没有意义。
func TestMergeHistoryOrdersEventBeforeMessagesAtSameTimestamp(t *testing.T) {
	now := time.Now()
	events := []*models.Event{
		{EventID: "ev-1", Seq: 1, Timestamp: now, EventType: models.EventQuestion, Summary: "first"},
	}
	msgs := []*models.ChatMessage{
		// 消息表的计数器领先于事件表，Seq 数值更大。
		{MessageID: "msg-1", Seq: 7, Role: "user", Content: "q", Timestamp: now},
		{MessageID: "msg-2", Seq: 8, Role: "assistant", Content: "a", Timestamp: now},
	}

	items := mergeHistory(events, msgs)
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if items[0].Kind != "event" {
		t.Fatalf("expected the event first, got kind %q", items[0].Kind)
	}
	if items[1].Role != "user" || items[2].Role != "assistant" {
		t.Fatalf("expected user then assistant, got %q then %q", items[1].Role, items[2].Role)
	}
}

func TestMergeHistoryKeepsChronologyAcrossExchanges(t *testing.T) {
	early := time.Now()
	late := early.Add(time.Second)
	events := []*models.Event{
		{EventID: "ev-1", Seq: 1, Timestamp: early, EventType: models.EventGreeting},
		{EventID: "ev-2", Seq: 2, Timestamp: late, EventType: models.EventQuestion},
	}
	msgs := []*models.ChatMessage{
		{MessageID: "msg-1", Seq: 1, Role: "user", Content: "hi", Timestamp: early},
		{MessageID: "msg-2", Seq: 2, Role: "user", Content: "why", Timestamp: late},
	}

	items := mergeHistory(events, msgs)
	label := func(item HistoryItem) string {
		if item.Kind == "event" {
			return "event:" + string(item.EventType)
		}
		return "message:" + item.Content
	}
	want := []string{"event:greeting", "message:hi", "event:question", "message:why"}
	if len(items) != len(want) {
		t.Fatalf("expected %d items, got %d", len(want), len(items))
	}
	for i, item := range items {
		if label(item) != want[i] {
			t.Fatalf("item %d: expected %s, got %s", i, want[i], label(item))
		}
	}
}
