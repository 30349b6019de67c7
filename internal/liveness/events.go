package liveness

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// EventType - категория push-события бота
type EventType string

// Категории push-событий
const (
	EventStatus      EventType = "status"
	EventStartup     EventType = "startup"
	EventEntry       EventType = "entry"
	EventEntryFill   EventType = "entry_fill"
	EventEntryCancel EventType = "entry_cancel"
	EventExit        EventType = "exit"
	EventExitFill    EventType = "exit_fill"
	EventExitCancel  EventType = "exit_cancel"
	EventWarning     EventType = "warning"
	EventStrategyMsg EventType = "strategy_msg"
)

// DefaultEventCategories - категории, на которые подписывается EventBridge
var DefaultEventCategories = []EventType{
	EventStatus, EventStartup, EventEntry, EventEntryFill, EventExit, EventExitFill, EventWarning, EventStrategyMsg,
}

// IsTradeLifecycle - событие жизненного цикла сделки (вход/выход)
func (t EventType) IsTradeLifecycle() bool {
	switch t {
	case EventEntry, EventEntryFill, EventEntryCancel, EventExit, EventExitFill, EventExitCancel:
		return true
	}
	return false
}

// Event - push-событие бота: {"type": "...", "data": ...}
type Event struct {
	Type       EventType       `json:"type"`
	Data       json.RawMessage `json:"data,omitempty"`
	ReceivedAt time.Time       `json:"-"`
}

// DecodeEvent разбирает кадр push-канала
func DecodeEvent(frame []byte) (Event, error) {
	var ev Event
	if err := jsoniter.Unmarshal(frame, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("decode event: missing type")
	}
	ev.Type = EventType(strings.ToLower(string(ev.Type)))
	ev.ReceivedAt = time.Now()
	return ev, nil
}

// Text возвращает текст события
//
// status и warning кладут текст в data.status; strategy_msg - в data.msg;
// встречается и data в виде простой строки.
func (e Event) Text() string {
	if len(e.Data) == 0 {
		return ""
	}
	root := jsoniter.Get(e.Data)
	switch root.ValueType() {
	case jsoniter.StringValue:
		return root.ToString()
	case jsoniter.ObjectValue:
		for _, key := range []string{"status", "msg", "message"} {
			if v := root.Get(key); v.ValueType() == jsoniter.StringValue {
				return v.ToString()
			}
		}
	}
	return ""
}
