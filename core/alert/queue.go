// Package alert is the single-slot transient notification surface.
package alert

import (
	"encoding/json"
	"sync"

	"github.com/trezcool/masomo-portal/core/persist"
)

// Alert texts
const (
	TextNewMessage      = "new message arrived"
	TextMessageSent     = "message sent"
	TextSendFailed      = "failed to send the message"
	TextDraftInvalid    = "recipient and message are required"
	TextListRefreshed   = "message list updated"
	TextJoinedRoom      = "joined the chat room"
	TextJoinFailed      = "failed to join the chat room"
	TextPaymentComplete = "payment completed"
	TextRequestFailed   = "request failed, try again later"
)

type State struct {
	Visible bool   `json:"open"`
	Text    string `json:"message"`
}

// Queue holds at most one alert. Showing a new one replaces the text of the current one.
type Queue struct {
	mu    sync.Mutex
	state State
	saver persist.Saver

	subsMu sync.Mutex
	subs   []func(State)
}

var _ persist.Hydrator = (*Queue)(nil)

func NewQueue(saver persist.Saver) *Queue {
	return &Queue{saver: saver}
}

func (q *Queue) Show(text string) {
	q.set(State{Visible: true, Text: text})
}

// Hide clears the slot.
func (q *Queue) Hide() {
	q.set(State{})
}

func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Hydrate implements persist.Hydrator.
func (q *Queue) Hydrate(payload []byte) error {
	var st State
	var err error
	if payload != nil {
		if err = json.Unmarshal(payload, &st); err != nil {
			st = State{}
		}
	}
	q.mu.Lock()
	q.state = st
	q.mu.Unlock()
	q.notify(st)
	return err
}

func (q *Queue) Subscribe(fn func(State)) {
	q.subsMu.Lock()
	defer q.subsMu.Unlock()
	q.subs = append(q.subs, fn)
}

func (q *Queue) set(st State) {
	q.mu.Lock()
	q.state = st
	if q.saver != nil {
		q.saver.Persist(persist.PartitionAlert, st)
	}
	q.mu.Unlock()
	q.notify(st)
}

func (q *Queue) notify(st State) {
	q.subsMu.Lock()
	subs := make([]func(State), len(q.subs))
	copy(subs, q.subs)
	q.subsMu.Unlock()
	for _, fn := range subs {
		fn(st)
	}
}
