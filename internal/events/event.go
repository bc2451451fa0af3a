// Package events defines the tagged events a chat turn produces and the
// transports that deliver them: server-sent events and WebSocket frames.
//
// Every event is {type, content}. A turn is a channel of events that the
// producer closes after the terminal "finish" signal.
package events

import "context"

// Type is the event tag.
type Type string

const (
	TypeSignal          Type = "signal"
	TypeMessage         Type = "message"
	TypeRecommendation  Type = "recommendation"
	TypeRoomTitle       Type = "room-title"
	TypeChatroomCreated Type = "chatroom-created"
	TypeError           Type = "error"
)

// Signal is the content of a signal event.
type Signal string

const (
	CrawlStart    Signal = "crawl-start"
	CrawlEnd      Signal = "crawl-end"
	MessageStart  Signal = "message-start"
	MessageEnd    Signal = "message-end"
	DatabaseStart Signal = "database-start"
	DatabaseEnd   Signal = "database-end"
	Finish        Signal = "finish"
	CCCreateStart Signal = "cc-create-start"
	CCCreateDone  Signal = "cc-create-done"
	CCCreateFail  Signal = "cc-create-fail"
)

// GenericFailure is the only error text a client ever sees.
const GenericFailure = "something went wrong"

// Event is one element of a turn's stream.
type Event struct {
	Type    Type `json:"type"`
	Content any  `json:"content"`
}

func NewSignal(s Signal) Event { return Event{Type: TypeSignal, Content: s} }

func Token(tok string) Event { return Event{Type: TypeMessage, Content: tok} }

// Recommendation carries the internal ids of the recommended movies. A nil
// slice is sent as an empty list.
func Recommendation(ids []uint) Event {
	if ids == nil {
		ids = []uint{}
	}
	return Event{Type: TypeRecommendation, Content: ids}
}

func RoomTitle(title string) Event { return Event{Type: TypeRoomTitle, Content: title} }

func ChatroomCreated(room any) Event { return Event{Type: TypeChatroomCreated, Content: room} }

func Failure() Event { return Event{Type: TypeError, Content: GenericFailure} }

// Is reports whether e is the signal s.
func (e Event) Is(s Signal) bool {
	if e.Type != TypeSignal {
		return false
	}
	switch v := e.Content.(type) {
	case Signal:
		return v == s
	case string:
		return v == string(s)
	}
	return false
}

// Emitter pushes events into a turn's channel and gives up once the
// consumer is gone.
type Emitter struct {
	ctx context.Context
	ch  chan<- Event
}

func NewEmitter(ctx context.Context, ch chan<- Event) *Emitter {
	return &Emitter{ctx: ctx, ch: ch}
}

// Emit sends e and reports whether it was delivered.
func (em *Emitter) Emit(e Event) bool {
	if em == nil {
		return false
	}
	select {
	case <-em.ctx.Done():
		return false
	case em.ch <- e:
		return true
	}
}

func (em *Emitter) Signal(s Signal) bool { return em.Emit(NewSignal(s)) }

// Bracket emits start, runs fn and emits end, even when fn fails.
func (em *Emitter) Bracket(start, end Signal, fn func() error) error {
	em.Signal(start)
	err := fn()
	em.Signal(end)
	return err
}

// Collect drains ch.
func Collect(ch <-chan Event) []Event {
	var out []Event
	for e := range ch {
		out = append(out, e)
	}
	return out
}

// Text concatenates the message tokens of seq.
func Text(seq []Event) string {
	var n int
	for _, e := range seq {
		if s, ok := e.Content.(string); ok && e.Type == TypeMessage {
			n += len(s)
		}
	}
	b := make([]byte, 0, n)
	for _, e := range seq {
		if s, ok := e.Content.(string); ok && e.Type == TypeMessage {
			b = append(b, s...)
		}
	}
	return string(b)
}
