package events

import (
	"bufio"
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func plainTurn() []Event {
	return []Event{
		NewSignal(CrawlStart),
		NewSignal(CrawlEnd),
		NewSignal(MessageStart),
		Token("듄은 "),
		Token("2021년 영화입니다."),
		NewSignal(MessageEnd),
		NewSignal(DatabaseStart),
		NewSignal(DatabaseEnd),
		Recommendation([]uint{1, 2}),
		RoomTitle("듄 이야기"),
		NewSignal(Finish),
	}
}

func TestValidate_AcceptsWellFormedTurns(t *testing.T) {
	cases := map[string][]Event{
		"plain": plainTurn(),
		"immersive": {
			NewSignal(MessageStart), Token("hi"), NewSignal(MessageEnd), NewSignal(Finish),
		},
		"character missing": {Token("character not found"), NewSignal(Finish)},
		"model failure": {
			NewSignal(MessageStart), Token("par"), NewSignal(MessageEnd), Failure(), NewSignal(Finish),
		},
		"character creation": {
			ChatroomCreated(map[string]string{"id": "r1"}),
			NewSignal(CrawlStart), NewSignal(CrawlEnd),
			NewSignal(CCCreateStart), NewSignal(CCCreateDone), NewSignal(Finish),
		},
	}
	for name, seq := range cases {
		if err := Validate(seq); err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
	}
}

func TestValidate_RejectsOrderingViolations(t *testing.T) {
	cases := map[string][]Event{
		"empty":            nil,
		"finish not last":  {NewSignal(Finish), Token("x")},
		"two finishes":     {NewSignal(Finish), NewSignal(Finish)},
		"crawl in message": {NewSignal(MessageStart), NewSignal(CrawlStart), NewSignal(CrawlEnd), NewSignal(MessageEnd), NewSignal(Finish)},
		"open crawl":       {NewSignal(CrawlStart), NewSignal(MessageStart), NewSignal(MessageEnd), NewSignal(Finish)},
		"rec before end":   {NewSignal(MessageStart), Recommendation(nil), NewSignal(MessageEnd), NewSignal(Finish)},
		"rec without msg":  {Recommendation(nil), NewSignal(Finish)},
		"unclosed message": {NewSignal(MessageStart), Token("x"), NewSignal(Finish)},
		"created late":     {NewSignal(CCCreateStart), ChatroomCreated(nil), NewSignal(Finish)},
		"error not last":   {Failure(), Token("x"), NewSignal(Finish)},
		"crawl end alone":  {NewSignal(CrawlEnd), NewSignal(Finish)},
	}
	for name, seq := range cases {
		if err := Validate(seq); err == nil {
			t.Fatalf("%s: expected violation", name)
		}
	}
}

func TestText_ConcatenatesTokensInOrder(t *testing.T) {
	if got := Text(plainTurn()); got != "듄은 2021년 영화입니다." {
		t.Fatalf("Text = %q", got)
	}
}

func TestEmitter_StopsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan Event)
	em := NewEmitter(ctx, ch)
	cancel()
	if em.Emit(Token("x")) {
		t.Fatalf("emit after cancel should report false")
	}
	var nilEm *Emitter
	if nilEm.Emit(Token("x")) {
		t.Fatalf("nil emitter should report false")
	}
}

func TestSSEWriter_FramesAndFlushes(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewSSEWriter(rec)
	if err := w.Write(NewSignal(MessageStart)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Write(Recommendation([]uint{7})); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !rec.Flushed {
		t.Fatalf("expected flush")
	}

	want := "data: {\"type\":\"signal\",\"content\":\"message-start\"}\n\n" +
		"data: {\"type\":\"recommendation\",\"content\":[7]}\n\n"
	if rec.Body.String() != want {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestPump_DeliversInOrderAndDecodes(t *testing.T) {
	ch := make(chan Event, len(plainTurn()))
	for _, e := range plainTurn() {
		ch <- e
	}
	close(ch)

	var buf bytes.Buffer
	sse := NewSSEWriter(&buf)
	if err := Pump(context.Background(), ch, sse.Write, sse.Heartbeat, time.Hour); err != nil {
		t.Fatalf("pump: %v", err)
	}

	var got []Event
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		e, err := Decode([]byte(strings.TrimPrefix(line, "data: ")))
		if err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		got = append(got, e)
	}
	if len(got) != len(plainTurn()) {
		t.Fatalf("got %d events", len(got))
	}
	if err := Validate(got); err != nil {
		t.Fatalf("decoded stream invalid: %v", err)
	}
	if Text(got) != Text(plainTurn()) {
		t.Fatalf("token order changed: %q", Text(got))
	}
}
