package events

import "fmt"

// Validate checks the ordering rules of one turn:
//
//   - chatroom-created, when present, is the first event;
//   - crawl and database brackets are balanced, never nested in a bracket of
//     the same kind, and never overlap the message bracket;
//   - message-start appears at most once and is closed by message-end; the
//     events between them are message tokens only;
//   - recommendation comes after message-end;
//   - an error event is immediately followed by finish;
//   - finish appears exactly once, as the last event.
func Validate(seq []Event) error {
	if len(seq) == 0 {
		return fmt.Errorf("empty stream")
	}
	if !seq[len(seq)-1].Is(Finish) {
		return fmt.Errorf("last event is %v, want finish", seq[len(seq)-1])
	}

	var (
		crawlOpen, dbOpen   bool
		msgStarted, msgDone bool
	)
	inMessage := func() bool { return msgStarted && !msgDone }

	for i, e := range seq {
		if inMessage() && e.Type != TypeMessage && !e.Is(MessageEnd) {
			return fmt.Errorf("event %d (%v) interrupts the message bracket", i, e)
		}
		switch e.Type {
		case TypeChatroomCreated:
			if i != 0 {
				return fmt.Errorf("chatroom-created at %d, want 0", i)
			}
		case TypeRecommendation:
			if !msgDone {
				return fmt.Errorf("recommendation at %d before message-end", i)
			}
		case TypeError:
			if i+1 >= len(seq) || !seq[i+1].Is(Finish) {
				return fmt.Errorf("error at %d not followed by finish", i)
			}
		case TypeSignal:
			switch {
			case e.Is(CrawlStart):
				if crawlOpen {
					return fmt.Errorf("nested crawl-start at %d", i)
				}
				crawlOpen = true
			case e.Is(CrawlEnd):
				if !crawlOpen {
					return fmt.Errorf("crawl-end at %d without start", i)
				}
				crawlOpen = false
			case e.Is(DatabaseStart):
				if dbOpen {
					return fmt.Errorf("nested database-start at %d", i)
				}
				dbOpen = true
			case e.Is(DatabaseEnd):
				if !dbOpen {
					return fmt.Errorf("database-end at %d without start", i)
				}
				dbOpen = false
			case e.Is(MessageStart):
				if msgStarted {
					return fmt.Errorf("second message-start at %d", i)
				}
				if crawlOpen || dbOpen {
					return fmt.Errorf("message-start at %d inside an open bracket", i)
				}
				msgStarted = true
			case e.Is(MessageEnd):
				if !inMessage() {
					return fmt.Errorf("message-end at %d without start", i)
				}
				msgDone = true
			case e.Is(Finish):
				if i != len(seq)-1 {
					return fmt.Errorf("finish at %d is not last", i)
				}
			}
		}
	}
	if crawlOpen || dbOpen {
		return fmt.Errorf("unbalanced crawl or database bracket")
	}
	if inMessage() {
		return fmt.Errorf("message bracket left open")
	}
	return nil
}
