package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type fakeDelivery struct {
	acks, nacks int
	requeued    bool
}

func (f *fakeDelivery) Ack(bool) error { f.acks++; return nil }
func (f *fakeDelivery) Nack(_, requeue bool) error {
	f.nacks++
	f.requeued = requeue
	return nil
}

func TestNewJob_AssignsSortableID(t *testing.T) {
	a := NewJob(1, " 듄 ")
	time.Sleep(2 * time.Millisecond)
	b := NewJob(2, "바비")
	if len(a.JobID) != 26 || a.Title != "듄" || a.RequestedAt.IsZero() {
		t.Fatalf("unexpected job %+v", a)
	}
	if a.JobID >= b.JobID {
		t.Fatalf("ids should sort by creation: %s >= %s", a.JobID, b.JobID)
	}
}

func TestDecodeJob_RejectsMalformed(t *testing.T) {
	for _, body := range []string{"{", `{"job_id":""}`, `{"job_id":"x","movie_id":0}`} {
		if _, err := decodeJob([]byte(body)); !errors.Is(err, ErrBadJob) {
			t.Fatalf("%s: expected ErrBadJob, got %v", body, err)
		}
	}
	b, _ := encodeJob(NewJob(7, "듄"))
	j, err := decodeJob(b)
	if err != nil || j.MovieID != 7 {
		t.Fatalf("decode: %+v %v", j, err)
	}
}

func TestAttemptOf(t *testing.T) {
	if attemptOf(nil) != 1 {
		t.Fatalf("first delivery should be attempt 1")
	}
	if attemptOf(amqp.Table{attemptHeader: int32(3)}) != 3 || attemptOf(amqp.Table{attemptHeader: int64(2)}) != 2 {
		t.Fatalf("attempt header not read")
	}
	p := retryPublishing([]byte("x"), 2, 1500*time.Millisecond)
	if p.Expiration != "1500" || attemptOf(p.Headers) != 2 {
		t.Fatalf("retry publishing %+v", p)
	}
}

func newTestConsumer(h Handler, retryErr error) (*Consumer, *[]int) {
	var retried []int
	c := &Consumer{
		cfg:     ConsumerConfig{Queue: "q", Concurrency: 1, MaxAttempts: 3},
		handler: h,
		retry: func(_ context.Context, _ []byte, attempt int) error {
			retried = append(retried, attempt)
			return retryErr
		},
	}
	return c, &retried
}

func TestProcess_SettlesDeliveries(t *testing.T) {
	body, _ := encodeJob(NewJob(1, "듄"))
	ctx := context.Background()

	ok, _ := newTestConsumer(func(context.Context, Job) error { return nil }, nil)
	d := &fakeDelivery{}
	ok.process(ctx, 0, body, nil, d)
	if d.acks != 1 || d.nacks != 0 {
		t.Fatalf("success should ack: %+v", d)
	}

	failing, retried := newTestConsumer(func(context.Context, Job) error { return errors.New("boom") }, nil)
	d = &fakeDelivery{}
	failing.process(ctx, 0, body, amqp.Table{attemptHeader: int32(1)}, d)
	if d.acks != 1 || len(*retried) != 1 || (*retried)[0] != 2 {
		t.Fatalf("failure should be parked for retry: %+v %v", d, *retried)
	}

	d = &fakeDelivery{}
	failing.process(ctx, 0, body, amqp.Table{attemptHeader: int32(3)}, d)
	if d.nacks != 1 || d.requeued || len(*retried) != 1 {
		t.Fatalf("last attempt should dead-letter: %+v", d)
	}

	broken, _ := newTestConsumer(func(context.Context, Job) error { return errors.New("boom") }, errors.New("channel closed"))
	d = &fakeDelivery{}
	broken.process(ctx, 0, body, nil, d)
	if d.nacks != 1 {
		t.Fatalf("unpublishable retry should dead-letter: %+v", d)
	}

	d = &fakeDelivery{}
	ok.process(ctx, 0, []byte("not json"), nil, d)
	if d.nacks != 1 || d.acks != 0 {
		t.Fatalf("bad message should dead-letter: %+v", d)
	}
}
