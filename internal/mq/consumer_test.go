package mq

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

type ackRecord struct {
	tag     uint64
	ack     bool
	requeue bool
}

type fakeAcker struct {
	mu      sync.Mutex
	records []ackRecord
}

func (a *fakeAcker) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, ackRecord{tag: tag, ack: true})
	return nil
}

func (a *fakeAcker) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, ackRecord{tag: tag, requeue: requeue})
	return nil
}

func (a *fakeAcker) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAcker) get(tag uint64) (ackRecord, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.records {
		if r.tag == tag {
			return r, true
		}
	}
	return ackRecord{}, false
}

func delivery(t *testing.T, acker *fakeAcker, tag uint64, redelivered bool) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(Message{
		ID:        uuid.NewString(),
		Type:      MessageTypeTaskDeploy,
		Payload:   TaskSubmittedPayload{TaskID: uuid.New()},
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return amqp.Delivery{Acknowledger: acker, DeliveryTag: tag, Body: body, Redelivered: redelivered}
}

// --- Consumer Tests ---

func TestProcessDeliveries_WorkerLimit(t *testing.T) {
	var active, peak, handled atomic.Int32
	c := NewConsumer(nil, nil, ConsumerConfig{
		Queue:   "tasks.deploy",
		Workers: 2,
		Handler: func(ctx context.Context, d *Delivery) error {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			active.Add(-1)
			handled.Add(1)
			return nil
		},
	})

	acker := &fakeAcker{}
	deliveries := make(chan amqp.Delivery, 6)
	for i := range 6 {
		deliveries <- delivery(t, acker, uint64(i+1), false)
	}
	close(deliveries)

	err := c.processDeliveries(context.Background(), deliveries)
	if !errors.Is(err, errDeliveriesClosed) {
		t.Fatalf("expected closed deliveries error, got %v", err)
	}
	if handled.Load() != 6 {
		t.Errorf("expected all 6 deliveries handled before return, got %d", handled.Load())
	}
	if peak.Load() > 2 {
		t.Errorf("expected at most 2 concurrent handlers, got %d", peak.Load())
	}
	for tag := uint64(1); tag <= 6; tag++ {
		if r, ok := acker.get(tag); !ok || !r.ack {
			t.Errorf("delivery %d not acked: %+v", tag, r)
		}
	}
}

func TestProcessDeliveries_StopsOnCancel(t *testing.T) {
	c := NewConsumer(nil, nil, ConsumerConfig{
		Queue:   "tasks.deploy",
		Handler: func(ctx context.Context, d *Delivery) error { return nil },
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.processDeliveries(ctx, make(chan amqp.Delivery))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestHandleDelivery_Outcomes(t *testing.T) {
	fail := errors.New("db down")
	tests := []struct {
		name        string
		handlerErr  error
		redelivered bool
		body        []byte
		wantAck     bool
		wantRequeue bool
	}{
		{name: "success", wantAck: true},
		{name: "first failure requeued", handlerErr: fail, wantRequeue: true},
		{name: "repeated failure dead-lettered", handlerErr: fail, redelivered: true},
		{name: "malformed body dead-lettered", body: []byte("{not json")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acker := &fakeAcker{}
			c := NewConsumer(nil, nil, ConsumerConfig{
				Queue:   "tasks.deploy",
				Handler: func(ctx context.Context, d *Delivery) error { return tt.handlerErr },
			})

			raw := delivery(t, acker, 7, tt.redelivered)
			if tt.body != nil {
				raw.Body = tt.body
			}
			c.handleDelivery(context.Background(), raw)

			r, ok := acker.get(7)
			if !ok {
				t.Fatal("delivery was neither acked nor nacked")
			}
			if r.ack != tt.wantAck || r.requeue != tt.wantRequeue {
				t.Errorf("got ack=%v requeue=%v, want ack=%v requeue=%v", r.ack, r.requeue, tt.wantAck, tt.wantRequeue)
			}
		})
	}
}

func TestParsePayload(t *testing.T) {
	id := uuid.New()
	msg := &Message{Type: MessageTypeTaskRollback, Payload: map[string]any{"task_id": id.String(), "resume": true}}

	p, err := ParsePayload[TaskSubmittedPayload](msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.TaskID != id || !p.Resume {
		t.Errorf("unexpected payload: %+v", p)
	}
}
