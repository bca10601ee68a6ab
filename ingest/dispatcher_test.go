package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/estatepulse/property-crawler-service/common"
	"github.com/estatepulse/property-crawler-service/common/messaging"
	"github.com/estatepulse/property-crawler-service/common/models"
)

// fakeMsg implements jetstream.Msg with ack-verdict tracking.
type fakeMsg struct {
	data       []byte
	deliveries uint64

	acked  bool
	naked  bool
	termed bool
}

func (m *fakeMsg) Metadata() (*jetstream.MsgMetadata, error) {
	return &jetstream.MsgMetadata{NumDelivered: m.deliveries}, nil
}
func (m *fakeMsg) Data() []byte                    { return m.data }
func (m *fakeMsg) Headers() nats.Header            { return nil }
func (m *fakeMsg) Subject() string                 { return messaging.SubjectIngestProperty }
func (m *fakeMsg) Reply() string                   { return "" }
func (m *fakeMsg) Ack() error                      { m.acked = true; return nil }
func (m *fakeMsg) DoubleAck(context.Context) error { m.acked = true; return nil }
func (m *fakeMsg) Nak() error                      { m.naked = true; return nil }
func (m *fakeMsg) NakWithDelay(time.Duration) error {
	m.naked = true
	return nil
}
func (m *fakeMsg) InProgress() error           { return nil }
func (m *fakeMsg) Term() error                 { m.termed = true; return nil }
func (m *fakeMsg) TermWithReason(string) error { m.termed = true; return nil }

// fakeUpserter scripts upsert outcomes per call.
type fakeUpserter struct {
	errs  []error
	calls int
}

func (f *fakeUpserter) Upsert(ctx context.Context, rec models.PropertyRecord) (UpsertResult, error) {
	var err error
	if f.calls < len(f.errs) {
		err = f.errs[f.calls]
	}
	f.calls++
	if err != nil {
		return UpsertResult{}, err
	}
	return UpsertResult{Created: true}, nil
}

type recordedDeadLetter struct {
	job        models.IngestJob
	lastErr    error
	deliveries int
}

type fakeRecorder struct {
	recorded []recordedDeadLetter
}

func (f *fakeRecorder) Record(ctx context.Context, job models.IngestJob, lastErr error, deliveries int, snapshotURL string) (int64, error) {
	f.recorded = append(f.recorded, recordedDeadLetter{job: job, lastErr: lastErr, deliveries: deliveries})
	return int64(len(f.recorded)), nil
}

func ingestMsg(t *testing.T, externalID string, deliveries uint64) *fakeMsg {
	t.Helper()
	data, err := json.Marshal(messaging.IngestMessage{Job: models.IngestJob{
		SessionID: "session-1",
		URL:       fmt.Sprintf("https://example.com/details-%s.html", externalID),
		Record:    models.PropertyRecord{ExternalID: externalID},
	}})
	if err != nil {
		t.Fatalf("marshaling job: %v", err)
	}
	return &fakeMsg{data: data, deliveries: deliveries}
}

func testDispatcher(store Upserter, recorder DeadLetterRecorder) *Dispatcher {
	return NewDispatcher(&messaging.NatsBroker{}, store, recorder, DispatcherConfig{
		MaxDeliveries: 3,
		RetryBackoff:  time.Millisecond,
	})
}

func TestHandleSuccessAcks(t *testing.T) {
	store := &fakeUpserter{}
	recorder := &fakeRecorder{}
	d := testDispatcher(store, recorder)

	msg := ingestMsg(t, "12345", 1)
	d.handle(context.Background(), msg)

	if !msg.acked {
		t.Error("successful job was not acked")
	}
	if msg.naked || msg.termed {
		t.Error("successful job was naked or termed")
	}
	if len(recorder.recorded) != 0 {
		t.Errorf("dead letters recorded: %d", len(recorder.recorded))
	}
}

func TestHandleTransientFailureNaks(t *testing.T) {
	store := &fakeUpserter{errs: []error{common.ErrStoreConflict}}
	recorder := &fakeRecorder{}
	d := testDispatcher(store, recorder)

	msg := ingestMsg(t, "12345", 1)
	d.handle(context.Background(), msg)

	if !msg.naked {
		t.Error("transient failure was not naked for redelivery")
	}
	if msg.termed {
		t.Error("transient failure under budget was termed")
	}
	if len(recorder.recorded) != 0 {
		t.Errorf("dead letters recorded: %d", len(recorder.recorded))
	}
}

func TestHandleStoreOutageNaksForRedelivery(t *testing.T) {
	// Errors the store layer could not classify, like a refused connection
	// during an outage or a canceled context at shutdown, must redeliver
	// rather than dead-letter.
	causes := []error{
		errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"),
		context.Canceled,
		context.DeadlineExceeded,
	}
	for _, cause := range causes {
		store := &fakeUpserter{errs: []error{cause}}
		recorder := &fakeRecorder{}
		d := testDispatcher(store, recorder)

		msg := ingestMsg(t, "12345", 1)
		d.handle(context.Background(), msg)

		if !msg.naked {
			t.Errorf("%v: first delivery was not naked for redelivery", cause)
		}
		if msg.termed {
			t.Errorf("%v: first delivery was termed", cause)
		}
		if len(recorder.recorded) != 0 {
			t.Errorf("%v: dead letters recorded = %d, want 0", cause, len(recorder.recorded))
		}
	}
}

func TestHandleExhaustedRetriesDeadLetters(t *testing.T) {
	store := &fakeUpserter{errs: []error{common.ErrStoreConflict}}
	recorder := &fakeRecorder{}
	d := testDispatcher(store, recorder)

	// Final delivery of the budget.
	msg := ingestMsg(t, "12345", 3)
	d.handle(context.Background(), msg)

	if msg.naked {
		t.Error("exhausted job was naked instead of terminated")
	}
	if !msg.termed {
		t.Error("exhausted job was not terminated")
	}
	if len(recorder.recorded) != 1 {
		t.Fatalf("dead letters recorded = %d, want exactly 1", len(recorder.recorded))
	}

	dl := recorder.recorded[0]
	if dl.job.Record.ExternalID != "12345" {
		t.Errorf("dead letter external id = %q", dl.job.Record.ExternalID)
	}
	if dl.deliveries != 3 {
		t.Errorf("dead letter deliveries = %d, want 3", dl.deliveries)
	}
	if !errors.Is(dl.lastErr, common.ErrStoreConflict) {
		t.Errorf("dead letter cause = %v", dl.lastErr)
	}
}

func TestHandleFatalFailureDeadLettersImmediately(t *testing.T) {
	store := &fakeUpserter{errs: []error{common.ErrStoreFatal}}
	recorder := &fakeRecorder{}
	d := testDispatcher(store, recorder)

	msg := ingestMsg(t, "12345", 1)
	d.handle(context.Background(), msg)

	if msg.naked {
		t.Error("fatal failure was naked")
	}
	if !msg.termed {
		t.Error("fatal failure was not terminated")
	}
	if len(recorder.recorded) != 1 {
		t.Fatalf("dead letters recorded = %d, want 1", len(recorder.recorded))
	}
}

func TestHandleMalformedPayloadDeadLetters(t *testing.T) {
	store := &fakeUpserter{}
	recorder := &fakeRecorder{}
	d := testDispatcher(store, recorder)

	msg := &fakeMsg{data: []byte("{not json"), deliveries: 1}
	d.handle(context.Background(), msg)

	if !msg.termed {
		t.Error("malformed payload was not terminated")
	}
	if store.calls != 0 {
		t.Errorf("store called %d times for a malformed payload", store.calls)
	}
	if len(recorder.recorded) != 1 {
		t.Fatalf("dead letters recorded = %d, want 1", len(recorder.recorded))
	}
}
