package detection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mbd888/bankguard/internal/logging"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSubmitter struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (s *recordingSubmitter) CheckTransaction(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.ids = append(s.ids, id)
	return nil
}

func (s *recordingSubmitter) submitted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

// fakeReader serves queued messages, then blocks until ctx is done.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func msg(offset int64, value string) kafka.Message {
	return kafka.Message{Topic: DefaultTransactionsTopic, Offset: offset, Value: []byte(value)}
}

func TestConsumer_Handle(t *testing.T) {
	sub := &recordingSubmitter{}
	c := NewConsumer(&fakeReader{}, sub, "", logging.Discard())
	ctx := context.Background()

	require.NoError(t, c.Handle(ctx, msg(1, `{"transaction_id":"tx-1"}`)))
	require.NoError(t, c.Handle(ctx, msg(2, `not json`)), "malformed messages are dropped")
	require.NoError(t, c.Handle(ctx, msg(3, `{"transaction_id":""}`)))
	require.NoError(t, c.Handle(ctx, kafka.Message{Topic: "other.topic", Value: []byte(`{"transaction_id":"tx-9"}`)}))

	assert.Equal(t, []string{"tx-1"}, sub.submitted())
}

func TestConsumer_HandleSubmitError(t *testing.T) {
	sub := &recordingSubmitter{err: errors.New("pool closed")}
	c := NewConsumer(&fakeReader{}, sub, DefaultTransactionsTopic, logging.Discard())
	assert.Error(t, c.Handle(context.Background(), msg(1, `{"transaction_id":"tx-1"}`)))
}

func TestConsumer_StartCommitsHandledMessages(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		msg(10, `{"transaction_id":"a"}`),
		msg(11, `garbage`),
		msg(12, `{"transaction_id":"b"}`),
	}}
	sub := &recordingSubmitter{}
	c := NewConsumer(reader, sub, "", logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(reader.commits()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []string{"a", "b"}, sub.submitted())
	assert.Equal(t, []int64{10, 11, 12}, reader.commits())
}

func TestConsumer_EndToEndWithCoordinator(t *testing.T) {
	f := newFixture(t, 2)
	f.post("tx-k", "acc-k", now.Add(-time.Minute), 95_000_000)

	c := NewConsumer(&fakeReader{}, f.coord, "", logging.Discard())
	require.NoError(t, c.Handle(context.Background(), msg(1, `{"transaction_id":"tx-k"}`)))
	f.coord.Wait()

	all := f.allAlerts(t)
	require.Len(t, all, 1)
	assert.Equal(t, "tx-k", all[0].TransactionID)
}
