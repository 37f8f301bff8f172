package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fxdesk/internal/desk"
	"fxdesk/internal/signal"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSink struct {
	mock.Mock
}

func (m *MockSink) Surface(ctx context.Context, p signal.Proposal) (signal.TradeSignal, error) {
	args := m.Called(p.Pair)
	return args.Get(0).(signal.TradeSignal), args.Error(1)
}

func (m *MockSink) RequestAnalysis(ctx context.Context, id string, opts desk.AnalysisOptions) (desk.Ticket, error) {
	args := m.Called(id)
	return desk.Ticket{SignalID: id}, args.Error(0)
}

func TestPump_ValidatesAndSurfaces(t *testing.T) {
	sink := new(MockSink)
	sink.On("Surface", "EURUSD").Return(signal.TradeSignal{ID: "s1"}, nil).Once()
	sink.On("Surface", "GBPUSD").Return(signal.TradeSignal{}, desk.ErrDuplicateSignal).Once()
	sink.On("RequestAnalysis", "s1").Return(nil).Once()

	src := NewStaticSource([]signal.Proposal{
		{Pair: "EURUSD", Direction: "buy", EntryPrice: 1.1},
		{Pair: "EU", Direction: "buy"},
		{Pair: "USDJPY", Direction: "sideways"},
		{Pair: "GBPUSD", Direction: "sell", Confidence: 120},
		{Pair: "GBPUSD", Direction: "sell", Confidence: 70},
	})
	pump := NewPump(sink, PumpOptions{AutoAnalyze: true}, src)
	require.NoError(t, pump.Run(context.Background()))
	sink.AssertExpectations(t)
}

func TestPump_NoSources(t *testing.T) {
	assert.NoError(t, NewPump(new(MockSink), PumpOptions{}).Run(context.Background()))
}

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func TestKafkaSource_DecodesAndCommits(t *testing.T) {
	at := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	reader := &fakeReader{msgs: []kafka.Message{
		{Topic: "fx.signals", Offset: 1, Key: []byte("sig-1"), Time: at, Value: []byte(`{"pair":"EURUSD","direction":"buy","entry_price":1.08}`)},
		{Topic: "fx.signals", Offset: 2, Value: []byte(`not json`)},
		{Topic: "fx.signals", Offset: 3, Value: []byte(`{"id":"own","pair":"AUDUSD","direction":"sell"}`)},
	}}
	src := &KafkaSource{topic: "fx.signals", reader: reader}
	assert.Equal(t, "kafka:fx.signals", src.Name())

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan signal.Proposal, 4)
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, out) }()

	first := <-out
	second := <-out
	assert.Equal(t, "sig-1", first.ID)
	assert.Equal(t, at, first.At)
	assert.Equal(t, 1.08, first.EntryPrice)
	assert.Equal(t, "own", second.ID)

	require.Eventually(t, func() bool {
		reader.mu.Lock()
		defer reader.mu.Unlock()
		return len(reader.committed) == 3
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.True(t, reader.closed)
}

func TestNewKafkaSource_RequiresBrokers(t *testing.T) {
	_, err := NewKafkaSource(KafkaConfig{Topic: "x"})
	assert.Error(t, err)
	_, err = NewKafkaSource(KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
}
