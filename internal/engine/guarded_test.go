package engine

import (
	"context"
	"testing"
	"time"

	"fxdesk/internal/pkg/circuit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Analyze(ctx context.Context, req Request) (Result, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(Result), args.Error(1)
}

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) ObserveEngineCall(transport, outcome string, d time.Duration) {
	m.Called(transport, outcome)
}

func TestGuarded_RecordsOutcomes(t *testing.T) {
	inner := new(MockEngine)
	rec := new(MockRecorder)
	req := NewRequest("EURUSD", time.Now(), ModeQuick)
	inner.On("Analyze", mock.Anything, req).Return(Result{Raw: "{}"}, nil).Once()
	inner.On("Analyze", mock.Anything, req).Return(Result{}, unavailable(ReasonEngineError, nil, "boom")).Once()
	rec.On("ObserveEngineCall", "primary", "ok").Once()
	rec.On("ObserveEngineCall", "primary", "engine_error").Once()

	g := NewGuarded(inner, GuardOptions{Name: "primary", Recorder: rec})
	_, err := g.Analyze(context.Background(), req)
	require.NoError(t, err)
	_, err = g.Analyze(context.Background(), req)
	assert.True(t, IsUnavailable(err))

	inner.AssertExpectations(t)
	rec.AssertExpectations(t)
}

func TestGuarded_CircuitOpensOnRepeatedFailures(t *testing.T) {
	inner := new(MockEngine)
	req := NewRequest("EURUSD", time.Now(), ModeQuick)
	inner.On("Analyze", mock.Anything, req).Return(Result{}, unavailable(ReasonTransport, nil, "refused")).Twice()

	g := NewGuarded(inner, GuardOptions{Breaker: circuit.New("engine", 2, time.Hour)})
	for i := 0; i < 2; i++ {
		_, err := g.Analyze(context.Background(), req)
		require.Error(t, err)
	}
	_, err := g.Analyze(context.Background(), req)
	var ue *UnavailableError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, ReasonCircuitOpen, ue.Reason)
	inner.AssertNumberOfCalls(t, "Analyze", 2)
}

func TestGuarded_TimeoutBecomesUnavailable(t *testing.T) {
	slow := engineFunc(func(ctx context.Context, req Request) (Result, error) {
		<-ctx.Done()
		return Result{}, unavailable(ReasonCanceled, ctx.Err(), "")
	})
	g := NewGuarded(slow, GuardOptions{Timeout: 20 * time.Millisecond})
	_, err := g.Analyze(context.Background(), NewRequest("EURUSD", time.Now(), ModeQuick))
	var ue *UnavailableError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, ReasonTransport, ue.Reason)
	assert.False(t, IsCanceled(err))
}

func TestGuarded_CallerCancelStaysCanceled(t *testing.T) {
	slow := engineFunc(func(ctx context.Context, req Request) (Result, error) {
		<-ctx.Done()
		return Result{}, unavailable(ReasonCanceled, ctx.Err(), "")
	})
	g := NewGuarded(slow, GuardOptions{Timeout: time.Minute, Breaker: circuit.New("engine", 1, time.Hour)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Analyze(ctx, NewRequest("EURUSD", time.Now(), ModeQuick))
	assert.True(t, IsCanceled(err))
	assert.Equal(t, circuit.StateClosed, g.breaker.State())
}

type engineFunc func(ctx context.Context, req Request) (Result, error)

func (f engineFunc) Analyze(ctx context.Context, req Request) (Result, error) { return f(ctx, req) }
