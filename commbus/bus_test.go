package commbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestBus() *InMemoryCommBus {
	return NewInMemoryCommBus(30*time.Second, nil)
}

// countingHandler returns handler that counts calls
func countingHandler(counter *int32) HandlerFunc {
	return func(ctx context.Context, msg Message) (any, error) {
		atomic.AddInt32(counter, 1)
		return "ok", nil
	}
}

// failingHandler returns handler that always fails
func failingHandler(errMsg string) HandlerFunc {
	return func(ctx context.Context, msg Message) (any, error) {
		return nil, errors.New(errMsg)
	}
}

// slowHandler returns handler that sleeps
func slowHandler(duration time.Duration) HandlerFunc {
	return func(ctx context.Context, msg Message) (any, error) {
		time.Sleep(duration)
		return "ok", nil
	}
}

// abortingMiddleware aborts processing by returning nil
type abortingMiddleware struct{}

func (m *abortingMiddleware) Before(ctx context.Context, message Message) (Message, error) {
	return nil, nil // Abort
}

func (m *abortingMiddleware) After(ctx context.Context, message Message, result any, err error) (any, error) {
	return result, err
}

// =============================================================================
// PUBLISH / SUBSCRIBE
// =============================================================================

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	bus := newTestBus()
	var count1, count2 int32

	bus.Subscribe("TaskCompleted", countingHandler(&count1))
	bus.Subscribe("TaskCompleted", countingHandler(&count2))

	err := bus.Publish(context.Background(), &TaskCompleted{
		PlanID: "plan_1", TaskID: "task_1", Status: "success",
	})
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&count1))
	assert.Equal(t, int32(1), atomic.LoadInt32(&count2))
}

func TestPublishWithNoSubscribersSucceeds(t *testing.T) {
	bus := newTestBus()

	err := bus.Publish(context.Background(), &PlanCompiled{PlanID: "plan_1"})
	assert.NoError(t, err)
}

func TestPublishSubscriberErrorDoesNotStopOthers(t *testing.T) {
	bus := newTestBus()
	var count int32

	bus.Subscribe("TaskStarted", failingHandler("boom"))
	bus.Subscribe("TaskStarted", countingHandler(&count))

	err := bus.Publish(context.Background(), &TaskStarted{TaskID: "task_1"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&count))
}

func TestUrgentPublishDeliversInRegistrationOrder(t *testing.T) {
	bus := newTestBus()
	var mu sync.Mutex
	var order []string

	record := func(name string, delay time.Duration) HandlerFunc {
		return func(ctx context.Context, msg Message) (any, error) {
			time.Sleep(delay)
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil, nil
		}
	}

	// First subscriber is slow. Urgent delivery is sequential, so it must
	// still finish first.
	bus.Subscribe("GateDecisionMade", record("first", 20*time.Millisecond))
	bus.Subscribe("GateDecisionMade", record("second", 0))

	err := bus.Publish(context.Background(), &GateDecisionMade{
		ActionName: "purchase_flight", Decision: "prompt", RequiredLevel: 3,
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"first", "second"}, order)
}

func TestUrgentPublishCompletesBeforeReturn(t *testing.T) {
	bus := newTestBus()
	var delivered int32

	bus.Subscribe("InteractionRequested", countingHandler(&delivered))

	err := bus.Publish(context.Background(), &InteractionRequested{
		PromptID: "int_1", Level: 2, Title: "Approve purchase",
	})
	require.NoError(t, err)

	// No wait: urgent events are delivered synchronously.
	assert.Equal(t, int32(1), atomic.LoadInt32(&delivered))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := newTestBus()
	var count int32

	unsubscribe := bus.Subscribe("TaskCompleted", countingHandler(&count))
	require.NoError(t, bus.Publish(context.Background(), &TaskCompleted{TaskID: "task_1"}))

	unsubscribe()
	require.NoError(t, bus.Publish(context.Background(), &TaskCompleted{TaskID: "task_1"}))

	assert.Equal(t, int32(1), atomic.LoadInt32(&count))
}

func TestUnsubscribeAfterEarlierUnsubscribeRemovesRightSubscriber(t *testing.T) {
	bus := newTestBus()
	var count1, count2, count3 int32

	unsub1 := bus.Subscribe("TaskCompleted", countingHandler(&count1))
	unsub2 := bus.Subscribe("TaskCompleted", countingHandler(&count2))
	bus.Subscribe("TaskCompleted", countingHandler(&count3))

	// Removing the first subscriber shifts the slice; removing the second
	// must still target the right handler.
	unsub1()
	unsub2()

	require.NoError(t, bus.Publish(context.Background(), &TaskCompleted{TaskID: "task_1"}))

	assert.Equal(t, int32(0), atomic.LoadInt32(&count1))
	assert.Equal(t, int32(0), atomic.LoadInt32(&count2))
	assert.Equal(t, int32(1), atomic.LoadInt32(&count3))
}

// =============================================================================
// COMMANDS
// =============================================================================

func TestSendInvokesSingleHandler(t *testing.T) {
	bus := newTestBus()
	var count int32

	require.NoError(t, bus.RegisterHandler("ExpirePrompts", countingHandler(&count)))

	err := bus.Send(context.Background(), &ExpirePrompts{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&count))
}

func TestSendWithNoHandlerSucceeds(t *testing.T) {
	bus := newTestBus()

	err := bus.Send(context.Background(), &ExpirePrompts{})
	assert.NoError(t, err)
}

// =============================================================================
// QUERIES
// =============================================================================

func TestQuerySyncReturnsHandlerResult(t *testing.T) {
	bus := newTestBus()

	err := bus.RegisterHandler("GetRetryRule", func(ctx context.Context, msg Message) (any, error) {
		q, ok := msg.(*GetRetryRule)
		require.True(t, ok)
		assert.Equal(t, "web:example.com", q.Scope)
		return &RetryRuleResponse{Found: true, MinDelayMS: 1000, MaxDelayMS: 5000}, nil
	})
	require.NoError(t, err)

	result, err := bus.QuerySync(context.Background(), &GetRetryRule{
		Scope: "web:example.com", Pattern: "rate_limited",
	})
	require.NoError(t, err)

	resp, ok := result.(*RetryRuleResponse)
	require.True(t, ok)
	assert.True(t, resp.Found)
	assert.Equal(t, 1000, resp.MinDelayMS)
}

func TestQuerySyncWithNoHandlerFails(t *testing.T) {
	bus := newTestBus()

	_, err := bus.QuerySync(context.Background(), &GetAvoidanceList{})
	require.Error(t, err)

	var noHandler *NoHandlerError
	assert.ErrorAs(t, err, &noHandler)
}

func TestQuerySyncTimesOut(t *testing.T) {
	bus := NewInMemoryCommBus(50*time.Millisecond, nil)

	require.NoError(t, bus.RegisterHandler("GetAvoidanceList", slowHandler(500*time.Millisecond)))

	_, err := bus.QuerySync(context.Background(), &GetAvoidanceList{})
	require.Error(t, err)

	var timeout *QueryTimeoutError
	assert.ErrorAs(t, err, &timeout)
}

func TestRegisterHandlerRejectsDuplicates(t *testing.T) {
	bus := newTestBus()
	var count int32

	require.NoError(t, bus.RegisterHandler("GetRetryRule", countingHandler(&count)))

	err := bus.RegisterHandler("GetRetryRule", countingHandler(&count))
	require.Error(t, err)

	var dup *HandlerAlreadyRegisteredError
	assert.ErrorAs(t, err, &dup)
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func TestAbortingMiddlewareBlocksDelivery(t *testing.T) {
	bus := newTestBus()
	var count int32

	bus.Subscribe("TaskStarted", countingHandler(&count))
	bus.AddMiddleware(&abortingMiddleware{})

	require.NoError(t, bus.Publish(context.Background(), &TaskStarted{TaskID: "task_1"}))
	assert.Equal(t, int32(0), atomic.LoadInt32(&count))
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	bus := newTestBus()
	cb := NewCircuitBreakerMiddleware(2, time.Minute, nil, nil)
	bus.AddMiddleware(cb)

	require.NoError(t, bus.RegisterHandler("ExpirePrompts", failingHandler("boom")))

	// Two failures open the circuit.
	_ = bus.Send(context.Background(), &ExpirePrompts{})
	_ = bus.Send(context.Background(), &ExpirePrompts{})

	states := cb.GetStates()
	assert.Equal(t, "open", states["ExpirePrompts"])

	// Open circuit blocks subsequent sends.
	err := bus.Send(context.Background(), &ExpirePrompts{})
	assert.NoError(t, err)
}

// =============================================================================
// INTROSPECTION
// =============================================================================

func TestIntrospection(t *testing.T) {
	bus := newTestBus()
	var count int32

	require.NoError(t, bus.RegisterHandler("GetRetryRule", countingHandler(&count)))
	bus.Subscribe("TaskCompleted", countingHandler(&count))

	assert.True(t, bus.HasHandler("GetRetryRule"))
	assert.False(t, bus.HasHandler("GetAvoidanceList"))
	assert.Len(t, bus.GetSubscribers("TaskCompleted"), 1)
	assert.ElementsMatch(t, []string{"GetRetryRule", "TaskCompleted"}, bus.GetRegisteredTypes())

	bus.Clear()
	assert.False(t, bus.HasHandler("GetRetryRule"))
	assert.Empty(t, bus.GetSubscribers("TaskCompleted"))
}
