package correlation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lfcbot/lfc/internal/envelope"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []envelope.Envelope
	err  error
	hook func(envelope.Envelope)
}

func (s *recordingSender) Send(env envelope.Envelope) error {
	s.mu.Lock()
	s.sent = append(s.sent, env)
	hook, err := s.hook, s.err
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if hook != nil {
		go hook(env)
	}
	return nil
}

func (s *recordingSender) last() envelope.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[len(s.sent)-1]
}

func fixedID(id string) Option {
	return WithIDGenerator(func() string { return id })
}

func TestCall_Completed(t *testing.T) {
	sender := &recordingSender{}
	table := New(sender, "RestApiWorker", fixedID("c1"))
	sender.hook = func(env envelope.Envelope) {
		reply, _ := envelope.New(env.MessageID, envelope.StatusCompleted).WithData(map[string]string{"id": "h1"})
		reply.Destination = env.ReturnPath()
		table.Resolve(reply)
	}

	res, err := table.Call(context.Background(),
		[]string{"DatabaseInteractionWorker/createNewHistory"}, map[string]string{"projectId": "p"})
	require.NoError(t, err)

	assert.Equal(t, "c1", res.MessageID)
	assert.True(t, res.OK())
	var out map[string]string
	require.NoError(t, res.Decode(&out))
	assert.Equal(t, "h1", out["id"])
	assert.Zero(t, table.Pending())

	sent := sender.last()
	assert.Equal(t, envelope.StatusProcessing, sent.Status)
	assert.Equal(t, []string{
		"DatabaseInteractionWorker/createNewHistory",
		"RestApiWorker/onProcessed",
	}, sent.Destination)
	assert.JSONEq(t, `{"projectId":"p"}`, string(sent.Data))
}

func TestCall_FailedBusy(t *testing.T) {
	sender := &recordingSender{}
	table := New(sender, "RestApiWorker")
	sender.hook = func(env envelope.Envelope) {
		reply := envelope.New(env.MessageID, envelope.StatusFailed)
		reply.Reason = envelope.ReasonServerBusy
		table.Resolve(reply)
	}

	res, err := table.Call(context.Background(), []string{"CRAGWorker/generateAnswer/x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, envelope.StatusFailed, res.Status)
	assert.Equal(t, envelope.ReasonServerBusy, res.Reason)
	assert.Nil(t, res.Result)
}

func TestCall_TimeoutPurgesAndLateReplyIsUnmatched(t *testing.T) {
	sender := &recordingSender{}
	table := New(sender, "RestApiWorker", fixedID("late"), WithTimeout(30*time.Millisecond))

	start := time.Now()
	res, err := table.Call(context.Background(), []string{"Slow/work"}, nil)
	require.NoError(t, err)
	assert.Equal(t, envelope.StatusTimeout, res.Status)
	assert.Nil(t, res.Result)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Zero(t, table.Pending())

	late := envelope.New("late", envelope.StatusCompleted)
	assert.False(t, table.Resolve(late))
}

func TestCall_SendError(t *testing.T) {
	sender := &recordingSender{err: errors.New("pipe closed")}
	table := New(sender, "RestApiWorker")

	_, err := table.Call(context.Background(), []string{"X/y"}, nil)
	require.Error(t, err)
	assert.Zero(t, table.Pending())
}

func TestCall_ContextCanceled(t *testing.T) {
	sender := &recordingSender{}
	table := New(sender, "RestApiWorker")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := table.Call(ctx, []string{"X/y"}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, table.Pending())
}

func TestResolve_ConsumedOnce(t *testing.T) {
	sender := &recordingSender{}
	table := New(sender, "RestApiWorker", fixedID("once"))

	matched := make(chan bool, 2)
	sender.hook = func(env envelope.Envelope) {
		reply := envelope.New(env.MessageID, envelope.StatusCompleted)
		matched <- table.Resolve(reply)
		matched <- table.Resolve(reply)
	}

	res, err := table.Call(context.Background(), []string{"X/y"}, nil)
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.True(t, <-matched)
	assert.False(t, <-matched)
}

func TestResolve_UnknownID(t *testing.T) {
	table := New(&recordingSender{}, "RestApiWorker")
	assert.False(t, table.Resolve(envelope.New("nobody", envelope.StatusCompleted)))
}

func TestResolve_IgnoresDestination(t *testing.T) {
	sender := &recordingSender{}
	table := New(sender, "RestApiWorker", fixedID("d1"))
	sender.hook = func(env envelope.Envelope) {
		reply := envelope.New(env.MessageID, envelope.StatusCompleted)
		reply.Destination = []string{"Somewhere/else"}
		table.Resolve(reply)
	}

	res, err := table.Call(context.Background(), []string{"X/y"}, nil)
	require.NoError(t, err)
	assert.True(t, res.OK())
}

func TestCall_ConcurrentCallsResolveIndependently(t *testing.T) {
	sender := &recordingSender{}
	table := New(sender, "RestApiWorker")
	sender.hook = func(env envelope.Envelope) {
		reply, _ := envelope.New(env.MessageID, envelope.StatusCompleted).WithData(env.MessageID)
		table.Resolve(reply)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := table.Call(context.Background(), []string{"X/y"}, nil)
			if !assert.NoError(t, err) {
				return
			}
			var echoed string
			assert.NoError(t, res.Decode(&echoed))
			assert.Equal(t, res.MessageID, echoed)
		}()
	}
	wg.Wait()
	assert.Zero(t, table.Pending())
}

func TestNew_ReturnRoute(t *testing.T) {
	table := New(&recordingSender{}, "RestApiWorker")
	assert.Equal(t, "RestApiWorker/onProcessed", table.ReturnRoute())
}
