package interceptor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	records []TrackingRecord
	err     error
}

func (r *recorder) TrackRequest(ctx context.Context, rec TrackingRecord) error {
	return r.add(rec)
}

func (r *recorder) RecordRequest(ctx context.Context, rec TrackingRecord) error {
	return r.add(rec)
}

func (r *recorder) add(rec TrackingRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return r.err
}

func (r *recorder) all() []TrackingRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TrackingRecord(nil), r.records...)
}

type steppingClock struct {
	t    time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	now := c.t
	c.t = c.t.Add(c.step)
	return now
}

type httpStatusErr struct{ code int }

func (e *httpStatusErr) Error() string   { return fmt.Sprintf("API error (status %d)", e.code) }
func (e *httpStatusErr) HTTPStatus() int { return e.code }

func newTestInterceptor(costs, sink *recorder) *Interceptor {
	clock := &steppingClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC), step: 120 * time.Millisecond}
	return New(costs, sink, WithClock(clock.Now), WithIDGenerator(func() string { return "req-1" }))
}

func TestInterceptSuccess(t *testing.T) {
	costs, sink := &recorder{}, &recorder{}
	icpt := newTestInterceptor(costs, sink)

	want := &Response{
		StatusCode: 200,
		Header:     http.Header{"X-Ratelimit-Remaining-Requests": []string{"99"}},
		Body:       []byte(`{"usage":{"prompt_tokens":12,"completion_tokens":30,"total_tokens":42}}`),
	}
	p := Params{ProviderID: "openai", ProviderName: "OpenAI", Endpoint: "/v1/chat/completions", Model: "gpt-4o", UserID: "u1", SessionID: "s1", RequestBytes: 80}

	got, err := icpt.Intercept(context.Background(), p, func(ctx context.Context) (*Response, error) {
		return want, nil
	})
	require.NoError(t, err)
	assert.Same(t, want, got)

	require.Len(t, costs.all(), 1)
	require.Len(t, sink.all(), 1)
	rec := costs.all()[0]
	assert.Equal(t, rec, sink.all()[0])

	assert.Equal(t, "req-1", rec.ID)
	assert.Equal(t, p, rec.Params)
	assert.True(t, rec.Success)
	assert.Empty(t, rec.ErrorMessage)
	assert.Equal(t, int64(120), rec.DurationMs)
	assert.Equal(t, TokenUsage{Input: 12, Output: 30, Total: 42}, rec.Usage)
	assert.Equal(t, 200, rec.StatusCode)
	assert.Equal(t, len(want.Body), rec.ResponseBytes)
	require.NotNil(t, rec.RateLimit)
	assert.Equal(t, 99, *rec.RateLimit.RequestsRemaining)
}

func TestInterceptFailureReturnsOriginalError(t *testing.T) {
	costs, sink := &recorder{}, &recorder{}
	icpt := newTestInterceptor(costs, sink)

	provErr := &httpStatusErr{code: 503}
	resp, err := icpt.Intercept(context.Background(), Params{ProviderID: "anthropic", Model: "claude-sonnet"},
		func(ctx context.Context) (*Response, error) { return nil, provErr })

	assert.Nil(t, resp)
	assert.Same(t, provErr, err)
	assert.Equal(t, provErr.Error(), err.Error())

	recs := costs.all()
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Success)
	assert.Equal(t, provErr.Error(), recs[0].ErrorMessage)
	assert.Equal(t, 503, recs[0].StatusCode)
	assert.Equal(t, TokenUsage{}, recs[0].Usage)
	assert.Nil(t, recs[0].RateLimit)
	assert.Len(t, sink.all(), 1)
}

func TestInterceptWrappedErrorIdentity(t *testing.T) {
	sentinel := errors.New("dial tcp: connection refused")
	icpt := New(nil, nil)

	_, err := icpt.Intercept(context.Background(), Params{}, func(ctx context.Context) (*Response, error) {
		return nil, fmt.Errorf("request failed: %w", sentinel)
	})
	assert.ErrorIs(t, err, sentinel)
}

func TestInterceptCollaboratorErrorsSwallowed(t *testing.T) {
	costs := &recorder{err: errors.New("db locked")}
	sink := &recorder{err: errors.New("sink down")}
	icpt := newTestInterceptor(costs, sink)

	resp, err := icpt.Intercept(context.Background(), Params{Model: "gpt-4o"}, func(ctx context.Context) (*Response, error) {
		return &Response{StatusCode: 200, Body: []byte(`{}`)}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Len(t, costs.all(), 1)
	assert.Len(t, sink.all(), 1)
}

func TestInterceptTracksAfterCancellation(t *testing.T) {
	costs := &recorder{}
	icpt := New(costs, nil)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := icpt.Intercept(ctx, Params{}, func(ctx context.Context) (*Response, error) {
		cancel()
		return nil, ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, costs.all(), 1)
	assert.False(t, costs.all()[0].Success)
}

func TestWrap(t *testing.T) {
	costs := &recorder{}
	icpt := New(costs, nil)

	calls := 0
	fn := icpt.Wrap(Params{ProviderID: "openai"}, func(ctx context.Context) (*Response, error) {
		calls++
		return &Response{StatusCode: 200}, nil
	})

	for i := 0; i < 3; i++ {
		_, err := fn(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 3, calls)

	recs := costs.all()
	require.Len(t, recs, 3)
	assert.NotEqual(t, recs[0].ID, recs[1].ID)
	assert.Equal(t, "openai", recs[2].ProviderID)
}

func TestInterceptTracksPanicAndRepanics(t *testing.T) {
	costs, sink := &recorder{}, &recorder{}
	icpt := newTestInterceptor(costs, sink)
	p := Params{ProviderID: "anthropic", Endpoint: "/v1/messages", Model: "claude-sonnet"}

	assert.PanicsWithValue(t, "decoder blew up", func() {
		_, _ = icpt.Intercept(context.Background(), p, func(ctx context.Context) (*Response, error) {
			panic("decoder blew up")
		})
	})

	for _, r := range []*recorder{costs, sink} {
		recs := r.all()
		require.Len(t, recs, 1)
		rec := recs[0]
		assert.False(t, rec.Success)
		assert.Equal(t, "panic: decoder blew up", rec.ErrorMessage)
		assert.Equal(t, "anthropic", rec.ProviderID)
		assert.Equal(t, int64(120), rec.DurationMs)
		assert.Zero(t, rec.Usage.Total)
	}
}
