package middleware

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"mini-xpc/codec"
	"mini-xpc/message"
	"mini-xpc/object"
	"mini-xpc/registry"
)

// echoHandler returns the request body unchanged.
func echoHandler(ctx context.Context, req *message.Message) (object.Object, error) {
	return req.Body, nil
}

// slowHandler sleeps for 200ms unless its context ends first.
func slowHandler(ctx context.Context, req *message.Message) (object.Object, error) {
	select {
	case <-time.After(200 * time.Millisecond):
	case <-ctx.Done():
	}
	return object.String("late"), nil
}

func newReq() *message.Message {
	return message.NewRequest(1, "arith.add", object.String("ok"))
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	handler := Logging(zap.New(core))(echoHandler)

	out, err := handler(context.Background(), newReq())
	if err != nil || !object.Equal(out, object.String("ok")) {
		t.Fatalf("got %v, %v", out, err)
	}

	failing := Logging(zap.New(core))(func(context.Context, *message.Message) (object.Object, error) {
		return object.Object{}, errors.New("boom")
	})
	if _, err := failing(context.Background(), newReq()); err == nil {
		t.Fatal("expected error")
	}

	if logs.FilterMessage("handled").Len() != 1 {
		t.Fatalf("missing success entry: %v", logs.All())
	}
	entries := logs.FilterMessage("handler failed").All()
	if len(entries) != 1 || entries[0].ContextMap()["name"] != "arith.add" {
		t.Fatalf("missing failure entry: %v", logs.All())
	}
}

func TestTimeoutPass(t *testing.T) {
	handler := Timeout(500 * time.Millisecond)(echoHandler)
	if _, err := handler(context.Background(), newReq()); err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	handler := Timeout(50 * time.Millisecond)(slowHandler)
	_, err := handler(context.Background(), newReq())
	var te *TimeoutError
	if !errors.As(err, &te) || te.Name != "arith.add" || te.Limit != 50*time.Millisecond {
		t.Fatalf("expect timeout error, got %v", err)
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1/s, burst=2: the first two pass, the third is rejected.
	handler := RateLimit(1, 2)(echoHandler)
	for i := 0; i < 2; i++ {
		if _, err := handler(context.Background(), newReq()); err != nil {
			t.Fatalf("request %d should pass, got %v", i, err)
		}
	}
	_, err := handler(context.Background(), newReq())
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("request 3 should be rate limited, got %v", err)
	}
}

func TestRetry(t *testing.T) {
	var calls atomic.Int32
	flaky := func(context.Context, *message.Message) (object.Object, error) {
		if calls.Add(1) < 3 {
			return object.Object{}, &RateLimitError{Name: "x"}
		}
		return object.Bool(true), nil
	}
	out, err := Retry(5, time.Millisecond, zap.NewNop())(flaky)(context.Background(), newReq())
	if err != nil || !object.Equal(out, object.Bool(true)) || calls.Load() != 3 {
		t.Fatalf("got %v, %v after %d calls", out, err, calls.Load())
	}

	calls.Store(0)
	permanent := func(context.Context, *message.Message) (object.Object, error) {
		calls.Add(1)
		return object.Object{}, &codec.DataCorruptedError{Msg: "bad"}
	}
	if _, err := Retry(5, time.Millisecond, zap.NewNop())(permanent)(context.Background(), newReq()); err == nil || calls.Load() != 1 {
		t.Fatalf("codec error retried: %d calls", calls.Load())
	}
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *message.Message) (object.Object, error) {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}
	handler := Chain(mark("a"), Logging(zap.NewNop()), mark("b"), Timeout(500*time.Millisecond))(echoHandler)
	if _, err := handler(context.Background(), newReq()); err != nil {
		t.Fatal(err)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("order: %v", order)
	}
}

func TestErrorsCrossRegistry(t *testing.T) {
	r := registry.New()
	RegisterErrors(r)
	err := r.Unbox(r.Box(&TimeoutError{Name: "slow", Limit: time.Second}))
	var te *TimeoutError
	if !errors.As(err, &te) || te.Limit != time.Second {
		t.Fatalf("got %T %v", err, err)
	}
}
