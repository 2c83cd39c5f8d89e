package endpoint

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"mini-xpc/codec"
	"mini-xpc/message"
	"mini-xpc/object"
	"mini-xpc/registry"
	"mini-xpc/transport"
)

// fakeTransport records what the endpoint sends and lets the test play the peer.
type fakeTransport struct {
	mu     sync.Mutex
	recv   transport.Receiver
	sent   chan *message.Message
	closed bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sent: make(chan *message.Message, 128)}
}

func (f *fakeTransport) Start(r transport.Receiver) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recv = r
	return nil
}

func (f *fakeTransport) Send(m *message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return transport.ErrClosed
	}
	f.sent <- m
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) next(t *testing.T) *message.Message {
	t.Helper()
	select {
	case m := <-f.sent:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a sent message")
		return nil
	}
}

func newActive(t *testing.T, tr transport.Transport, opts ...Option) *Endpoint {
	t.Helper()
	opts = append([]Option{WithLogger(zap.NewNop()), WithRegistry(registry.New())}, opts...)
	e := New(tr, opts...)
	if err := e.Activate(); err != nil {
		t.Fatal(err)
	}
	return e
}

// pair connects two activated endpoints through an in-memory pipe.
func pair(t *testing.T, serverOpts ...Option) (client, server *Endpoint) {
	t.Helper()
	a, b := transport.NewPipe()
	client = newActive(t, a)
	server = newActive(t, b, serverOpts...)
	t.Cleanup(func() {
		client.Cancel()
		server.Cancel()
	})
	return client, server
}

func square(ctx context.Context, n int) (int, error) { return n * n, nil }

func TestTwoWayCall(t *testing.T) {
	client, server := pair(t)
	if err := Handle(server, "square", square); err != nil {
		t.Fatal(err)
	}
	got, err := Call[int](context.Background(), client, "square", 7)
	if err != nil || got != 49 {
		t.Fatalf("got %d, %v", got, err)
	}

	// Re-registration replaces the handler.
	Handle(server, "square", func(ctx context.Context, n int) (int, error) { return -n, nil })
	if got, _ = Call[int](context.Background(), client, "square", 7); got != -7 {
		t.Fatalf("after replace: %d", got)
	}
}

func TestRepliesInReverseOrder(t *testing.T) {
	const n = 16
	ft := newFakeTransport()
	e := newActive(t, ft)

	results := make([]int, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = Call[int](context.Background(), e, "square", i)
		}(i)
	}

	reqs := make([]*message.Message, n)
	for i := range reqs {
		reqs[i] = ft.next(t)
	}
	seen := make(map[uint64]bool)
	for i := n - 1; i >= 0; i-- {
		req := reqs[i]
		if seen[req.Seq] {
			t.Fatalf("duplicate correlation token %d", req.Seq)
		}
		seen[req.Seq] = true
		arg, err := codec.DecodeAs[int](req.Body)
		if err != nil {
			t.Fatal(err)
		}
		body, _ := codec.Encode(arg * arg)
		ft.recv.Deliver(message.NewReply(req, body))
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil || results[i] != i*i {
			t.Errorf("caller %d: got %d, %v", i, results[i], errs[i])
		}
	}
}

func TestCancelResolvesPending(t *testing.T) {
	const k = 8
	ft := newFakeTransport()
	e := newActive(t, ft)

	errs := make(chan error, k)
	for i := 0; i < k; i++ {
		go func() {
			errs <- e.SendTwoWay(context.Background(), "wait", codec.Null{}, nil)
		}()
	}
	for i := 0; i < k; i++ {
		ft.next(t)
	}
	e.Cancel()

	for i := 0; i < k; i++ {
		select {
		case err := <-errs:
			var ci *registry.ConnectionInvalidError
			if !errors.As(err, &ci) {
				t.Fatalf("call %d: got %v", i, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("pending call not resolved")
		}
	}

	if err := e.SendTwoWay(context.Background(), "x", 1, nil); !errors.Is(err, registry.ErrConnectionInvalid) {
		t.Fatalf("two-way after cancel: %v", err)
	}
	if err := e.SendOneWay(context.Background(), "x", 1); !errors.Is(err, registry.ErrConnectionInvalid) {
		t.Fatalf("one-way after cancel: %v", err)
	}
	if err := e.SetHandler("x", nil); !errors.Is(err, ErrCancelled) {
		t.Fatalf("register after cancel: %v", err)
	}
	if e.State() != Cancelled {
		t.Fatalf("state: %v", e.State())
	}
	select {
	case <-e.Done():
	default:
		t.Fatal("Done not closed")
	}
	e.Cancel()
}

func TestHandlerNotFound(t *testing.T) {
	client, server := pair(t)
	Handle(server, "echo", func(ctx context.Context, s string) (string, error) { return s, nil })

	err := client.SendTwoWay(context.Background(), "missing", codec.Null{}, nil)
	var hnf *registry.HandlerNotFoundError
	if !errors.As(err, &hnf) || hnf.Name != "missing" {
		t.Fatalf("got %T %v", err, err)
	}

	// The receiver keeps serving.
	got, err := Call[string](context.Background(), client, "echo", "still here")
	if err != nil || got != "still here" {
		t.Fatalf("got %q, %v", got, err)
	}
	if server.State() != Activated {
		t.Fatalf("server state: %v", server.State())
	}
}

func TestOneWay(t *testing.T) {
	serverErrs := make(chan error, 1)
	client, server := pair(t, WithErrorHandler(func(err error) { serverErrs <- err }))

	lines := make(chan string, 1)
	Handle(server, "log", func(ctx context.Context, line string) (codec.Null, error) {
		lines <- line
		return codec.Null{}, nil
	})

	if err := client.Notify("log", "hello"); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-lines:
		if got != "hello" {
			t.Fatalf("got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("one-way message not handled")
	}

	if err := client.SendOneWay(context.Background(), "nobody", 1); err != nil {
		t.Fatalf("one-way to unknown handler must not fail the sender: %v", err)
	}
	select {
	case err := <-serverErrs:
		if !errors.Is(err, registry.ErrHandlerNotFound) {
			t.Fatalf("got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("missing handler not reported")
	}
}

type LockedError struct {
	Path  string `xpc:"path"`
	Owner uint32 `xpc:"owner"`
}

func (e *LockedError) Error() string  { return e.Path + " is locked" }
func (e *LockedError) ErrorCode() int { return 11 }

func TestRemoteErrors(t *testing.T) {
	reg := registry.New()
	reg.Register((*LockedError)(nil))
	a, b := transport.NewPipe()
	client := newActive(t, a, WithRegistry(reg))
	server := newActive(t, b, WithRegistry(reg))
	defer client.Cancel()

	Handle(server, "lock", func(ctx context.Context, path string) (codec.Null, error) {
		return codec.Null{}, &LockedError{Path: path, Owner: 42}
	})
	Handle(server, "fail", func(ctx context.Context, _ codec.Null) (codec.Null, error) {
		return codec.Null{}, errors.New("plain failure")
	})
	Handle(server, "number", square)

	err := client.SendTwoWay(context.Background(), "lock", "/tmp/x", nil)
	var le *LockedError
	if !errors.As(err, &le) || le.Owner != 42 || le.Path != "/tmp/x" {
		t.Fatalf("registered error: %T %v", err, err)
	}

	err = client.SendTwoWay(context.Background(), "fail", codec.Null{}, nil)
	var be *registry.BoxedError
	if !errors.As(err, &be) || be.Message != "plain failure" || be.Inner != nil {
		t.Fatalf("unregistered error: %T %v", err, err)
	}

	// A request the handler cannot decode comes back as a boxed codec error.
	err = client.SendTwoWay(context.Background(), "number", "seven", nil)
	if registry.Code(err) != codec.CodeTypeMismatch {
		t.Fatalf("decode failure: %v (code %d)", err, registry.Code(err))
	}

	// A reply the caller cannot decode fails locally.
	var s string
	err = client.SendTwoWay(context.Background(), "number", 3, &s)
	if !errors.Is(err, codec.ErrTypeMismatch) {
		t.Fatalf("reply decode: %v", err)
	}
}

func TestSuspendQueuesRequests(t *testing.T) {
	client, server := pair(t)
	ran := make(chan struct{}, 1)
	Handle(server, "ping", func(ctx context.Context, _ codec.Null) (string, error) {
		ran <- struct{}{}
		return "pong", nil
	})

	if err := server.Suspend(); err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() {
		_, err := Call[string](context.Background(), client, "ping", codec.Null{})
		done <- err
	}()

	select {
	case <-ran:
		t.Fatal("handler ran while suspended")
	case <-time.After(50 * time.Millisecond):
	}

	// A suspended endpoint can still call out and receive replies.
	Handle(client, "time", func(ctx context.Context, _ codec.Null) (int64, error) { return 1, nil })
	if _, err := Call[int64](context.Background(), server, "time", codec.Null{}); err != nil {
		t.Fatalf("call from suspended endpoint: %v", err)
	}

	if err := server.Resume(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queued request not dispatched after resume")
	}
}

func TestCancelDuringHandler(t *testing.T) {
	client, server := pair(t)
	started := make(chan struct{})
	stopped := make(chan error, 1)
	server.SetHandler("block", func(ctx context.Context, m *message.Message) (object.Object, error) {
		close(started)
		<-ctx.Done()
		stopped <- ctx.Err()
		return object.Null(), nil
	})

	callErr := make(chan error, 1)
	go func() {
		callErr <- client.SendTwoWay(context.Background(), "block", codec.Null{}, nil)
	}()
	<-started
	server.Cancel()

	select {
	case err := <-stopped:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("handler context: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler context not cancelled")
	}
	server.Wait()

	// Closing the pipe tears down the client as well.
	select {
	case err := <-callErr:
		if !errors.Is(err, registry.ErrConnectionInvalid) {
			t.Fatalf("client call: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client call not resolved")
	}
	<-client.Done()
}

func TestCallerContext(t *testing.T) {
	ft := newFakeTransport()
	e := newActive(t, ft)
	defer e.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := e.SendTwoWay(ctx, "slow", 1, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v", err)
	}

	// A late reply finds no pending entry and is dropped.
	req := ft.next(t)
	ft.recv.Deliver(message.NewReply(req, object.Null()))
}

func TestStateTransitions(t *testing.T) {
	ft := newFakeTransport()
	e := New(ft, WithLogger(zap.NewNop()))

	if err := e.SendOneWay(context.Background(), "x", 1); !errors.Is(err, ErrNotActivated) {
		t.Fatalf("send while idle: %v", err)
	}
	if err := e.Resume(); !errors.Is(err, ErrBadState) {
		t.Fatalf("resume while idle: %v", err)
	}
	if err := e.Activate(); err != nil {
		t.Fatal(err)
	}
	if err := e.Activate(); !errors.Is(err, ErrBadState) {
		t.Fatalf("second activate: %v", err)
	}
	if err := e.Suspend(); err != nil {
		t.Fatal(err)
	}
	if err := e.Suspend(); !errors.Is(err, ErrBadState) {
		t.Fatalf("second suspend: %v", err)
	}
	if err := e.SendOneWay(context.Background(), "x", 1); err != nil {
		t.Fatalf("send while suspended: %v", err)
	}
	e.Cancel()
	if err := e.Resume(); !errors.Is(err, ErrBadState) {
		t.Fatalf("resume after cancel: %v", err)
	}
}

func TestEncodeErrorIsLocal(t *testing.T) {
	ft := newFakeTransport()
	e := newActive(t, ft)
	defer e.Cancel()
	if err := e.SendTwoWay(context.Background(), "x", make(chan int), nil); !errors.Is(err, codec.ErrInvalidValue) {
		t.Fatalf("got %v", err)
	}
	select {
	case m := <-ft.sent:
		t.Fatalf("unencodable request was sent: %v", m)
	default:
	}
}

func TestUnsendableReplyFailsCaller(t *testing.T) {
	c1, c2 := net.Pipe()
	opts := []transport.StreamOption{transport.WithLogger(zap.NewNop()), transport.WithHeartbeat(0)}
	client := newActive(t, transport.NewStream(c1, opts...))
	server := newActive(t, transport.NewStream(c2, opts...))
	defer client.Cancel()
	defer server.Cancel()

	server.SetHandler("fd", func(context.Context, *message.Message) (object.Object, error) {
		return object.FileHandle(os.Stdin), nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := client.SendTwoWay(ctx, "fd", nil, nil)
	var boxed *registry.BoxedError
	if !errors.As(err, &boxed) || !strings.Contains(boxed.Message, "not transferable") {
		t.Fatalf("got %v", err)
	}
}

func TestUndecodableMessages(t *testing.T) {
	ft := newFakeTransport()
	e := newActive(t, ft)
	defer e.Cancel()

	ft.recv.Deliver(&message.Message{Type: message.TypeRequest, Seq: 5, Err: errors.New("bad body")})
	reply := ft.next(t)
	if reply.Seq != 5 || !reply.Failed {
		t.Fatalf("got %v", reply)
	}
	if code := registry.Code(e.Registry().Unbox(reply.Body)); code != codec.CodeDataCorrupted {
		t.Fatalf("code %d", code)
	}

	errc := make(chan error, 1)
	go func() {
		errc <- e.SendTwoWay(context.Background(), "square", 2, nil)
	}()
	req := ft.next(t)
	ft.recv.Deliver(&message.Message{Type: message.TypeReply, Seq: req.Seq, Err: errors.New("bad body")})
	select {
	case err := <-errc:
		if !errors.Is(err, codec.ErrDataCorrupted) {
			t.Fatalf("got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("call not resolved")
	}
}

func TestHandlerPanic(t *testing.T) {
	client, server := pair(t)
	server.SetHandler("boom", func(context.Context, *message.Message) (object.Object, error) {
		panic("kaput")
	})
	Handle(server, "square", square)

	err := client.SendTwoWay(context.Background(), "boom", nil, nil)
	var hp *registry.HandlerPanicError
	if !errors.As(err, &hp) || hp.Name != "boom" || hp.Value != "kaput" {
		t.Fatalf("got %v", err)
	}
	if got, err := Call[int](context.Background(), client, "square", 3); err != nil || got != 9 {
		t.Fatalf("after panic: %d, %v", got, err)
	}
}

// eagerTransport delivers a request from inside Start, before Activate returns.
type eagerTransport struct {
	*fakeTransport
	early *message.Message
}

func (t *eagerTransport) Start(r transport.Receiver) error {
	t.fakeTransport.Start(r)
	r.Deliver(t.early)
	return nil
}

func TestRequestDuringActivate(t *testing.T) {
	body, _ := codec.Encode(4)
	et := &eagerTransport{fakeTransport: newFakeTransport(), early: message.NewRequest(3, "square", body)}
	e := New(et, WithLogger(zap.NewNop()), WithRegistry(registry.New()))
	defer e.Cancel()
	Handle(e, "square", square)
	if err := e.Activate(); err != nil {
		t.Fatal(err)
	}
	reply := et.next(t)
	got, err := codec.DecodeAs[int](reply.Body)
	if reply.Seq != 3 || err != nil || got != 16 {
		t.Fatalf("got %v %d %v", reply, got, err)
	}
}
