package scriptipc

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/Query-farm/script-ipc/scriptipc/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPipes joins a client and a server channel with two in-memory pipes.
type testPipes struct {
	client, server *Channel

	c2sR *io.PipeReader // server reads requests
	c2sW *io.PipeWriter // client writes requests
	s2cR *io.PipeReader // client reads responses
	s2cW *io.PipeWriter // server writes responses
}

func newTestPipes() *testPipes {
	p := &testPipes{}
	p.c2sR, p.c2sW = io.Pipe()
	p.s2cR, p.s2cW = io.Pipe()
	p.client = NewChannel(p.s2cR, p.c2sW)
	p.server = NewChannel(p.c2sR, p.s2cW)
	return p
}

// serve runs Execute with h and returns a channel yielding its result.
// The server's writer is closed when Execute returns.
func serve[Req, Resp any](p *testPipes, h Serve[Req, Resp]) <-chan error {
	done := make(chan error, 1)
	go func() {
		err := Execute(context.Background(), p.server, h)
		_ = p.s2cW.Close()
		done <- err
	}()
	return done
}

type shoutHandler struct{}

func (shoutHandler) Serve(_ context.Context, req string) (string, error) {
	switch req {
	case "fail":
		return "", errors.New("fail requested")
	case "proto":
		return "", &ProtocolError{Code: 9, Message: "custom code"}
	case "panic":
		panic("handler exploded")
	}
	return strings.ToUpper(req), nil
}

func (shoutHandler) Method(req string) string {
	return "shout"
}

func TestCallAndExecute(t *testing.T) {
	p := newTestPipes()
	done := serve[string, string](p, shoutHandler{})
	ctx := context.Background()

	resp, err := Call[string, string](ctx, p.client, "shout", "hello")
	require.NoError(t, err)
	assert.Equal(t, "HELLO", resp)

	resp, err = Call[string, string](ctx, p.client, "shout", "")
	require.NoError(t, err)
	assert.Equal(t, "", resp)

	p.c2sW.Close()
	require.NoError(t, <-done)
}

func TestHandlerErrors(t *testing.T) {
	p := newTestPipes()
	done := serve[string, string](p, shoutHandler{})
	ctx := context.Background()

	_, err := Call[string, string](ctx, p.client, "shout", "fail")
	var perr *ProtocolError
	require.True(t, errors.As(err, &perr), "got %v", err)
	assert.Equal(t, CodeHandlerError, perr.Code)
	assert.Equal(t, "fail requested", perr.Message)

	_, err = Call[string, string](ctx, p.client, "shout", "proto")
	require.True(t, errors.As(err, &perr), "got %v", err)
	assert.Equal(t, ErrorCode(9), perr.Code)
	assert.Equal(t, "custom code", perr.Message)

	_, err = Call[string, string](ctx, p.client, "shout", "panic")
	require.True(t, errors.As(err, &perr), "got %v", err)
	assert.Equal(t, CodeHandlerError, perr.Code)
	assert.Contains(t, perr.Message, "handler exploded")

	resp, err := Call[string, string](ctx, p.client, "shout", "still here")
	require.NoError(t, err)
	assert.Equal(t, "STILL HERE", resp)

	p.c2sW.Close()
	require.NoError(t, <-done)
}

func TestDeserializeErrorKeepsServing(t *testing.T) {
	p := newTestPipes()
	p.client.SetCodec(codec.JSON())
	p.server.SetCodec(codec.JSON())
	double := ServeFunc[int, int](func(_ context.Context, n int) (int, error) { return n * 2, nil })
	done := serve[int, int](p, double)
	ctx := context.Background()

	_, err := Call[string, int](ctx, p.client, "double", "not a number")
	var perr *ProtocolError
	require.True(t, errors.As(err, &perr), "got %v", err)
	assert.Equal(t, CodeDeserializeError, perr.Code)
	assert.NotEmpty(t, perr.Message)

	n, err := Call[int, int](ctx, p.client, "double", 21)
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	p.c2sW.Close()
	require.NoError(t, <-done)
}

func TestExecuteMidFrameClose(t *testing.T) {
	p := newTestPipes()
	done := serve[string, string](p, shoutHandler{})

	// Declares five payload bytes, sends one.
	_, err := p.c2sW.Write([]byte{0x05, 'a'})
	require.NoError(t, err)
	p.c2sW.Close()

	err = <-done
	assert.ErrorIs(t, err, ErrUnexpectedEOF)
}

func TestExecuteMidLengthClose(t *testing.T) {
	p := newTestPipes()
	done := serve[string, string](p, shoutHandler{})

	_, err := p.c2sW.Write([]byte{0x80})
	require.NoError(t, err)
	p.c2sW.Close()

	err = <-done
	assert.ErrorIs(t, err, ErrIncompleteVlqSeq)
}

func TestCallServerGoneBeforeWrite(t *testing.T) {
	p := newTestPipes()
	p.c2sR.Close()

	_, err := Call[string, string](context.Background(), p.client, "shout", "hello")
	var perr *ProtocolError
	require.True(t, errors.As(err, &perr), "got %v", err)
	assert.Equal(t, CodeOtherEndClosed, perr.Code)
}

func TestCallServerGoneBeforeResponse(t *testing.T) {
	p := newTestPipes()
	go func() {
		_, _ = p.server.ReceiveRequest()
		p.s2cW.Close()
	}()

	_, err := Call[string, string](context.Background(), p.client, "shout", "hello")
	var perr *ProtocolError
	require.True(t, errors.As(err, &perr), "got %v", err)
	assert.Equal(t, CodeOtherEndClosed, perr.Code)
}

func TestCallTruncatedResponse(t *testing.T) {
	p := newTestPipes()
	go func() {
		_, _ = p.server.ReceiveRequest()
		_, _ = p.s2cW.Write([]byte{0, 0, 0})
		p.s2cW.Close()
	}()

	_, err := Call[string, string](context.Background(), p.client, "shout", "hello")
	assert.ErrorIs(t, err, ErrUnexpectedEOF)
	assert.False(t, errors.Is(err, ErrProtocol))
}

func TestExecuteClientGoneBeforeResponse(t *testing.T) {
	p := newTestPipes()
	release := make(chan struct{})
	slow := ServeFunc[string, string](func(_ context.Context, s string) (string, error) {
		<-release
		return s, nil
	})
	done := serve[string, string](p, slow)

	payload, err := p.client.Codec().Marshal("hello")
	require.NoError(t, err)
	require.NoError(t, p.client.SendRequest(payload))

	// The client abandons the call before the server answers.
	p.s2cR.Close()
	close(release)

	require.NoError(t, <-done)
}

func TestExecuteContextCanceled(t *testing.T) {
	p := newTestPipes()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Execute[string, string](ctx, p.server, shoutHandler{})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = Call[string, string](ctx, p.client, "shout", "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMaxPayloadSize(t *testing.T) {
	p := newTestPipes()
	p.server.SetMaxPayloadSize(4)
	done := serve[string, string](p, shoutHandler{})

	_, err := Call[string, string](context.Background(), p.client, "shout", "far too long for the limit")
	var perr *ProtocolError
	require.True(t, errors.As(err, &perr), "got %v", err)
	assert.Equal(t, CodeOtherEndClosed, perr.Code)

	assert.ErrorIs(t, <-done, ErrPayloadTooLarge)
}

func TestOversizedResponseBreaksChannel(t *testing.T) {
	p := newTestPipes()
	p.client.SetMaxPayloadSize(8)
	done := serve[string, string](p, shoutHandler{})
	ctx := context.Background()

	_, err := Call[string, string](ctx, p.client, "shout", strings.Repeat("a", 40))
	require.ErrorIs(t, err, ErrPayloadTooLarge)
	require.ErrorIs(t, p.client.Err(), ErrPayloadTooLarge)

	// The rejected payload is still buffered; it must never be framed as
	// the next response.
	for range 3 {
		_, err = Call[string, string](ctx, p.client, "shout", "b")
		assert.ErrorIs(t, err, ErrPayloadTooLarge)
	}
	_, err = p.client.ReceiveResponse()
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.ErrorIs(t, p.client.SendRequest([]byte("x")), ErrPayloadTooLarge)

	p.c2sW.Close()
	require.NoError(t, <-done)
}

func TestTruncatedRequestBreaksServerChannel(t *testing.T) {
	p := newTestPipes()
	go func() {
		_, _ = p.c2sW.Write([]byte{0x05, 'a'})
		p.c2sW.Close()
	}()

	_, err := p.server.ReceiveRequest()
	require.ErrorIs(t, err, ErrUnexpectedEOF)
	_, err = p.server.ReceiveRequest()
	assert.ErrorIs(t, err, ErrUnexpectedEOF)
	assert.ErrorIs(t, p.server.SendResponse(CodeOK, nil), ErrUnexpectedEOF)
}

func TestPayloadLimitBoundsDecompression(t *testing.T) {
	p := newTestPipes()
	// The limit is applied whichever setter runs last.
	p.server.SetMaxPayloadSize(64 << 10)
	serverCodec, err := codec.Lookup("zstd+cbor")
	require.NoError(t, err)
	p.server.SetCodec(serverCodec)
	clientCodec, err := codec.Lookup("zstd+cbor")
	require.NoError(t, err)
	p.client.SetCodec(clientCodec)
	done := serve[string, string](p, shoutHandler{})
	ctx := context.Background()

	big := strings.Repeat("a", 1<<20)
	wire, err := clientCodec.Marshal(big)
	require.NoError(t, err)
	require.Less(t, len(wire), 64<<10)

	_, err = Call[string, string](ctx, p.client, "shout", big)
	var perr *ProtocolError
	require.True(t, errors.As(err, &perr), "got %v", err)
	assert.Equal(t, CodeDeserializeError, perr.Code)

	resp, err := Call[string, string](ctx, p.client, "shout", "small")
	require.NoError(t, err)
	assert.Equal(t, "SMALL", resp)

	p.c2sW.Close()
	require.NoError(t, <-done)
}

func TestLowLevelExchange(t *testing.T) {
	p := newTestPipes()
	go func() {
		req, err := p.server.ReceiveRequest()
		if err != nil {
			return
		}
		_ = p.server.SendResponse(CodeOK, append([]byte("re:"), req.Payload...))
	}()

	require.NoError(t, p.client.SendRequest([]byte{0x80, 0xff}))
	resp, err := p.client.ReceiveResponse()
	require.NoError(t, err)
	assert.Equal(t, CodeOK, resp.ErrorCode)
	assert.Equal(t, []byte{'r', 'e', ':', 0x80, 0xff}, resp.Payload)
}

type hookEvent struct {
	info  DispatchInfo
	stats CallStatistics
	err   error
}

type recordingHook struct {
	mu     sync.Mutex
	starts []DispatchInfo
	ends   []hookEvent
}

type ctxKey struct{}

func (h *recordingHook) OnDispatchStart(ctx context.Context, info DispatchInfo) (context.Context, HookToken) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.starts = append(h.starts, info)
	return context.WithValue(ctx, ctxKey{}, len(h.starts)), len(h.starts)
}

func (h *recordingHook) OnDispatchEnd(ctx context.Context, token HookToken, info DispatchInfo, stats *CallStatistics, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ctx.Value(ctxKey{}) != token {
		panic("hook context not propagated")
	}
	h.ends = append(h.ends, hookEvent{info: info, stats: *stats, err: err})
}

func (h *recordingHook) events() []hookEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]hookEvent(nil), h.ends...)
}

func TestDispatchHooks(t *testing.T) {
	p := newTestPipes()
	clientHook, serverHook := &recordingHook{}, &recordingHook{}
	p.client.SetDispatchHook(clientHook)
	p.server.SetDispatchHook(serverHook)
	p.server.SetServiceName("shouter")
	done := serve[string, string](p, shoutHandler{})
	ctx := context.Background()

	_, err := Call[string, string](ctx, p.client, "shout", "abc")
	require.NoError(t, err)
	_, err = Call[string, string](ctx, p.client, "shout", "fail")
	require.Error(t, err)

	p.c2sW.Close()
	require.NoError(t, <-done)

	server := serverHook.events()
	require.Len(t, server, 2)
	assert.Equal(t, DispatchInfo{Method: "shout", Role: RoleServer, ServiceName: "shouter", Codec: "cbor"}, server[0].info)
	assert.NoError(t, server[0].err)
	assert.Equal(t, CodeOK, server[0].stats.ErrorCode)
	assert.Positive(t, server[0].stats.RequestBytes)
	assert.Positive(t, server[0].stats.ResponseBytes)
	assert.EqualError(t, server[1].err, "fail requested")
	assert.Equal(t, CodeHandlerError, server[1].stats.ErrorCode)

	client := clientHook.events()
	require.Len(t, client, 2)
	assert.Equal(t, RoleClient, client[0].info.Role)
	assert.NoError(t, client[0].err)
	assert.Equal(t, server[0].stats.RequestBytes, client[0].stats.RequestBytes)
	assert.Equal(t, server[0].stats.ResponseBytes, client[0].stats.ResponseBytes)
	assert.ErrorIs(t, client[1].err, &ProtocolError{Code: CodeHandlerError})
}

type panickingHook struct{}

func (panickingHook) OnDispatchStart(context.Context, DispatchInfo) (context.Context, HookToken) {
	panic("start")
}

func (panickingHook) OnDispatchEnd(context.Context, HookToken, DispatchInfo, *CallStatistics, error) {
	panic("end")
}

func TestPanickingHookIsContained(t *testing.T) {
	p := newTestPipes()
	p.server.SetDispatchHook(panickingHook{})
	p.client.SetDispatchHook(panickingHook{})
	done := serve[string, string](p, shoutHandler{})

	resp, err := Call[string, string](context.Background(), p.client, "shout", "ok")
	require.NoError(t, err)
	assert.Equal(t, "OK", resp)

	p.c2sW.Close()
	require.NoError(t, <-done)
}

func TestPipePair(t *testing.T) {
	client, server, err := NewPipePair()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- Execute[string, string](context.Background(), server.Channel(), shoutHandler{})
	}()

	resp, err := Call[string, string](context.Background(), client.Channel(), "shout", "over os pipes")
	require.NoError(t, err)
	assert.Equal(t, "OVER OS PIPES", resp)

	require.NoError(t, client.Close())
	require.NoError(t, <-done)
	require.NoError(t, server.Close())
	// Closing again is harmless.
	require.NoError(t, server.Close())
}
