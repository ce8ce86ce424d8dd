package processhost

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/jkolo/clrdbg-core/internal/runtime"
	"github.com/jkolo/clrdbg-core/internal/wire"
)

// duplex wires two io.Pipe pairs into a pair of io.ReadWriteCloser ends,
// one for the Host under test and one for a hand-scripted fake peer
// standing in for the debug helper process.
type duplex struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (d duplex) Read(p []byte) (int, error)  { return d.r.Read(p) }
func (d duplex) Write(p []byte) (int, error) { return d.w.Write(p) }
func (d duplex) Close() error {
	d.r.Close()
	return d.w.Close()
}

func newLoopback() (clientSide, serverSide io.ReadWriteCloser) {
	clientToServerR, clientToServerW := io.Pipe()
	serverToClientR, serverToClientW := io.Pipe()
	return duplex{serverToClientR, clientToServerW}, duplex{clientToServerR, serverToClientW}
}

func TestListModulesRoundTrip(t *testing.T) {
	clientSide, serverSide := newLoopback()
	serverTransport := wire.NewRawTransport(serverSide)

	go func() {
		msg, err := serverTransport.Receive()
		if err != nil {
			return
		}
		var req map[string]any
		json.Unmarshal(msg.Content, &req)
		resp := map[string]any{
			"type":        "response",
			"request_seq": req["seq"],
			"success":     true,
			"body": map[string]any{
				"modules": []map[string]any{
					{"name": "App.dll", "path": "App.dll", "hasSymbols": true},
				},
			},
		}
		content, _ := json.Marshal(resp)
		serverTransport.Send(&wire.Message{Content: content})
	}()

	host := New(wire.NewRawTransport(clientSide))
	defer host.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	mods, err := host.ListModules(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mods) != 1 || mods[0].Name != "App.dll" || !mods[0].HasSymbols {
		t.Fatalf("unexpected modules: %+v", mods)
	}
}

func TestRequestSurfacesFailureResponse(t *testing.T) {
	clientSide, serverSide := newLoopback()
	serverTransport := wire.NewRawTransport(serverSide)

	go func() {
		msg, err := serverTransport.Receive()
		if err != nil {
			return
		}
		var req map[string]any
		json.Unmarshal(msg.Content, &req)
		resp := map[string]any{
			"type":        "response",
			"request_seq": req["seq"],
			"success":     false,
			"message":     "process not found",
		}
		content, _ := json.Marshal(resp)
		serverTransport.Send(&wire.Message{Content: content})
	}()

	host := New(wire.NewRawTransport(clientSide))
	defer host.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := host.Attach(ctx, 123, time.Second); err == nil {
		t.Fatal("expected the failure response to surface as an error")
	}
}

func TestRequestContextCancellation(t *testing.T) {
	clientSide, serverSide := newLoopback()
	defer serverSide.Close() // server never responds

	host := New(wire.NewRawTransport(clientSide))
	defer host.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := host.Detach(ctx); err == nil {
		t.Fatal("expected a context-deadline error when the helper never responds")
	}
}

func TestReadMemoryDecodesBase64Payload(t *testing.T) {
	clientSide, serverSide := newLoopback()
	serverTransport := wire.NewRawTransport(serverSide)

	raw := []byte{0x00, 0xFF, 0x10, 0x80, 0x7F}
	go func() {
		msg, err := serverTransport.Receive()
		if err != nil {
			return
		}
		var req map[string]any
		json.Unmarshal(msg.Content, &req)
		resp := map[string]any{
			"type":        "response",
			"request_seq": req["seq"],
			"success":     true,
			"body": map[string]any{
				"data": base64.StdEncoding.EncodeToString(raw),
			},
		}
		content, _ := json.Marshal(resp)
		serverTransport.Send(&wire.Message{Content: content})
	}()

	host := New(wire.NewRawTransport(clientSide))
	defer host.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := host.ReadMemory(ctx, 0x1000, len(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != string(raw) {
		t.Fatalf("expected the raw non-UTF-8 bytes to survive the base64 round trip, got %v want %v", got, raw)
	}
}

func TestGetBaseTypeDecodesFoundResponse(t *testing.T) {
	clientSide, serverSide := newLoopback()
	serverTransport := wire.NewRawTransport(serverSide)

	go func() {
		msg, err := serverTransport.Receive()
		if err != nil {
			return
		}
		var req map[string]any
		json.Unmarshal(msg.Content, &req)
		resp := map[string]any{
			"type":        "response",
			"request_seq": req["seq"],
			"success":     true,
			"body": map[string]any{
				"found":          true,
				"baseClassToken": 0x200,
				"baseTypeName":   "Widget",
			},
		}
		content, _ := json.Marshal(resp)
		serverTransport.Send(&wire.Message{Content: content})
	}()

	host := New(wire.NewRawTransport(clientSide))
	defer host.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	baseToken, baseName, ok, err := host.GetBaseType(ctx, 0x100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || baseToken != 0x200 || baseName != "Widget" {
		t.Fatalf("got (%#x, %q, %v), want (0x200, \"Widget\", true)", baseToken, baseName, ok)
	}
}

func TestGetBaseTypeDecodesNotFoundResponse(t *testing.T) {
	clientSide, serverSide := newLoopback()
	serverTransport := wire.NewRawTransport(serverSide)

	go func() {
		msg, err := serverTransport.Receive()
		if err != nil {
			return
		}
		var req map[string]any
		json.Unmarshal(msg.Content, &req)
		resp := map[string]any{
			"type":        "response",
			"request_seq": req["seq"],
			"success":     true,
			"body": map[string]any{
				"found": false,
			},
		}
		content, _ := json.Marshal(resp)
		serverTransport.Send(&wire.Message{Content: content})
	}()

	host := New(wire.NewRawTransport(clientSide))
	defer host.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, ok, err := host.GetBaseType(ctx, 0x100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a type with no base (e.g. object itself)")
	}
}

type capturingSink struct {
	events []runtime.Event
}

func (s *capturingSink) OnEvent(ev runtime.Event) {
	s.events = append(s.events, ev)
}

func TestEventDeliveryAndAck(t *testing.T) {
	clientSide, serverSide := newLoopback()
	serverTransport := wire.NewRawTransport(serverSide)

	ackSeq := make(chan int64, 1)
	go func() {
		// First message from the client in this scenario is the ack
		// request triggered by Ack(true) below.
		msg, err := serverTransport.Receive()
		if err != nil {
			return
		}
		var req map[string]any
		json.Unmarshal(msg.Content, &req)
		if seq, ok := req["seq"].(float64); ok {
			ackSeq <- int64(seq)
		}
		resp := map[string]any{
			"type":        "response",
			"request_seq": req["seq"],
			"success":     true,
		}
		content, _ := json.Marshal(resp)
		serverTransport.Send(&wire.Message{Content: content})
	}()

	host := New(wire.NewRawTransport(clientSide))
	defer host.Close()

	sink := &capturingSink{}
	host.Subscribe(sink)

	evEnvelope := map[string]any{
		"type":  "event",
		"seq":   int64(1),
		"event": "breakpointHit",
		"body": map[string]any{
			"threadId":    1,
			"methodToken": 0x06000001,
			"ilOffset":    4,
			"modulePath":  "App.dll",
			"moduleName":  "App.dll",
		},
	}
	content, _ := json.Marshal(evEnvelope)
	if err := serverTransport.Send(&wire.Message{Content: content}); err != nil {
		t.Fatalf("failed to send scripted event: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for len(sink.events) == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the event to be delivered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	got := sink.events[0]
	if got.Kind != runtime.EventBreakpointHit || got.ThreadID != 1 || got.Module == nil || got.Module.Path != "App.dll" {
		t.Fatalf("unexpected delivered event: %+v", got)
	}
	if got.Ack == nil {
		t.Fatal("expected ContinueRequired events to carry an Ack callback")
	}
	got.Ack(true)

	select {
	case <-ackSeq:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the Ack callback to send an ackEvent request")
	}
}
