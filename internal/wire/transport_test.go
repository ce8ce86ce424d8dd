package wire

import (
	"bufio"
	"bytes"
	"io"
	"testing"
)

func TestWriteReadMessageRoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	msg := &Message{ContentType: "application/json", Content: []byte(`{"a":1}`)}
	if err := writeMessage(buf, msg); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	got, err := readMessage(bufio.NewReader(buf))
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got.ContentType != "application/json" {
		t.Fatalf("expected content-type to round-trip, got %q", got.ContentType)
	}
	if string(got.Content) != `{"a":1}` {
		t.Fatalf("expected content to round-trip, got %q", got.Content)
	}
}

func TestRawTransportSendReceive(t *testing.T) {
	pr, pw := io.Pipe()
	client := NewRawTransport(struct {
		io.Reader
		io.Writer
		io.Closer
	}{pr, pw, pw})

	go func() {
		writeMessage(pw, &Message{Content: []byte(`{"ping":true}`)})
	}()

	got, err := client.Receive()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got.Content) != `{"ping":true}` {
		t.Fatalf("got %q", got.Content)
	}
}

func TestReadMessageMissingContentLength(t *testing.T) {
	buf := bytes.NewBufferString("Content-Type: text/plain\r\n\r\n")
	if _, err := readMessage(bufio.NewReader(buf)); err == nil {
		t.Fatal("expected an error for a missing Content-Length header")
	}
}

func TestReadMessageRejectsOversizedLength(t *testing.T) {
	buf := bytes.NewBufferString("Content-Length: 999999999999\r\n\r\n")
	if _, err := readMessage(bufio.NewReader(buf)); err == nil {
		t.Fatal("expected an error for a length exceeding MaxContentLength")
	}
}

func TestReadMessageInvalidHeaderLine(t *testing.T) {
	buf := bytes.NewBufferString("not-a-header\r\n\r\n")
	if _, err := readMessage(bufio.NewReader(buf)); err == nil {
		t.Fatal("expected an error for a header line with no colon-space separator")
	}
}
