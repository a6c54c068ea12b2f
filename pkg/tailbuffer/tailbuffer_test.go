package tailbuffer

import (
	"io"
	"testing"
)

func TestWriteWithinCapacity(t *testing.T) {
	b := New(16)
	n, err := b.Write([]byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("write: %d, %v", n, err)
	}
	if got := b.String(); got != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestWriteKeepsTail(t *testing.T) {
	b := New(4)
	if _, err := b.Write([]byte("abcdefgh")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := b.String(); got != "efgh" {
		t.Fatalf("got %q, want tail", got)
	}
}

func TestWriteWrapsAcrossCalls(t *testing.T) {
	b := New(4)
	for _, chunk := range []string{"ab", "cd", "ef"} {
		if _, err := b.Write([]byte(chunk)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if got := b.String(); got != "cdef" {
		t.Fatalf("got %q", got)
	}
}

func TestReadDrains(t *testing.T) {
	b := New(8)
	if _, err := b.Write([]byte("stderr")); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := io.ReadAll(b)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(out) != "stderr" {
		t.Fatalf("got %q", out)
	}
	if _, err := b.Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("expected EOF after drain, got %v", err)
	}
}

func TestStringDoesNotDrain(t *testing.T) {
	b := New(8)
	if _, err := b.Write([]byte("keep")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if b.String() != "keep" || b.String() != "keep" {
		t.Fatal("String must not consume the buffer")
	}
}

func TestZeroCapacity(t *testing.T) {
	b := New(0)
	if n, err := b.Write([]byte("x")); err != nil || n != 1 {
		t.Fatalf("write: %d, %v", n, err)
	}
	if b.String() != "" {
		t.Fatal("zero-capacity buffer must retain nothing")
	}
}
