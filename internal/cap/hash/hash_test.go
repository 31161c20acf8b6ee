package hash

import (
	"bytes"
	"strings"
	"testing"
)

func TestBytes_Deterministic(t *testing.T) {
	a := Bytes([]byte("hello"))
	b := Bytes([]byte("hello"))
	if a != b {
		t.Error("expected identical hashes for identical input")
	}
}

func TestBytes_DiffersOnInput(t *testing.T) {
	a := Bytes([]byte("hello"))
	b := Bytes([]byte("world"))
	if a == b {
		t.Error("expected different hashes for different input")
	}
}

func TestStream_MatchesBytes(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")

	viaBytes := Bytes(data)
	viaStream, err := Stream(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if viaBytes != viaStream {
		t.Error("expected Stream and Bytes to agree")
	}
}

func TestConcat_MatchesManualJoin(t *testing.T) {
	a, b, c := []byte("foo"), []byte("bar"), []byte("baz")

	viaConcat := Concat(a, b, c)
	viaBytes := Bytes([]byte("foobarbaz"))
	if viaConcat != viaBytes {
		t.Error("expected Concat to match hashing the joined bytes")
	}
}

func TestStream_LargeInput(t *testing.T) {
	data := strings.Repeat("x", 100*1024)
	_, err := Stream(strings.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
