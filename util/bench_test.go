package util

import (
	"bytes"
	"context"
	"testing"
)

// BenchmarkPump measures the chunked read loop that feeds keystrokes
// and pasted text into a live session.
func BenchmarkPump(b *testing.B) {
	payload := bytes.Repeat([]byte("X"), DefaultBufSize*4)

	b.SetBytes(int64(len(payload)))
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		var n int
		err := Pump(context.Background(), bytes.NewReader(payload), func(chunk []byte) bool {
			n += len(chunk)
			return true
		})
		if err != nil {
			b.Fatal(err)
		}
		if n != len(payload) {
			b.Fatalf("read %d bytes, want %d", n, len(payload))
		}
	}
}

// BenchmarkLogger_Quiet checks that suppressed levels stay cheap.
func BenchmarkLogger_Quiet(b *testing.B) {
	var buf bytes.Buffer
	l := NewLogger(0)
	l.SetOutput(&buf)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.Debug("frame %d", i)
	}
}
