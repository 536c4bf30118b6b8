package frame

import (
	"encoding/json"
	"testing"

	herr "hostterm/internal/errors"
)

func TestEncode_WireShape(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		want  string
	}{
		{"input", Input("ls\r"), `{"type":"input","data":"ls\r"}`},
		{"resize", Resize(120, 40), `{"type":"resize","data":{"cols":120,"rows":40}}`},
		{"output", Frame{Kind: KindOutput, Data: "\x1b[1mhi"}, `{"type":"output","data":"\u001b[1mhi"}`},
		{"connected", Frame{Kind: KindConnected, Data: "ok"}, `{"type":"connected","data":"ok"}`},
		{"error", Frame{Kind: KindError, Data: "denied"}, `{"type":"error","data":"denied"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.frame)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if !jsonEqual(t, got, []byte(tt.want)) {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEncode_RejectsRaw(t *testing.T) {
	if _, err := Encode(Frame{Kind: KindRaw, Raw: []byte("x")}); err == nil {
		t.Fatal("expected error encoding a raw frame")
	}
	if _, err := Encode(Frame{Kind: "bogus"}); err == nil {
		t.Fatal("expected error encoding an unknown kind")
	}
}

func TestDecode_KnownKinds(t *testing.T) {
	tests := []struct {
		in   string
		want Frame
	}{
		{`{"type":"connected","data":"Connected to web-1"}`, Frame{Kind: KindConnected, Data: "Connected to web-1"}},
		{`{"type":"output","data":"$ "}`, Frame{Kind: KindOutput, Data: "$ "}},
		{`{"type":"input","data":"echo"}`, Frame{Kind: KindInput, Data: "echo"}},
		{`{"type":"error","data":"host unreachable"}`, Frame{Kind: KindError, Data: "host unreachable"}},
		{`{"type":"resize","data":{"cols":80,"rows":24}}`, Frame{Kind: KindResize, Cols: 80, Rows: 24}},
	}
	for _, tt := range tests {
		t.Run(string(tt.want.Kind), func(t *testing.T) {
			got, err := Decode([]byte(tt.in))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.Kind != tt.want.Kind || got.Data != tt.want.Data ||
				got.Cols != tt.want.Cols || got.Rows != tt.want.Rows {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecode_FallsBackToRaw(t *testing.T) {
	inputs := []string{
		`{"type":"bogus"}`,
		`not json`,
		`"just a string"`,
		`null`,
		`{"type":"output","data":42}`,
		`{"type":"resize","data":"wide"}`,
		"\x1b[31mred\x1b[0m",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			f, err := Decode([]byte(in))
			var pe *herr.ProtocolError
			if !herr.As(err, &pe) {
				t.Fatalf("err = %v, want *ProtocolError", err)
			}
			if f.Kind != KindRaw {
				t.Fatalf("kind = %q, want raw", f.Kind)
			}
			if string(f.Payload()) != in {
				t.Errorf("payload = %q, want %q", f.Payload(), in)
			}
			if !f.Renderable() {
				t.Error("raw frames must be renderable")
			}
		})
	}
}

func TestDecode_RawDoesNotAliasInput(t *testing.T) {
	buf := []byte(`{"type":"bogus"}`)
	f, _ := Decode(buf)
	buf[0] = 'X'
	if f.Raw[0] != '{' {
		t.Error("raw payload must be copied")
	}
}

func TestRenderable(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindOutput, true},
		{KindInput, true},
		{KindRaw, true},
		{KindConnected, false},
		{KindError, false},
		{KindResize, false},
	}
	for _, tt := range tests {
		if got := (Frame{Kind: tt.kind}).Renderable(); got != tt.want {
			t.Errorf("%s.Renderable() = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func jsonEqual(t *testing.T, a, b []byte) bool {
	t.Helper()
	var va, vb interface{}
	if err := json.Unmarshal(a, &va); err != nil {
		t.Fatalf("unmarshal %s: %v", a, err)
	}
	if err := json.Unmarshal(b, &vb); err != nil {
		t.Fatalf("unmarshal %s: %v", b, err)
	}
	ja, _ := json.Marshal(va)
	jb, _ := json.Marshal(vb)
	return string(ja) == string(jb)
}
