package sink

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/text/encoding"
)

func newTestSink(t *testing.T, opts Options) (*Sink, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	opts.Stdout, opts.Stderr = &stdout, &stderr
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	s.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return s, &stdout, &stderr
}

func lines(b *bytes.Buffer) []string {
	return strings.Split(strings.TrimSuffix(b.String(), "\n"), "\n")
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatText, false},
		{"text", FormatText, false},
		{"JSON", FormatJSON, false},
		{"xml", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestNewErrors(t *testing.T) {
	if _, err := New(Options{Encoding: "no-such-charset"}); err == nil {
		t.Error("New() with an unknown encoding should fail")
	}
	if _, err := New(Options{Color: "sometimes"}); err == nil {
		t.Error("New() with an unknown color mode should fail")
	}
}

func TestTextOutput(t *testing.T) {
	s, stdout, stderr := newTestSink(t, Options{Color: "never"})
	p := s.Track([]string{"echo", "hi"})

	if err := p.Stdout([]byte("out\n")); err != nil {
		t.Fatal(err)
	}
	if err := p.Stderr([]byte("err\n")); err != nil {
		t.Fatal(err)
	}
	if stdout.String() != "out\n" {
		t.Errorf("stdout = %q", stdout.String())
	}
	if stderr.String() != "err\n" {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestTextColor(t *testing.T) {
	s, stdout, stderr := newTestSink(t, Options{Color: "always"})
	p := s.Track([]string{"x"})
	_ = p.Stdout([]byte("plain"))
	_ = p.Stderr([]byte("warn"))

	if stdout.String() != "plain" {
		t.Errorf("stdout = %q, want no color codes", stdout.String())
	}
	if stderr.String() != colorRed+"warn"+colorReset {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestColorAutoOnBuffer(t *testing.T) {
	_, _, stderr := newTestSink(t, Options{Color: "auto"})
	if ok, _ := useColor("auto", stderr); ok {
		t.Error("a buffer is not a terminal")
	}
}

func TestJSONOutput(t *testing.T) {
	s, stdout, _ := newTestSink(t, Options{Format: FormatJSON})
	p := s.Track([]string{"cat"})

	_ = p.Stdout([]byte("a \"quoted\"\nline"))
	_ = p.Stderr([]byte("oops"))

	got := lines(stdout)
	if len(got) != 2 {
		t.Fatalf("got %d events: %q", len(got), stdout.String())
	}
	first := gjson.Parse(got[0])
	if first.Get("event").String() != "output" || first.Get("stream").String() != "stdout" {
		t.Errorf("first event = %s", got[0])
	}
	if first.Get("data").String() != "a \"quoted\"\nline" {
		t.Errorf("data = %q", first.Get("data").String())
	}
	if first.Get("time").String() != "2024-01-02T03:04:05Z" {
		t.Errorf("time = %s", first.Get("time").String())
	}
	if gjson.Get(got[1], "stream").String() != "stderr" {
		t.Errorf("second event = %s", got[1])
	}
}

func TestJSONPrint(t *testing.T) {
	s, stdout, _ := newTestSink(t, Options{Format: FormatJSON})
	if _, err := s.Writer().Write([]byte("hello\n")); err != nil {
		t.Fatal(err)
	}
	ev := gjson.Parse(strings.TrimSpace(stdout.String()))
	if ev.Get("event").String() != "print" || ev.Get("data").String() != "hello" {
		t.Errorf("print event = %s", stdout.String())
	}
}

func TestDecodeCharset(t *testing.T) {
	s, stdout, _ := newTestSink(t, Options{Encoding: "windows-1252", Color: "never"})
	p := s.Track([]string{"x"})
	_ = p.Stdout([]byte{'5', 0x80})
	if stdout.String() != "5€" {
		t.Errorf("stdout = %q, want %q", stdout.String(), "5€")
	}
}

func TestDecodeSplitCharacter(t *testing.T) {
	s, stdout, _ := newTestSink(t, Options{Color: "never"})
	p := s.Track([]string{"x"})

	e := []byte("é")
	_ = p.Stdout([]byte{'a', e[0]})
	if stdout.String() != "a" {
		t.Fatalf("after first half stdout = %q", stdout.String())
	}
	_ = p.Stdout([]byte{e[1], 'b'})
	if stdout.String() != "aéb" {
		t.Errorf("stdout = %q, want %q", stdout.String(), "aéb")
	}
}

func TestDecodeFlushAtExit(t *testing.T) {
	d := newDecoder(mustEncoding(t, "utf-8"))
	if out := d.decode([]byte{0xc3}, false); len(out) != 0 {
		t.Fatalf("decode() = %q, want held byte", out)
	}
	if out := d.decode(nil, true); string(out) != "�" {
		t.Errorf("decode(atEOF) = %q, want replacement character", out)
	}
}

func TestDecodeLargeChunk(t *testing.T) {
	d := newDecoder(mustEncoding(t, "windows-1252"))
	in := bytes.Repeat([]byte{0x80}, 5000)
	out := d.decode(in, false)
	if string(out) != strings.Repeat("€", 5000) {
		t.Errorf("decoded %d bytes, want %d", len(out), 5000*3)
	}
}

func mustEncoding(t *testing.T, name string) encoding.Encoding {
	t.Helper()
	enc, err := lookupEncoding(name)
	if err != nil {
		t.Fatal(err)
	}
	return enc
}
