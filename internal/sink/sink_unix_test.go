//go:build unix

package sink

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/textmagus/textmagus-3rdparty-lspawn/internal/process"
)

func TestExitText(t *testing.T) {
	s, _, stderr := newTestSink(t, Options{Color: "never"})

	if err := s.Track([]string{"true"}).Exit(0); err != nil {
		t.Fatal(err)
	}
	if stderr.Len() != 0 {
		t.Errorf("clean exit wrote %q", stderr.String())
	}

	if err := s.Track([]string{"false"}).Exit(1 << 8); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stderr.String(), "lspawn: false: ") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestExitJSON(t *testing.T) {
	s, stdout, _ := newTestSink(t, Options{Format: FormatJSON})
	_ = s.Track([]string{"sh"}).Exit(3 << 8)
	_ = s.Track([]string{"sleep"}).Exit(9)

	got := lines(stdout)
	if len(got) != 2 {
		t.Fatalf("events = %q", stdout.String())
	}
	if c := gjson.Get(got[0], "exitCode"); !c.Exists() || c.Int() != 3 {
		t.Errorf("exit event = %s", got[0])
	}
	if gjson.Get(got[0], "signaled").Bool() {
		t.Errorf("exit 3 reported as signaled: %s", got[0])
	}
	if gjson.Get(got[1], "exitCode").Exists() || !gjson.Get(got[1], "signaled").Bool() {
		t.Errorf("signal event = %s", got[1])
	}
}

func TestProcessEvents(t *testing.T) {
	s, stdout, _ := newTestSink(t, Options{Format: FormatJSON})
	r, err := process.New()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	args := []string{"/bin/sh", "-c", "echo out; echo err >&2; exit 2"}
	p := s.Track(args)
	h, err := r.Spawn(args, p.Options(process.SpawnOptions{}))
	if err != nil {
		t.Fatalf("Spawn() = %v", err)
	}
	p.Bind(h)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.RunUntilIdle(ctx); err != nil {
		t.Fatalf("RunUntilIdle() = %v", err)
	}

	var kinds []string
	var out, errOut string
	for _, line := range lines(stdout) {
		ev := gjson.Parse(line)
		kinds = append(kinds, ev.Get("event").String())
		if ev.Get("id").String() != h.ID() {
			t.Errorf("event id = %s, want %s", ev.Get("id"), h.ID())
		}
		switch ev.Get("stream").String() {
		case "stdout":
			out += ev.Get("data").String()
		case "stderr":
			errOut += ev.Get("data").String()
		}
	}
	if kinds[0] != "spawn" || kinds[len(kinds)-1] != "exit" {
		t.Errorf("event order = %v", kinds)
	}
	if out != "out\n" || errOut != "err\n" {
		t.Errorf("stdout %q stderr %q", out, errOut)
	}
	last := gjson.Parse(lines(stdout)[len(kinds)-1])
	if last.Get("exitCode").Int() != 2 {
		t.Errorf("exit event = %s", last.Raw)
	}
}
