package prompt

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"testing"

	"github.com/danmuck/marznodectl/internal/testutil/testlog"
	"github.com/danmuck/marznodectl/internal/testutil/tlstest"
)

func busyPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	return ln.Addr().(*net.TCPAddr).Port
}

func TestPortEmptyInputSelectsDefault(t *testing.T) {
	testlog.Start(t)
	var out bytes.Buffer
	term := NewTerminalIO(strings.NewReader("\n"), &out)
	port, err := Port(context.Background(), term, 53042, func(int) bool { return true })
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	if port != 53042 {
		t.Fatalf("expected default port, got %d", port)
	}
	if !strings.Contains(out.String(), "default 53042") {
		t.Fatalf("prompt should show default: %q", out.String())
	}
}

func TestPortRejectsBoundPortAndReprompts(t *testing.T) {
	testlog.Start(t)
	busy := busyPort(t)
	var out bytes.Buffer
	term := NewTerminalIO(strings.NewReader(strings.Join([]string{
		"abc",
		"70000",
		strconv.Itoa(busy),
		"",
	}, "\n")+"\n"), &out)

	port, err := Port(context.Background(), term, 53042, func(p int) bool {
		return p != busy
	})
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	if port != 53042 {
		t.Fatalf("expected default after rejections, got %d", port)
	}
	transcript := out.String()
	for _, want := range []string{"is not a number", "out of range", "already in use"} {
		if !strings.Contains(transcript, want) {
			t.Fatalf("missing %q in transcript: %q", want, transcript)
		}
	}
}

func TestListenCheckDetectsBoundPort(t *testing.T) {
	busy := busyPort(t)
	if ListenCheck(busy) {
		t.Fatalf("expected bound port %d to be reported busy", busy)
	}
}

func TestPortScriptedBoundPortFails(t *testing.T) {
	testlog.Start(t)
	busy := busyPort(t)
	p := NewScripted(map[string]string{KeyPort: strconv.Itoa(busy)}, nil)
	if _, err := Port(context.Background(), p, 53042, ListenCheck); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestPortEOFStopsLoop(t *testing.T) {
	term := NewTerminalIO(strings.NewReader(""), &bytes.Buffer{})
	if _, err := Port(context.Background(), term, 53042, func(int) bool { return true }); err == nil {
		t.Fatalf("expected EOF error")
	}
}

func TestConfirmReasksOnGarbage(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminalIO(strings.NewReader("maybe\nYES\n"), &out)
	ok, err := Confirm(context.Background(), term, "Proceed?")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !ok {
		t.Fatalf("expected yes")
	}
	if strings.Count(out.String(), "Proceed? (y/n): ") != 2 {
		t.Fatalf("expected two prompts: %q", out.String())
	}
}

func TestYesNo(t *testing.T) {
	tests := []struct {
		answer  string
		yes, ok bool
	}{
		{"y", true, true},
		{" YES ", true, true},
		{"n", false, true},
		{"No", false, true},
		{"sure", false, false},
		{"", false, false},
	}
	for _, tt := range tests {
		yes, ok := YesNo(tt.answer)
		if yes != tt.yes || ok != tt.ok {
			t.Fatalf("YesNo(%q) = %v, %v; want %v, %v", tt.answer, yes, ok, tt.yes, tt.ok)
		}
	}
}

func TestConfirmScripted(t *testing.T) {
	p := NewScripted(map[string]string{KeyConfirm: "n"}, nil)
	ok, err := Confirm(context.Background(), p, "Proceed?")
	if err != nil || ok {
		t.Fatalf("expected no, got %v, %v", ok, err)
	}
	p = NewScripted(map[string]string{KeyConfirm: "perhaps"}, nil)
	if _, err := Confirm(context.Background(), p, "Proceed?"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	p = NewScripted(nil, nil)
	if _, err := Confirm(context.Background(), p, "Proceed?"); !errors.Is(err, ErrNoAnswer) {
		t.Fatalf("expected ErrNoAnswer, got %v", err)
	}
}

func TestCertificateFromTerminalStopsAtEndLine(t *testing.T) {
	testlog.Start(t)
	cert := tlstest.ClientPEM(t)
	term := NewTerminalIO(strings.NewReader(cert+"trailing input\n"), &bytes.Buffer{})
	data, err := Certificate(context.Background(), term)
	if err != nil {
		t.Fatalf("certificate: %v", err)
	}
	if string(data) != cert {
		t.Fatalf("unexpected certificate\nwant: %q\ngot:  %q", cert, string(data))
	}
}

func TestCertificateRejectsGarbage(t *testing.T) {
	term := NewTerminalIO(strings.NewReader("not a certificate\n\n"), &bytes.Buffer{})
	if _, err := Certificate(context.Background(), term); !errors.Is(err, ErrInvalidCertificate) {
		t.Fatalf("expected ErrInvalidCertificate, got %v", err)
	}
}

func TestCertificateScriptedFromFile(t *testing.T) {
	path := tlstest.NewPanel(t, "panel").WriteClientPEM(t, t.TempDir(), "node-1")
	p := NewScripted(map[string]string{KeyCertificateFile: path}, nil)
	data, err := Certificate(context.Background(), p)
	if err != nil {
		t.Fatalf("certificate: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("-----BEGIN CERTIFICATE-----")) {
		t.Fatalf("unexpected certificate: %q", string(data))
	}
}

func TestScriptedNeverReadsStdin(t *testing.T) {
	p := NewScripted(map[string]string{KeyPort: "6000"}, nil)
	if p.Interactive() {
		t.Fatalf("scripted provider must not be interactive")
	}
	if _, err := p.Ask(context.Background(), Question{Key: KeyXrayVersion}); !errors.Is(err, ErrNoAnswer) {
		t.Fatalf("expected ErrNoAnswer, got %v", err)
	}
}
