package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestGuardRecoversPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf)

	ok := Guard(logger, "draw clip", func() {
		var m map[string]int
		m["boom"] = 1
	})
	if ok {
		t.Fatal("expected Guard to report the panic")
	}
	if !strings.Contains(buf.String(), "draw clip") {
		t.Errorf("expected op in log output, got %q", buf.String())
	}

	if !Guard(logger, "noop", func() {}) {
		t.Fatal("expected Guard to report success")
	}
}

func TestNewLoggerFansOut(t *testing.T) {
	var a, b bytes.Buffer
	logger := NewLogger(&a, &b)
	logger.Info().Str("session", "s1").Msg("opened")

	for i, buf := range []*bytes.Buffer{&a, &b} {
		if !strings.Contains(buf.String(), `"session":"s1"`) {
			t.Errorf("writer %d: expected the event, got %q", i, buf.String())
		}
	}
}

func TestInitInstallsGlobalLogger(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.GlobalLevel())

	Init(true)
	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Errorf("expected debug level when verbose, got %s", zerolog.GlobalLevel())
	}
	if WithComponent("test").GetLevel() == zerolog.Disabled {
		t.Error("expected an enabled global logger")
	}
}
