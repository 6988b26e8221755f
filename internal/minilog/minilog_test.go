package minilog

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelFilter(t *testing.T) {
	sink := new(bytes.Buffer)
	AddLogger("leveltest", sink, WARN)
	defer DelLogger("leveltest")

	Debug("should not appear")
	if sink.Len() != 0 {
		t.Fatalf("debug message leaked through a WARN sink: %q", sink.String())
	}

	Warn("should appear: %d", 7)
	if !strings.Contains(sink.String(), "should appear: 7") {
		t.Fatalf("sink got: %q", sink.String())
	}
}

func TestMultipleSinks(t *testing.T) {
	sink1 := new(bytes.Buffer)
	sink2 := new(bytes.Buffer)

	AddLogger("sink1", sink1, DEBUG)
	AddLogger("sink2", sink2, ERROR)
	defer DelLogger("sink1")
	defer DelLogger("sink2")

	Info("hello")
	if !strings.Contains(sink1.String(), "hello") {
		t.Fatalf("sink1 missed an INFO message: %q", sink1.String())
	}
	if strings.Contains(sink2.String(), "hello") {
		t.Fatalf("sink2 (ERROR level) should not have seen an INFO message: %q", sink2.String())
	}
}

func TestWillLog(t *testing.T) {
	DelLogger("willlogtest")
	if WillLog(ERROR) {
		t.Fatal("WillLog should be false with no loggers registered")
	}

	AddLogger("willlogtest", new(bytes.Buffer), ERROR)
	defer DelLogger("willlogtest")

	if WillLog(DEBUG) {
		t.Fatal("WillLog(DEBUG) should be false when the only sink is at ERROR")
	}
	if !WillLog(ERROR) {
		t.Fatal("WillLog(ERROR) should be true when a sink is registered at ERROR")
	}
}
