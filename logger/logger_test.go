package logger

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestConfigureTextFormat(t *testing.T) {
	log := Logger()
	if err := log.Configure("debug", "text", "stdout", 0); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
}

func TestConfigureInvalidFormat(t *testing.T) {
	log := Logger()
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatal("expected error for invalid format")
	}
}

func TestWithComponentField(t *testing.T) {
	log := Logger()
	var buf bytes.Buffer
	log.SetOutput(&buf)

	log.WithComponent("scanner").Info("hello")
	if !strings.Contains(buf.String(), `"component":"scanner"`) {
		t.Errorf("component field missing from output: %s", buf.String())
	}
}

func TestLogPerformanceEntry(t *testing.T) {
	log := Logger()
	var buf bytes.Buffer
	log.SetOutput(&buf)

	entry := log.WithComponent("extractor").WithFields(Fields{"symbol": "VNM"})
	LogPerformanceEntry(entry, "extractor", "extract_symbol", 1500*time.Millisecond, Fields{"candles": 3})

	out := buf.String()
	for _, want := range []string{
		`"operation":"extract_symbol"`,
		`"duration_ms":1500`,
		`"component":"extractor"`,
		`"symbol":"VNM"`,
		`"candles":3`,
		"performance metric",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("performance log missing %s: %s", want, out)
		}
	}
}
