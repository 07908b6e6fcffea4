package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestTextHandlerOutput(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "DEBUG", "text")

	Info("created page", KeyPage, "gcache.page.000001", KeySize, 4096)

	out := buf.String()
	if !strings.Contains(out, "created page") {
		t.Errorf("output missing message: %q", out)
	}
	if !strings.Contains(out, "page=gcache.page.000001") {
		t.Errorf("output missing page field: %q", out)
	}
	if !strings.Contains(out, "size=4096") {
		t.Errorf("output missing size field: %q", out)
	}
}

func TestTextHandlerQuotesUnsafeStrings(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text")

	Warn("advisory failed", KeyError, "operation not supported", KeyPage, "gcache.page.000003")

	out := buf.String()
	if !strings.Contains(out, `error="operation not supported"`) {
		t.Errorf("value with spaces not quoted: %q", out)
	}
	if !strings.Contains(out, "page=gcache.page.000003") {
		t.Errorf("safe value needlessly quoted: %q", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "WARN", "text")

	Debug("not shown")
	Info("not shown either")
	Warn("shown")

	out := buf.String()
	if strings.Contains(out, "not shown") {
		t.Errorf("low-level records leaked through: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn record missing: %q", out)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json")

	Info("evicted page", KeyPage, "gcache.page.000002")

	out := buf.String()
	if !strings.Contains(out, `"msg":"evicted page"`) {
		t.Errorf("expected JSON output, got %q", out)
	}
}

func TestSetLevelInvalid(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text")

	SetLevel("NOISY") // ignored

	Info("still works")
	if !strings.Contains(buf.String(), "still works") {
		t.Error("invalid SetLevel broke the logger")
	}
}
