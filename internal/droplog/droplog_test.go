package droplog

import (
	"strings"
	"testing"
	"time"
)

func TestSanitizeRedactsSecrets(t *testing.T) {
	raw := "oauth:abcdefghijklmnopqrstuvwxyz123456 token=QWxhZGRpbjpPcGVuU2VzYW1lMTIzNDU2Nzg5MA== Bearer abc"
	got := Sanitize(raw, 300)
	if strings.Contains(strings.ToLower(got), "oauth:abcdefghijkl") {
		t.Fatalf("expected oauth token redaction, got %q", got)
	}
	if strings.Contains(got, "QWxhZGRpbjpPcGVuU2VzYW1lMTIzNDU2Nzg5MA==") {
		t.Fatalf("expected long token redaction, got %q", got)
	}
	if !strings.Contains(got, "oauth:[REDACTED]") || !strings.Contains(got, "Bearer [REDACTED]") {
		t.Fatalf("expected redaction markers, got %q", got)
	}
}

func TestSanitizeRedactsPassLine(t *testing.T) {
	if got := Sanitize("PASS oauth:supersecrettokenvalue", 200); got != "PASS [REDACTED]" {
		t.Fatalf("expected PASS redaction, got %q", got)
	}
}

func TestSanitizeTruncates(t *testing.T) {
	got := Sanitize(strings.Repeat("a b ", 50), 10)
	if len(got) != 10 || !strings.HasSuffix(got, "...") {
		t.Fatalf("unexpected truncation %q", got)
	}
}

func TestLoggerFlushesPerInterval(t *testing.T) {
	now := time.Unix(1700000000, 0)
	d := New("test", now, false, time.Second)
	d.Note(now, "malformed", Item{Kind: "gift", Sample: "{bad"})
	d.Note(now, "malformed", Item{Kind: "gift", Sample: "{worse"})
	if len(d.reasons) != 1 || d.reasons["malformed"].total != 2 {
		t.Fatalf("expected aggregated reason, got %+v", d.reasons)
	}
	if d.reasons["malformed"].sampleBy["gift"] != "{bad" {
		t.Fatalf("first sample should be kept")
	}
	d.Note(now.Add(2*time.Second), "ignored", Item{Kind: "like"})
	if len(d.reasons) != 0 {
		t.Fatalf("expected flush after interval")
	}
	if d.Total() != 3 {
		t.Fatalf("total = %d", d.Total())
	}
	var nilLogger *Logger
	nilLogger.Note(now, "x", Item{})
	nilLogger.Flush(now)
}
