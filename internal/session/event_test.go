package session

import (
	"testing"
	"time"
)

func TestDedupKeyBucketing(t *testing.T) {
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	bucket := 2 * time.Second

	tests := []struct {
		name     string
		a, b     time.Time
		sameKey  bool
	}{
		{"SameInstant", base, base, true},
		{"WithinBucket", base, base.Add(500 * time.Millisecond), true},
		{"AcrossBucketBoundary", base, base.Add(2 * time.Second), false},
		{"FarApart", base, base.Add(time.Minute), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ka := DedupKey(MicToggle, "student-7:mic", tt.a, bucket)
			kb := DedupKey(MicToggle, "student-7:mic", tt.b, bucket)
			if (ka == kb) != tt.sameKey {
				t.Errorf("keys %q / %q: same = %v, want %v", ka, kb, ka == kb, tt.sameKey)
			}
		})
	}
}

func TestDedupKeyDistinguishesSignals(t *testing.T) {
	at := time.Now()
	if DedupKey(Chat, "sig-1", at, time.Second) == DedupKey(Chat, "sig-2", at, time.Second) {
		t.Error("different signal ids produced the same dedup key")
	}
	if DedupKey(MicToggle, "sig-1", at, time.Second) == DedupKey(CameraToggle, "sig-1", at, time.Second) {
		t.Error("different interaction types produced the same dedup key")
	}
}

func TestParseInteractionType(t *testing.T) {
	for name, want := range interactionFromName {
		got, ok := ParseInteractionType(name)
		if !ok || got != want {
			t.Errorf("ParseInteractionType(%q) = %v, %v", name, got, ok)
		}
	}
	if _, ok := ParseInteractionType("applause"); ok {
		t.Error("unknown interaction name parsed successfully")
	}
}
