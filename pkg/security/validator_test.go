package security

import (
	"bytes"
	"testing"
)

func TestValidateFilename(t *testing.T) {
	v := NewValidator(1024, 10.0)

	tests := []struct {
		name      string
		shouldErr bool
	}{
		{"2024-11-19-raspios-bookworm-arm64-lite.img.xz", false},
		{"", true},
		{"../etc/passwd", true},
		{"/etc/passwd", true},
		{"dir/file.img.xz", true},
		{`dir\file.img.xz`, true},
	}

	for _, tt := range tests {
		err := v.ValidateFilename(tt.name)
		if tt.shouldErr && err == nil {
			t.Errorf("expected error for filename: %q", tt.name)
		}
		if !tt.shouldErr && err != nil {
			t.Errorf("unexpected error for filename %q: %v", tt.name, err)
		}
	}
}

func TestValidateImageSize(t *testing.T) {
	v := NewValidator(100, 10.0)

	if err := v.ValidateImageSize(100); err != nil {
		t.Errorf("expected no error at the limit, got: %v", err)
	}
	if err := v.ValidateImageSize(101); err == nil {
		t.Error("expected error for size 101 exceeding limit 100")
	}
}

func TestValidateCompressionRatio(t *testing.T) {
	v := NewValidator(1024, 10.0)

	if err := v.ValidateCompressionRatio(10, 100); err != nil {
		t.Errorf("expected no error for ratio 10.0, got: %v", err)
	}
	if err := v.ValidateCompressionRatio(50, 1000); err == nil {
		t.Error("expected error for ratio 20.0 exceeding limit 10.0")
	}
	if err := v.ValidateCompressionRatio(0, 10); err == nil {
		t.Error("expected error for zero compressed size")
	}
}

func TestLimitWriter(t *testing.T) {
	v := NewValidator(1000, 4.0)
	var buf bytes.Buffer

	w := v.LimitWriter(&buf, 100)
	if _, err := w.Write(make([]byte, 300)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := w.Write(make([]byte, 100)); err != nil {
		t.Fatalf("unexpected error at ratio 4.0: %v", err)
	}
	if _, err := w.Write(make([]byte, 1)); err == nil {
		t.Error("expected ratio error above 4.0")
	}
	if buf.Len() != 400 {
		t.Errorf("expected 400 bytes passed through, got %d", buf.Len())
	}

	// A new writer starts from zero.
	w = v.LimitWriter(&buf, 1000)
	if v.Written() != 0 {
		t.Errorf("expected reset counter, got %d", v.Written())
	}
	if _, err := w.Write(make([]byte, 1001)); err == nil {
		t.Error("expected size error above 1000")
	}
}

func TestRecordValidation(t *testing.T) {
	if err := ValidateHostname("pi-test"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	for _, bad := range []string{"", "-pi", "pi-", "pi_test", "pi.local", string(bytes.Repeat([]byte("a"), 64))} {
		if ValidateHostname(bad) == nil {
			t.Errorf("expected error for hostname %q", bad)
		}
	}

	if err := ValidateUsername("pi"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	for _, bad := range []string{"root", "Pi", "1pi", ""} {
		if ValidateUsername(bad) == nil {
			t.Errorf("expected error for username %q", bad)
		}
	}

	if err := ValidateCountry("GB"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	for _, bad := range []string{"gb", "GBR", ""} {
		if ValidateCountry(bad) == nil {
			t.Errorf("expected error for country %q", bad)
		}
	}

	if ValidateQuoted("ssid", "home\nnet") == nil {
		t.Error("expected error for newline in ssid")
	}
}
