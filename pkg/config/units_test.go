package config

import (
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"10s", 10 * time.Second, false},
		{"1m", 1 * time.Minute, false},
		{"1.5h", 90 * time.Minute, false},
		{"1d", 24 * time.Hour, false},
		{"1w", 168 * time.Hour, false},
		{"2d2h", 50 * time.Hour, false},
		{"100ms", 100 * time.Millisecond, false},
		{"", 0, false},
		{"invalid", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseDuration(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDuration(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.expected {
			t.Errorf("ParseDuration(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		input    string
		expected ByteSize
		wantErr  bool
	}{
		{"5MB", 5 * MB, false},
		{"512kb", 512 * KB, false},
		{"1GB", GB, false},
		{"42B", 42, false},
		{"1000", 1000, false},
		{"1.5MB", ByteSize(1.5 * float64(MB)), false},
		{"-1MB", 0, true},
		{"lots", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseByteSize(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseByteSize(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.expected {
			t.Errorf("ParseByteSize(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	type testConfig struct {
		Wait Duration `yaml:"wait"`
		Max  ByteSize `yaml:"max"`
	}

	var cfg testConfig
	if err := yaml.Unmarshal([]byte("wait: 2d\nmax: 5MB\n"), &cfg); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if cfg.Wait.Std() != 48*time.Hour {
		t.Errorf("expected 48h, got %v", cfg.Wait.Std())
	}
	if cfg.Max != 5*MB {
		t.Errorf("expected 5MB, got %d", cfg.Max)
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(out) != "wait: 48h0m0s\nmax: 5MB\n" {
		t.Errorf("unexpected YAML: %q", string(out))
	}
}

func TestByteSize_NumericYAML(t *testing.T) {
	var b ByteSize
	if err := yaml.Unmarshal([]byte("2048"), &b); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if b != 2*KB {
		t.Errorf("expected 2048, got %d", b)
	}
}
