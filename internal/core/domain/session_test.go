package domain

import (
	"reflect"
	"testing"
)

func TestNormalizeTags(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{
			name: "nil stays nil",
			in:   nil,
			want: nil,
		},
		{
			name: "case-insensitive duplicates keep first spelling",
			in:   []string{"Web", "web", "WEB", "db"},
			want: []string{"Web", "db"},
		},
		{
			name: "whitespace is trimmed and empties dropped",
			in:   []string{"  prod ", "", "   "},
			want: []string{"prod"},
		},
		{
			name: "order is preserved",
			in:   []string{"b", "a", "B"},
			want: []string{"b", "a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeTags(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("NormalizeTags(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSessionDefaults(t *testing.T) {
	s := Session{Name: "web", Host: "example.com"}

	if got := s.EffectiveGroup(); got != DefaultGroup {
		t.Fatalf("EffectiveGroup() = %q, want %q", got, DefaultGroup)
	}
	if got := s.EffectivePort(); got != DefaultSSHPort {
		t.Fatalf("EffectivePort() = %d, want %d", got, DefaultSSHPort)
	}

	s.Group = "Prod"
	s.Port = 2222
	if got := s.EffectiveGroup(); got != "Prod" {
		t.Fatalf("EffectiveGroup() = %q, want %q", got, "Prod")
	}
	if got := s.EffectivePort(); got != 2222 {
		t.Fatalf("EffectivePort() = %d, want %d", got, 2222)
	}
}

func TestSessionHasTag(t *testing.T) {
	s := Session{Tags: []string{"Web", "db"}}

	if !s.HasTag("web") {
		t.Fatal("expected HasTag to match case-insensitively")
	}
	if s.HasTag("cache") {
		t.Fatal("expected HasTag to miss an absent tag")
	}
}

func TestSplitParams(t *testing.T) {
	got := SplitParams("  -X   -v\t-C ")
	want := []string{"-X", "-v", "-C"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SplitParams() = %v, want %v", got, want)
	}

	if got := SplitParams(""); len(got) != 0 {
		t.Fatalf("SplitParams(\"\") = %v, want empty", got)
	}
}
