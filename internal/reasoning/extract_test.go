package reasoning_test

import (
	"errors"
	"testing"

	"github.com/resilienthike/clinical-swarm/internal/reasoning"
)

func TestFirstJSONObject(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{
			name: "bare object",
			in:   `{"a": 1}`,
			want: `{"a": 1}`,
		},
		{
			name: "leading and trailing prose",
			in:   "Sure! Here is the JSON you asked for:\n{\"a\": 1}\nLet me know if you need anything else.",
			want: `{"a": 1}`,
		},
		{
			name: "nested objects returned whole",
			in:   `prefix {"outer": {"inner": {"deep": true}}} suffix`,
			want: `{"outer": {"inner": {"deep": true}}}`,
		},
		{
			name: "braces inside strings do not unbalance",
			in:   `{"note": "use {curly} braces }{ freely"}`,
			want: `{"note": "use {curly} braces }{ freely"}`,
		},
		{
			name: "escaped quote inside string",
			in:   `{"note": "he said \"}\" loudly"}`,
			want: `{"note": "he said \"}\" loudly"}`,
		},
		{
			name: "first of two objects wins",
			in:   `{"first": 1} and then {"second": 2}`,
			want: `{"first": 1}`,
		},
		{
			name:    "no object at all",
			in:      "I could not produce any structured output, sorry.",
			wantErr: true,
		},
		{
			name:    "unterminated object",
			in:      `{"a": {"b": 1}`,
			wantErr: true,
		},
		{
			name:    "empty input",
			in:      "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := reasoning.FirstJSONObject(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				if !errors.Is(err, reasoning.ErrMalformedOutput) {
					t.Fatalf("error %v is not ErrMalformedOutput", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseObject(t *testing.T) {
	obj, err := reasoning.ParseObject("noise before {\"risk_score\": 0.9, \"reason\": \"x\"} noise after")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(obj["risk_score"]) != "0.9" {
		t.Fatalf("risk_score raw = %s", obj["risk_score"])
	}

	// A balanced span that is not valid JSON must fail as malformed output.
	if _, err := reasoning.ParseObject(`{"a": }`); !errors.Is(err, reasoning.ErrMalformedOutput) {
		t.Fatalf("expected ErrMalformedOutput, got %v", err)
	}
}

func TestRequireKeys(t *testing.T) {
	obj, err := reasoning.ParseObject(`{"present": 1, "nullish": null}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := reasoning.RequireKeys(obj, "present"); err != nil {
		t.Fatalf("present key reported missing: %v", err)
	}
	if err := reasoning.RequireKeys(obj, "absent"); !errors.Is(err, reasoning.ErrMalformedOutput) {
		t.Fatalf("expected ErrMalformedOutput for absent key, got %v", err)
	}
	if err := reasoning.RequireKeys(obj, "nullish"); !errors.Is(err, reasoning.ErrMalformedOutput) {
		t.Fatalf("expected ErrMalformedOutput for null key, got %v", err)
	}
}
