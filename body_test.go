// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package pnp

import (
	"strings"
	"testing"
)

// TestBody tests the fluent payload builder
func TestBody(t *testing.T) {
	tests := []struct {
		name    string
		body    Body
		want    string
		wantErr string
	}{
		{
			name: "set values",
			body: Body{}.Set("siteName", "alpha").Set("deviceCount", 2),
			want: `{"siteName":"alpha","deviceCount":2}`,
		},
		{
			name: "nested path",
			body: Body{}.Set("deviceDetails.hostName", "switch1"),
			want: `{"deviceDetails":{"hostName":"switch1"}}`,
		},
		{
			name: "set raw",
			body: Body{}.SetRaw("tags", `["lab","core"]`),
			want: `{"tags":["lab","core"]}`,
		},
		{
			name:    "set raw invalid",
			body:    Body{}.SetRaw("tags", `["lab"`),
			wantErr: `SetRaw("tags"): value is not valid JSON`,
		},
		{
			name:    "error is sticky",
			body:    Body{}.SetRaw("a", "{").Set("b", 1).Delete("b").Array(),
			wantErr: `SetRaw("a")`,
		},
		{
			name: "delete",
			body: Body{}.Set("a", 1).Set("b", 2).Delete("a"),
			want: `{"b":2}`,
		},
		{
			name: "array",
			body: Body{}.Set("hostName", "switch1").Array(),
			want: `[{"hostName":"switch1"}]`,
		},
		{
			name: "empty array",
			body: Body{}.Array(),
			want: `[{}]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.body.String()
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error containing %q", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("error = %q, want substring %q", err.Error(), tt.wantErr)
				}
				if tt.body.Res() != "" {
					t.Error("Res() should be empty on error")
				}
				if _, err := tt.body.Bytes(); err == nil {
					t.Error("Bytes() should return the error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("String() = %s, want %s", got, tt.want)
			}
			if tt.body.Err() != nil {
				t.Errorf("Err() = %v", tt.body.Err())
			}
		})
	}
}

// TestBody_Immutable verifies each call returns a new Body
func TestBody_Immutable(t *testing.T) {
	base := Body{}.Set("siteName", "alpha")
	_ = base.Set("note", "lab")

	if got := base.Res(); got != `{"siteName":"alpha"}` {
		t.Errorf("base modified: %s", got)
	}
}
