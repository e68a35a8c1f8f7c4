package main

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseHandles(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    map[string]string
		wantErr bool
	}{
		{
			name: "several",
			args: []string{"leetcode=alice", "cf=alice_cf", "codestudio=3f2a-uuid"},
			want: map[string]string{"leetcode": "alice", "cf": "alice_cf", "codestudio": "3f2a-uuid"},
		},
		{name: "empty username kept", args: []string{"gfg="}, want: map[string]string{"gfg": ""}},
		{name: "none", args: nil, wantErr: true},
		{name: "no separator", args: []string{"leetcode"}, wantErr: true},
		{name: "no platform", args: []string{"=alice"}, wantErr: true},
		{name: "repeated", args: []string{"lc=a", "lc=b"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseHandles(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("handles mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
