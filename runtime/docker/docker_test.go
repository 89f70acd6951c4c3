package docker

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParsePlayerList(t *testing.T) {
	cases := []struct {
		name      string
		out       string
		wantCount int
		wantNames []string
	}{
		{
			name:      "two players",
			out:       "There are 2 of a max of 20 players online: alice, bob",
			wantCount: 2,
			wantNames: []string{"alice", "bob"},
		},
		{
			name:      "empty server",
			out:       "There are 0 of a max of 20 players online: ",
			wantCount: 0,
			wantNames: []string{},
		},
		{
			name:      "no name suffix",
			out:       "There are 0 of a max of 20 players online",
			wantCount: 0,
			wantNames: []string{},
		},
		{
			name:      "single player",
			out:       "There are 1 of a max of 20 players online: alice",
			wantCount: 1,
			wantNames: []string{"alice"},
		},
		{
			name:      "unexpected output",
			out:       "RCON not ready",
			wantCount: 0,
			wantNames: []string{},
		},
		{
			name:      "empty output",
			out:       "",
			wantCount: 0,
			wantNames: []string{},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			count, names := parsePlayerList(tc.out)
			if count != tc.wantCount {
				t.Errorf("count = %d, want %d", count, tc.wantCount)
			}
			if diff := cmp.Diff(tc.wantNames, names); diff != "" {
				t.Errorf("names mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
