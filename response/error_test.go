package response

import (
	"fmt"
	"testing"

	"github.com/ashiqtasdid/pegasus-interface-sub000/spec"
)

func TestFromDomain(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", spec.ErrNotFound, 404},
		{"access denied", spec.ErrAccessDenied, 403},
		{"already exists", fmt.Errorf("%w: %q", spec.ErrAlreadyExists, "survival-world"), 409},
		{"conflicting state", fmt.Errorf("%w: instance is starting", spec.ErrConflictingState), 409},
		{"runtime unavailable", fmt.Errorf("%w: engine down", spec.ErrRuntimeUnavailable), 502},
		{"dedicated endpoint", spec.ErrUseDedicatedEndpoint, 400},
		{"unknown", fmt.Errorf("disk full"), 500},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := FromDomain(tc.err); got.StatusCode != tc.want {
				t.Errorf("FromDomain(%v).StatusCode = %d, want %d", tc.err, got.StatusCode, tc.want)
			}
		})
	}
}
