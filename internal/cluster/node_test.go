package cluster

import "testing"

func TestHasQuorum(t *testing.T) {
	cases := []struct {
		name       string
		healthy    int
		total      int
		wantQuorum bool
	}{
		{"three node cluster both peers healthy", 2, 2, true},
		{"three node cluster one peer healthy", 1, 2, false},
		{"three node cluster no peers healthy", 0, 2, false},
		{"single node cluster no peers", 0, 0, true},
		{"five node cluster three of four healthy", 3, 4, true},
		{"five node cluster two of four healthy", 2, 4, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := HasQuorum(tc.healthy, tc.total); got != tc.wantQuorum {
				t.Errorf("HasQuorum(%d, %d) = %v, want %v", tc.healthy, tc.total, got, tc.wantQuorum)
			}
		})
	}
}
