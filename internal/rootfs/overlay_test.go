package rootfs

import "testing"

func TestJoinColon(t *testing.T) {
	cases := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{"/a"}, "/a"},
		{[]string{"/a", "/b", "/c"}, "/a:/b:/c"},
	}
	for _, c := range cases {
		if got := joinColon(c.in); got != c.want {
			t.Errorf("joinColon(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}
