package manifest

import (
	"reflect"
	"testing"
)

func TestBuildNormalization(t *testing.T) {
	tests := []struct {
		name  string
		names []string
		opt   Options
		want  string
	}{
		{
			name:  "relative strips leading slashes",
			names: []string{"/a/b.txt", `c\d.txt`},
			opt:   Options{},
			want:  "a/b.txt\nc/d.txt",
		},
		{
			name:  "absolute forces leading slash",
			names: []string{"a/b.txt"},
			opt:   Options{AbsolutePaths: true},
			want:  "/a/b.txt",
		},
		{
			name:  "absolute strips drive letter",
			names: []string{`C:\Users\a.txt`},
			opt:   Options{AbsolutePaths: true},
			want:  "/Users/a.txt",
		},
		{
			name:  "trim keeps only basename",
			names: []string{"a/b/c.txt"},
			opt:   Options{TrimPaths: true},
			want:  "c.txt",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := string(Build(tc.names, tc.opt))
			if got != tc.want {
				t.Errorf("Build(%v, %+v) = %q, want %q", tc.names, tc.opt, got, tc.want)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	names := []string{"a.txt", "dir/b.txt", "c.txt"}
	built := Build(names, Options{})
	got, err := Parse(built, len(names))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, names) {
		t.Errorf("Parse round trip = %v, want %v", got, names)
	}
}

func TestParseCountMismatch(t *testing.T) {
	built := Build([]string{"a.txt", "b.txt"}, Options{})
	if _, err := Parse(built, 3); err == nil {
		t.Fatal("expected error on name-count mismatch")
	}
}

func TestParseEmpty(t *testing.T) {
	got, err := Parse(nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("Parse(nil, 0) = %v, want empty", got)
	}
}
