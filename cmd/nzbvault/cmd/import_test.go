package cmd

import "testing"

func TestJobNameFor(t *testing.T) {
	cases := map[string]string{
		"movie.nzb":        "movie",
		"Show.S01E01.nzb":  "Show.S01E01",
		"no-extension":     "no-extension",
		"archive.tar.gz":   "archive.tar",
	}
	for in, want := range cases {
		if got := jobNameFor(in); got != want {
			t.Errorf("jobNameFor(%q) = %q, want %q", in, got, want)
		}
	}
}
