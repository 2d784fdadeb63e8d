package cmn_test

import (
	"testing"

	"github.com/sbraverman/pytomcat/cmn"
)

func TestParseWarfile(t *testing.T) {
	cases := []struct {
		filename string
		want     cmn.WebArchiveRef
	}{
		{"app1.war", cmn.WebArchiveRef{Context: "/app1", Path: "/app1", Version: ""}},
		{"/tmp/app1.war", cmn.WebArchiveRef{Context: "/app1", Path: "/app1", Version: ""}},
		{"app1##1.0.1.war", cmn.WebArchiveRef{Context: "/app1##1.0.1", Path: "/app1", Version: "1.0.1"}},
		{"/tmp/app1##1.0.1.war", cmn.WebArchiveRef{Context: "/app1##1.0.1", Path: "/app1", Version: "1.0.1"}},
		{"app1.WAR", cmn.WebArchiveRef{Context: "/app1", Path: "/app1", Version: ""}},
	}
	for _, c := range cases {
		got, err := cmn.ParseWarfile(c.filename)
		if err != nil {
			t.Fatalf("ParseWarfile(%q): %v", c.filename, err)
		}
		if got != c.want {
			t.Errorf("ParseWarfile(%q) = %+v, want %+v", c.filename, got, c.want)
		}
	}
}

func TestParseWarfileRejectsNonWar(t *testing.T) {
	_, err := cmn.ParseWarfile("app1.zip")
	if err == nil {
		t.Fatalf("expected an error for a non-.war filename")
	}
	if cmn.KindOf(err) != cmn.KindInvalidArchive {
		t.Fatalf("expected InvalidArchive, got %v", cmn.KindOf(err))
	}
}
