package fsdaemon

import "testing"

func TestIsBinaryPath(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"/root/photo.PNG", true},
		{"/root/photo.jpg", true},
		{"/root/archive.tar", true},
		{"/root/notes.txt", false},
		{"/root/readme.md", false},
		{"/root/icon.svg", false},
		{"/root/noextension", false},
	}
	for _, c := range cases {
		if got := isBinaryPath(c.path); got != c.want {
			t.Errorf("isBinaryPath(%q) = %v, want %v", c.path, got, c.want)
		}
	}
}

func TestExtensionOfIsCaseFolded(t *testing.T) {
	if got := extensionOf("/a/b/Image.PNG"); got != ".png" {
		t.Errorf("extensionOf = %q, want .png", got)
	}
}
