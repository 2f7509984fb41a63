package fsdaemon

import "testing"

func TestContentCacheGetSetDelete(t *testing.T) {
	c := newContentCache()

	if _, ok := c.Get("https://a"); ok {
		t.Fatal("want no entry before Set")
	}

	c.Set("https://a", "hello")
	got, ok := c.Get("https://a")
	if !ok || got != "hello" {
		t.Fatalf("Get = (%q, %v), want (hello, true)", got, ok)
	}

	c.Set("https://a", "world")
	got, ok = c.Get("https://a")
	if !ok || got != "world" {
		t.Fatalf("Get after overwrite = (%q, %v), want (world, true)", got, ok)
	}

	c.Delete("https://a")
	if _, ok := c.Get("https://a"); ok {
		t.Error("want no entry after Delete")
	}
}
