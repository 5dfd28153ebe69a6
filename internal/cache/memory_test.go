package cache

import (
	"testing"
	"time"

	"jamsync/pkg/models"
)

func TestMemoryCacheSetGet(t *testing.T) {
	c := NewMemoryCache(time.Minute)

	c.Set("k", 42)
	if v, ok := c.Get("k"); !ok || v.(int) != 42 {
		t.Errorf("Get(k) = %v,%v, want 42,true", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) hit")
	}

	c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Error("Get after Delete hit")
	}
}

func TestMemoryCacheExpiration(t *testing.T) {
	c := NewMemoryCache(10 * time.Millisecond)

	c.Set("k", "v")
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("expired entry still readable")
	}
}

func TestSongCache(t *testing.T) {
	sc := NewSongCache()

	songs := []models.Song{{ID: "a", Title: "A"}, {ID: "b", Title: "B"}}
	sc.SetSongs("all", songs)

	got, ok := sc.GetSongs("all")
	if !ok || len(got) != 2 || got[1].ID != "b" {
		t.Errorf("GetSongs() = %v,%v", got, ok)
	}

	sc.Clear()
	if _, ok := sc.GetSongs("all"); ok {
		t.Error("GetSongs after Clear hit")
	}
}
