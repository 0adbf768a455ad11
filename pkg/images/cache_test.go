package images

import (
	"fmt"
	"sync"
	"testing"
)

func TestCacheGetSet(t *testing.T) {
	c := NewCache()
	if _, ok := c.Get("https://example.test/a.png"); ok {
		t.Fatal("Get() on empty cache reported a hit")
	}

	img := &Image{Key: "https://example.test/a.png", Data: []byte("a")}
	c.Set(img.Key, img)

	got, ok := c.Get(img.Key)
	if !ok || got != img {
		t.Fatalf("Get() = %p, %v; want %p, true", got, ok, img)
	}

	replacement := &Image{Key: img.Key, Data: []byte("b")}
	c.Set(img.Key, replacement)
	if got, _ := c.Get(img.Key); got != replacement {
		t.Errorf("Set() did not replace the existing entry")
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestCacheClear(t *testing.T) {
	c := NewCache()
	c.Set("a", &Image{Key: "a"})
	c.Set("b", &Image{Key: "b"})

	c.Clear()

	if c.Len() != 0 {
		t.Errorf("Len() = %d after Clear, want 0", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("Get() hit after Clear")
	}
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := NewCache()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%4)
			for j := 0; j < 100; j++ {
				c.Set(key, &Image{Key: key})
				if img, ok := c.Get(key); ok && img.Key != key {
					t.Errorf("Get(%q) returned image for %q", key, img.Key)
				}
				if j%50 == 0 {
					c.Clear()
				}
			}
		}(i)
	}
	wg.Wait()
	if c.Len() > 4 {
		t.Errorf("Len() = %d, want at most 4", c.Len())
	}
}
