package pagestate_test

import (
	"sync"
	"testing"

	"github.com/ariabot/ariabot/internal/pagestate"
)

func TestRegistry_PutGet(t *testing.T) {
	r := pagestate.New()
	r.Put(pagestate.ViewHistory, 42, pagestate.Cursor{Page: 2, Total: 30})

	c, ok := r.Get(pagestate.ViewHistory, 42)
	if !ok {
		t.Fatal("expected cursor to be found")
	}
	if c.Page != 2 || c.Total != 30 {
		t.Fatalf("unexpected cursor: %+v", c)
	}
}

func TestRegistry_GetMissingReturnsFalse(t *testing.T) {
	r := pagestate.New()
	if _, ok := r.Get(pagestate.ViewSearch, 1); ok {
		t.Fatal("expected no cursor for unknown user")
	}
}

func TestRegistry_ViewsAreIndependent(t *testing.T) {
	r := pagestate.New()
	r.Put(pagestate.ViewHistory, 1, pagestate.Cursor{Page: 1})
	r.Put(pagestate.ViewSearch, 1, pagestate.Cursor{Page: 5, Keyword: "ubuntu"})

	h, _ := r.Get(pagestate.ViewHistory, 1)
	s, _ := r.Get(pagestate.ViewSearch, 1)
	if h.Page != 1 || s.Page != 5 || s.Keyword != "ubuntu" {
		t.Fatalf("expected independent cursors, got history=%+v search=%+v", h, s)
	}
}

func TestRegistry_Drop(t *testing.T) {
	r := pagestate.New()
	r.Put(pagestate.ViewHistory, 1, pagestate.Cursor{Page: 1})
	r.Drop(pagestate.ViewHistory, 1)
	if _, ok := r.Get(pagestate.ViewHistory, 1); ok {
		t.Fatal("expected cursor to be dropped")
	}
}

func TestRegistry_DropAllClearsEveryView(t *testing.T) {
	r := pagestate.New()
	r.Put(pagestate.ViewHistory, 1, pagestate.Cursor{Page: 1})
	r.Put(pagestate.ViewSearch, 1, pagestate.Cursor{Page: 2})
	r.Put(pagestate.ViewStatus, 1, pagestate.Cursor{Page: 3})

	r.DropAll(1)

	for _, v := range []pagestate.View{pagestate.ViewHistory, pagestate.ViewSearch, pagestate.ViewStatus} {
		if _, ok := r.Get(v, 1); ok {
			t.Fatalf("expected view %s to be cleared", v)
		}
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := pagestate.New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			userID := int64(n % 5)
			r.Put(pagestate.ViewHistory, userID, pagestate.Cursor{Page: n})
			r.Get(pagestate.ViewHistory, userID)
		}(i)
	}
	wg.Wait()
}
