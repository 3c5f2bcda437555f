package bigcache

import (
	"context"
	"testing"
	"time"
)

func TestSetGetDel(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, Config{LifeWindow: time.Minute, MaxEntriesInWindow: 100, MaxEntrySize: 256})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close(ctx)

	if _, hit, err := p.Get(ctx, "missing"); hit || err != nil {
		t.Fatalf("miss: hit=%v err=%v", hit, err)
	}
	ok, err := p.Set(ctx, "park:qc:1", []byte("record"), 0)
	if err != nil || !ok {
		t.Fatalf("set: ok=%v err=%v", ok, err)
	}
	b, hit, err := p.Get(ctx, "park:qc:1")
	if err != nil || !hit || string(b) != "record" {
		t.Fatalf("get: %q hit=%v err=%v", b, hit, err)
	}
	if err := p.Del(ctx, "park:qc:1"); err != nil {
		t.Fatal(err)
	}
	// deleting twice is fine
	if err := p.Del(ctx, "park:qc:1"); err != nil {
		t.Fatal(err)
	}
}
