package ristretto

import (
	"context"
	"testing"
	"time"
)

func TestSetGetDel(t *testing.T) {
	p, err := New(Config{NumCounters: 1000, MaxCost: 1 << 20, BufferItems: 64})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close(context.Background())
	ctx := context.Background()

	ok, err := p.Set(ctx, "park:qc:1", []byte("record"), time.Minute)
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
	if _, hit, _ := p.Get(ctx, "park:qc:1"); hit {
		t.Fatal("hit after delete")
	}
}

func TestInvalidConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for zero config")
	}
}
