package infra

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestNewRedisClientPings(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr()+"/0", "")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	if err := client.Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := mr.Exists("k"); !got {
		t.Fatal("expected key written through the client")
	}
}

func TestConstructorsRejectEmptyURL(t *testing.T) {
	if _, err := NewRedisClient(context.Background(), "", ""); err == nil {
		t.Fatal("expected error for empty redis url")
	}
	if _, err := NewPostgresPool(context.Background(), "", ""); err == nil {
		t.Fatal("expected error for empty database url")
	}
	if _, err := NewPostgresPool(context.Background(), "::not a url::", ""); err == nil {
		t.Fatal("expected error for malformed database url")
	}
}
