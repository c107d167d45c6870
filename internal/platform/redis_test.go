package platform

import (
	"context"
	"testing"
)

func TestNewRedisClient_EmptyURLIsDisabled(t *testing.T) {
	client, err := NewRedisClient(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client != nil {
		t.Error("expected a nil client when redisURL is empty")
	}
}

func TestNewRedisClient_MalformedURL(t *testing.T) {
	client, err := NewRedisClient(context.Background(), "not-a-valid-redis-url")
	if err == nil {
		t.Fatal("expected an error for a malformed redis URL")
	}
	if client != nil {
		t.Error("expected a nil client on a parse error")
	}
}
