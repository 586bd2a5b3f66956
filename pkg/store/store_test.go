package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/guido-cesarano/productdb/pkg/config"
	"github.com/guido-cesarano/productdb/pkg/queue"
)

func TestOpenRedisSharesClient(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer s.Close()

	client := queue.NewClient(s.Addr())
	ts, closeFn, err := Open(context.Background(), config.ResultsConfig{Backend: "redis"}, client)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if ts != client {
		t.Error("Expected the redis backend to be the queue client")
	}
	if err := closeFn(); err != nil {
		t.Errorf("Expected no-op close, got %v", err)
	}
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	if _, _, err := Open(context.Background(), config.ResultsConfig{Backend: "etcd"}, nil); err == nil {
		t.Error("Expected unknown backend to be rejected")
	}
}

func TestOpenMySQLRequiresDSN(t *testing.T) {
	if _, _, err := Open(context.Background(), config.ResultsConfig{Backend: "mysql"}, nil); err == nil {
		t.Error("Expected mysql backend without DSN to fail")
	}
}
