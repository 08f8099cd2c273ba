//go:build integration
// +build integration

package cache

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

// TestMongoStore_Integration verifies the Store contract against MONGO_URI (default localhost).
func TestMongoStore_Integration(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}
	ctx := context.Background()
	collection := fmt.Sprintf("descriptions_test_%d", time.Now().UnixNano())

	s, err := NewMongoStore(ctx, uri, "hinyari_test", collection, 2*time.Second)
	if err != nil {
		t.Skipf("mongo not reachable: %v", err)
	}
	defer func() {
		_ = s.collection.Drop(ctx)
		_ = s.Close(ctx)
	}()

	exerciseStore(t, s)
}
