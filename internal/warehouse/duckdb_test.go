package warehouse

import (
	"context"
	"fmt"
	"testing"

	"github.com/eventtide/pipeline/internal/daykey"
)

func TestSetStatement(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"memory_limit", "4GB", "SET memory_limit = '4GB'"},
		{"s3_region", "us-east-1", "SET s3_region = 'us-east-1'"},
		{"s3_secret_access_key", "ab'cd", "SET s3_secret_access_key = 'ab''cd'"},
	}
	for _, tt := range tests {
		if got := setStatement(tt.name, tt.value); got != tt.want {
			t.Errorf("setStatement(%q, %q) = %q, want %q", tt.name, tt.value, got, tt.want)
		}
	}
}

// The sampling expression below is the one the ingestion engine embeds
// in its tier inserts. Go-side bucket derivation has to agree with it
// for every identifier, hex or not, or re-sampled exports drift from
// the warehouse tiers.
func TestBucketExpressionMatchesBucketOf(t *testing.T) {
	ctx := context.Background()
	gw, err := OpenMemory(ctx)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer gw.Close()

	if err := gw.Execute(ctx, "CREATE TABLE sample_ids (id VARCHAR NOT NULL)"); err != nil {
		t.Fatalf("creating table: %v", err)
	}

	ids := []string{
		"00000000aabbccdd",
		"00000063aabbccdd",
		"deadbeefcafe",
		"ABCDEF12cafe",
		"12",
		"1z34567890",
		"abc-defg-rest",
		"12zz34",
		"zzzz",
	}
	for _, id := range ids {
		if err := gw.Execute(ctx, "INSERT INTO sample_ids VALUES (?)", id); err != nil {
			t.Fatalf("inserting %q: %v", id, err)
		}
	}

	const bucketQuery = `SELECT 1 FROM sample_ids
WHERE id = ?
AND COALESCE(TRY_CAST('0x' || substr(id, 1, 8) AS BIGINT) % 100, 0) = ?`

	for _, id := range ids {
		want := daykey.BucketOf(id, 100)
		agrees, err := gw.Exists(ctx, bucketQuery, id, want)
		if err != nil {
			t.Fatalf("bucket query for %q: %v", id, err)
		}
		if !agrees {
			t.Errorf("warehouse bucket for %q differs from BucketOf = %d", id, want)
		}
	}
}

func TestInTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	gw, err := OpenMemory(ctx)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer gw.Close()

	if err := gw.Execute(ctx, "CREATE TABLE t (x INTEGER)"); err != nil {
		t.Fatalf("creating table: %v", err)
	}

	injected := fmt.Errorf("boom")
	err = gw.InTransaction(ctx, func(tx Gateway) error {
		if err := tx.Execute(ctx, "INSERT INTO t VALUES (1)"); err != nil {
			return err
		}
		return injected
	})
	if err != injected {
		t.Fatalf("InTransaction error = %v, want the body's error", err)
	}

	has, err := gw.Exists(ctx, "SELECT 1 FROM t")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if has {
		t.Error("row survived a rolled-back transaction")
	}

	err = gw.InTransaction(ctx, func(tx Gateway) error {
		return tx.Execute(ctx, "INSERT INTO t VALUES (2)")
	})
	if err != nil {
		t.Fatalf("InTransaction: %v", err)
	}
	has, err = gw.Exists(ctx, "SELECT 1 FROM t WHERE x = 2")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !has {
		t.Error("committed row is missing")
	}
}
