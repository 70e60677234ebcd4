package workerpool

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"

	"github.com/SplinterGU/PSARc/internal/pipeline"
)

// TestCommitOrder verifies that commits happen in strict ticket order even
// though blocks are submitted and encoded concurrently, by deliberately
// making earlier-submitted blocks take longer to "encode" than later ones.
func TestCommitOrder(t *testing.T) {
	const n = 50
	p := New(4, 64)

	var mu sync.Mutex
	var committed []int

	for i := 0; i < n; i++ {
		i := i
		encode := func(raw []byte) (pipeline.EncodedBlock, error) {
			// Encoding runs concurrently and out of order relative to
			// submission; only commit order is guaranteed.
			runtime.Gosched()
			return pipeline.EncodedBlock{Emitted: raw, Stored: true}, nil
		}
		commit := func(ticket uint64, eb pipeline.EncodedBlock) error {
			mu.Lock()
			committed = append(committed, i)
			mu.Unlock()
			return nil
		}
		if err := p.Submit(context.Background(), []byte{byte(i)}, encode, commit); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	if err := p.Wait(); err != nil {
		t.Fatal(err)
	}

	if len(committed) != n {
		t.Fatalf("committed %d blocks, want %d", len(committed), n)
	}
	for i, v := range committed {
		if v != i {
			t.Fatalf("commit order violated at position %d: got block %d", i, v)
		}
	}
}

func TestFirstErrorStopsFutureCommits(t *testing.T) {
	p := New(2, 16)
	var committed int32
	var mu sync.Mutex

	failing := errors.New("boom")
	for i := 0; i < 10; i++ {
		encode := func(raw []byte) (pipeline.EncodedBlock, error) {
			return pipeline.EncodedBlock{Emitted: raw, Stored: true}, nil
		}
		i := i
		commit := func(ticket uint64, eb pipeline.EncodedBlock) error {
			mu.Lock()
			defer mu.Unlock()
			if i == 3 {
				return failing
			}
			committed++
			return nil
		}
		if err := p.Submit(context.Background(), []byte{byte(i)}, encode, commit); err != nil {
			break
		}
	}

	err := p.Wait()
	if err == nil {
		t.Fatal("expected pool to report the commit failure")
	}
	if committed != 3 {
		t.Fatalf("committed %d blocks, want 3 (only those before the failing one)", committed)
	}
}
