package pow

import (
	"context"
	"testing"
	"time"
)

func TestDefaultSolver_FindsNonceMeetingDifficulty(t *testing.T) {
	s := NewDefaultSolver()
	c := Challenge{Value: "chal", Salt: "salt", Difficulty: 8, MaxNonce: 1_000_000}

	nonce, err := s.Solve(context.Background(), c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !meetsDifficulty(digest(c.Value, c.Salt, nonce), c.Difficulty) {
		t.Fatalf("nonce %d does not actually meet difficulty %d", nonce, c.Difficulty)
	}
}

func TestDefaultSolver_ZeroDifficultyAcceptsFirstNonce(t *testing.T) {
	s := NewDefaultSolver()
	nonce, err := s.Solve(context.Background(), Challenge{Value: "x", Salt: "y", Difficulty: 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if nonce != 0 {
		t.Fatalf("expected nonce 0 to satisfy zero difficulty, got %d", nonce)
	}
}

func TestDefaultSolver_RespectsContextCancellation(t *testing.T) {
	s := NewDefaultSolver()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Solve(ctx, Challenge{Value: "x", Salt: "y", Difficulty: 32, MaxNonce: 1 << 30})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestDefaultSolver_GivesUpAtMaxNonce(t *testing.T) {
	s := NewDefaultSolver()
	_, err := s.Solve(context.Background(), Challenge{Value: "x", Salt: "y", Difficulty: 30, MaxNonce: 10})
	if err == nil {
		t.Fatal("expected exhaustion error for an unreachable difficulty within 10 nonces")
	}
}

func TestMeetsDifficulty_PartialByteMask(t *testing.T) {
	var sum [32]byte
	sum[0] = 0x00
	sum[1] = 0x0F // top nibble zero, bottom nibble set

	if !meetsDifficulty(sum, 12) {
		t.Fatal("expected 12 leading zero bits to be satisfied")
	}
	if meetsDifficulty(sum, 13) {
		t.Fatal("expected 13 leading zero bits to fail: bit 13 is set")
	}
}

func TestDefaultSolver_CompletesQuickly(t *testing.T) {
	start := time.Now()
	s := NewDefaultSolver()
	if _, err := s.Solve(context.Background(), Challenge{Value: "speed", Salt: "check", Difficulty: 10, MaxNonce: 10_000_000}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("solver took implausibly long for difficulty 10")
	}
}
