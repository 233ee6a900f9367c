package cspring

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

func testSeed(b byte) [SeedSize]byte {
	var seed [SeedSize]byte
	for i := range seed {
		seed[i] = b + byte(i)
	}
	return seed
}

func TestGeneratorDeterministic(t *testing.T) {
	g1 := New(testSeed(1))
	g2 := New(testSeed(1))
	for _, n := range []int{1, 3, 24, 32, 33, 100, 4096} {
		a, err := g1.Get(n)
		if err != nil {
			t.Fatalf("get %d from g1 failed: %v", n, err)
		}
		b, err := g2.Get(n)
		if err != nil {
			t.Fatalf("get %d from g2 failed: %v", n, err)
		}
		if !bytes.Equal(a, b) {
			t.Fatalf("streams diverged at n=%d", n)
		}
	}
	if g1.Counter() != g2.Counter() {
		t.Fatalf("counters diverged: %d vs %d", g1.Counter(), g2.Counter())
	}
}

func TestGeneratorSeedSensitivity(t *testing.T) {
	a, _ := New(testSeed(1)).Get(32)
	b, _ := New(testSeed(2)).Get(32)
	if bytes.Equal(a, b) {
		t.Fatal("different seeds produced identical output")
	}
}

func TestGeneratorNoWindowRepeatBeforeReseed(t *testing.T) {
	g := New(testSeed(7))
	var stream []byte
	for g.Counter()+6 < ReseedInterval {
		nonce, err := g.Get(24)
		if err != nil {
			t.Fatalf("get nonce failed: %v", err)
		}
		stream = append(stream, nonce...)
	}
	if g.Reseeds() != 0 {
		t.Fatalf("unexpected reseed inside window: %d", g.Reseeds())
	}
	seen := make(map[string]int, len(stream))
	for i := 0; i+32 <= len(stream); i++ {
		w := string(stream[i : i+32])
		if prev, ok := seen[w]; ok {
			t.Fatalf("32-byte window at %d repeats window at %d", i, prev)
		}
		seen[w] = i
	}
}

func TestGeneratorSuccessiveNoncesDiffer(t *testing.T) {
	g := New(testSeed(3))
	prev, _ := g.Get(24)
	for i := 0; i < 2*ReseedInterval; i++ {
		next, err := g.Get(24)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if bytes.Equal(prev, next) {
			t.Fatalf("nonce %d repeated", i)
		}
		prev = next
	}
}

func TestGeneratorCounterAdvancesByWords(t *testing.T) {
	g := New(testSeed(4))
	if _, err := g.Get(24); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if g.Counter() != 6 {
		t.Fatalf("expected counter 6, got %d", g.Counter())
	}
	if _, err := g.Get(5); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if g.Counter() != 8 {
		t.Fatalf("expected counter 8, got %d", g.Counter())
	}
	if _, err := g.Get(100); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if g.Counter() != 33 {
		t.Fatalf("expected counter 33, got %d", g.Counter())
	}
}

func TestGeneratorReseedsAndRunsHook(t *testing.T) {
	g := New(testSeed(5))
	hooks := 0
	g.OnReseed(func() { hooks++ })
	if _, err := g.Get(ReseedInterval*wordSize + 32); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if g.Reseeds() != 1 || hooks != 1 {
		t.Fatalf("expected one reseed, got reseeds=%d hooks=%d", g.Reseeds(), hooks)
	}
}

func TestGeneratorReseedChangesDigestOneWay(t *testing.T) {
	g := New(testSeed(6))
	before := g.digest
	g.reseed()
	if before == g.digest {
		t.Fatal("reseed did not change digest")
	}
	for _, w := range g.state[:digestWords] {
		if w != 0 {
			t.Fatal("reseed left digest words in input block")
		}
	}
}

func TestGeneratorClearsSeedFromState(t *testing.T) {
	g := New(testSeed(9))
	for i, w := range g.state[:digestWords] {
		if w != 0 {
			t.Fatalf("seed word %d still present", i)
		}
	}
}

func TestGeneratorCounterOverflowIsFault(t *testing.T) {
	g := New(testSeed(8))
	g.ctr = math.MaxUint64 - 2
	buf := make([]byte, 24)
	if _, err := g.Read(buf); !errors.Is(err, ErrGeneratorFault) {
		t.Fatalf("expected ErrGeneratorFault, got %v", err)
	}
	if g.ctr != math.MaxUint64-2 {
		t.Fatal("counter advanced on fault")
	}
}

func TestGeneratorNegativeLengthIsFault(t *testing.T) {
	if _, err := New(testSeed(1)).Get(-1); !errors.Is(err, ErrGeneratorFault) {
		t.Fatalf("expected ErrGeneratorFault, got %v", err)
	}
}
