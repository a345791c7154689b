package named

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestRegisterRoundTrip(t *testing.T) {
	r := New()

	name := r.Register(0x1000, "recv", "mutex", "0x%x", CallerSite(0))
	assert.Equal(t, "recv.0", name)

	got, ok := r.Get(0x1000)
	require.True(t, ok)
	assert.Equal(t, "recv.0", got)
	assert.Equal(t, "mutex", r.Kind(0x1000))
	assert.Equal(t, "0x%x", r.FormatHint(0x1000))
}

func TestRegisterAutoSuffix(t *testing.T) {
	r := New()

	first := r.Register(0x1000, "recv", "mutex", "", Site{})
	second := r.Register(0x2000, "recv", "mutex", "", Site{})

	assert.Equal(t, "recv.0", first)
	assert.Equal(t, "recv.1", second)
	assert.NotEqual(t, first, second)
}

func TestRegisterReplacesPerKey(t *testing.T) {
	r := New()

	r.Register(0x1000, "old", "mutex", "", Site{})
	name := r.Register(0x1000, "new", "rwlock", "", Site{})

	assert.Equal(t, "new.0", name)
	assert.Equal(t, 1, r.Len())

	got, ok := r.Get(0x1000)
	require.True(t, ok)
	assert.Equal(t, "new.0", got)
	assert.Equal(t, "rwlock", r.Kind(0x1000))
}

func TestRegisterFmtCollision(t *testing.T) {
	r := New()

	name, err := r.RegisterFmt(0x1000, "socket", "fd=%d", Site{}, "client.%d", 17)
	require.NoError(t, err)
	assert.Equal(t, "client.17", name)

	// Same name for the same key is a benign re-registration.
	_, err = r.RegisterFmt(0x1000, "socket", "fd=%d", Site{}, "client.%d", 17)
	assert.NoError(t, err)

	// Same name for a different key is a caller bug.
	_, err = r.RegisterFmt(0x2000, "socket", "fd=%d", Site{}, "client.%d", 17)
	assert.ErrorIs(t, err, ErrNameTaken)
}

func TestUpdate(t *testing.T) {
	r := New()

	r.Register(0x1000, "conn", "socket", "", Site{})
	name := r.Update(0x1000, "client_42")
	assert.Equal(t, "client_42.0", name)

	got, _ := r.Get(0x1000)
	assert.Equal(t, "client_42.0", got)

	assert.Empty(t, r.Update(0x9999, "missing"))
}

func TestUnregisterIdempotent(t *testing.T) {
	r := New()

	r.Register(0x1000, "recv", "mutex", "", Site{})
	r.Unregister(0x1000)
	r.Unregister(0x1000)

	_, ok := r.Get(0x1000)
	assert.False(t, ok)
	assert.Zero(t, r.Len())
}

func TestDescribe(t *testing.T) {
	r := New()

	site := Site{File: "server.go", Line: 42, Function: "main.start"}
	r.Register(0x1000, "recv", "mutex", "0x%x", site)

	desc := r.Describe(0x1000, "mutex")
	assert.Equal(t, "mutex/recv.0 (0x1000) @ server.go:42:main.start()", desc)

	// Unregistered keys degrade to the type hint.
	assert.Equal(t, "rwlock (0x2000)", r.Describe(0x2000, "rwlock"))
}

func TestDescribeFormatHint(t *testing.T) {
	r := New()

	r.Register(7, "stdin_pipe", "fd", "fd=%d", Site{})
	desc := r.Describe(7, "fd")
	assert.Contains(t, desc, "fd/stdin_pipe.0 (fd=7)")
}

func TestNilRegistryDegrades(t *testing.T) {
	var r *Registry

	assert.Equal(t, "recv", r.Register(0x1000, "recv", "mutex", "", Site{}))
	_, ok := r.Get(0x1000)
	assert.False(t, ok)
	assert.Zero(t, r.Len())
	assert.Equal(t, "mutex (0x1000)", r.Describe(0x1000, "mutex"))
	r.Unregister(0x1000)
	r.ForEach(func(uintptr, string) { t.Fatal("callback on nil registry") })
}

// The callback contract: ForEach holds no registry lock while running the
// callback, so callbacks can mutate the registry freely. A violation would
// deadlock this test.
func TestForEachCallbackMayReenter(t *testing.T) {
	r := New()
	for i := uintptr(1); i <= 8; i++ {
		r.Register(i, "res", "mutex", "", Site{})
	}

	var visited int
	r.ForEach(func(key uintptr, _ string) {
		visited++
		r.Register(key+0x100, "nested", "mutex", "", Site{})
		r.Unregister(key)
	})

	assert.Equal(t, 8, visited)
	assert.Equal(t, 8, r.Len())
}

func TestSnapshotBounded(t *testing.T) {
	r := New()
	for i := uintptr(1); i <= 100; i++ {
		r.Register(i, "res", "mutex", "", Site{})
	}

	assert.Len(t, r.Snapshot(10), 10)
	assert.Len(t, r.Snapshot(0), 100)
}

func TestConcurrentRegisterUnregister(t *testing.T) {
	r := New()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			base := uintptr(g * 1000)
			for i := uintptr(0); i < 200; i++ {
				key := base + i
				r.Register(key, fmt.Sprintf("worker%d", g), "mutex", "", Site{})
				_, _ = r.Get(key)
				_ = r.Describe(key, "mutex")
				r.Unregister(key)
			}
		}(g)
	}
	wg.Wait()

	assert.Zero(t, r.Len())
}

// Property: however registration interleaves, every returned name is unique
// among live entries and starts with its base name.
func TestNameUniquenessProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := New()
		bases := rapid.SliceOfN(
			rapid.StringMatching(`[a-z][a-z_]{0,8}`), 1, 50,
		).Draw(t, "bases")

		seen := make(map[string]struct{})
		for i, base := range bases {
			name := r.Register(uintptr(i+1), base, "mutex", "", Site{})
			if _, dup := seen[name]; dup {
				t.Fatalf("duplicate name %q", name)
			}
			seen[name] = struct{}{}
			if got, _ := r.Get(uintptr(i + 1)); got != name {
				t.Fatalf("round trip mismatch: %q vs %q", got, name)
			}
		}
	})
}

func TestSiteString(t *testing.T) {
	s := CallerSite(0)
	assert.Contains(t, s.File, "named_test.go")
	assert.Contains(t, s.Function, "TestSiteString")

	assert.Equal(t, "<unknown>", Site{}.String())
}
