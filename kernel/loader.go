package kernel

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// The loader caches compiled chains for the process lifetime, keyed by the
// content hash of their generated source. Particle sets sharing a chain
// share one compiled artifact.

var compileCache = struct {
	sync.Mutex
	m map[string]*CompiledChain
}{m: make(map[string]*CompiledChain)}

// EnsureCompiled returns the compiled unit for a chain, building it on first
// use. A compile failure on validated IR is an internal invariant violation
// and is reported as a BuildError.
func EnsureCompiled(chain *Chain) (*CompiledChain, error) {
	sum := sha256.Sum256([]byte(chain.GeneratedSource()))
	key := hex.EncodeToString(sum[:])

	compileCache.Lock()
	defer compileCache.Unlock()
	if cc, ok := compileCache.m[key]; ok {
		return cc, nil
	}
	cc, err := Compile(chain)
	if err != nil {
		return nil, &BuildError{Chain: chain.Name(), Err: err}
	}
	cc.hash = key
	compileCache.m[key] = cc
	return cc, nil
}

// ClearCache drops all cached compiled chains.
func ClearCache() {
	compileCache.Lock()
	defer compileCache.Unlock()
	compileCache.m = make(map[string]*CompiledChain)
}

// CacheSize reports the number of cached compiled chains.
func CacheSize() int {
	compileCache.Lock()
	defer compileCache.Unlock()
	return len(compileCache.m)
}

// NewBackend resolves the configured execution mode to a backend over the
// same IR: compiled closures or the tree-walking interpreter.
func NewBackend(chain *Chain, compiled bool) (Backend, error) {
	if compiled {
		return EnsureCompiled(chain)
	}
	return NewInterpreter(chain), nil
}
