package rtti

import (
	"hash/fnv"
	"strings"

	"github.com/apex/log"
	"github.com/elastic/go-freelru"

	"github.com/skdltmxn/rtti-go/internal/demangle"
)

// ClassName is the human-readable identity of a recovered class.
type ClassName struct {
	Display   string `json:"display"`
	Decorated string `json:"decorated"`
	// Unparsed is set when Display is the raw decorated name because the
	// demangler does not cover it.
	Unparsed bool   `json:"unparsed,omitempty"`
	Kind     string `json:"kind"`
}

func (n ClassName) String() string {
	return n.Display
}

// Demangle converts a type descriptor name into a ClassName. Names the
// demangler cannot handle come back verbatim with Unparsed set.
func Demangle(decorated string) ClassName {
	name := ClassName{Display: decorated, Decorated: decorated, Kind: kindOf(decorated)}

	res, err := demangle.DemangleType(decorated)
	if err != nil {
		log.WithField("name", decorated).Debugf("leaving name undemangled: %v", err)
		name.Unparsed = true
		return name
	}
	demangle.Simplify(res)
	name.Display = res.String()
	name.Kind = res.Tag.String()
	return name
}

func kindOf(decorated string) string {
	if strings.HasPrefix(decorated, ".?AU") {
		return "struct"
	}
	return "class"
}

func hashString(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

// NameCache memoizes Demangle for one analysis run.
type NameCache struct {
	lru *freelru.LRU[string, ClassName]
}

// NewNameCache creates a cache holding up to size names.
func NewNameCache(size uint32) (*NameCache, error) {
	lru, err := freelru.New[string, ClassName](size, hashString)
	if err != nil {
		return nil, err
	}
	return &NameCache{lru: lru}, nil
}

// Lookup returns the demangled form of decorated.
func (c *NameCache) Lookup(decorated string) ClassName {
	if name, ok := c.lru.Get(decorated); ok {
		return name
	}
	name := Demangle(decorated)
	c.lru.Add(decorated, name)
	return name
}
