package rtti

// Config tunes an analysis run.
type Config struct {
	// ScanWritable adds writable data regions to the candidate and
	// back-pointer scans.
	ScanWritable bool
	// AllowWritableTypeDescriptors accepts type descriptors that live in
	// writable memory, where MSVC normally places them.
	AllowWritableTypeDescriptors bool
	// BaseVotes is the number of raw 64-bit locator hits used to
	// hypothesize the image base.
	BaseVotes int
	// MaxVftableEntries caps the number of slots read per vftable.
	MaxVftableEntries int
	// NameCacheSize is the capacity of the demangled name cache.
	NameCacheSize uint32
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		AllowWritableTypeDescriptors: true,
		BaseVotes:                    8,
		MaxVftableEntries:            MaxVftableEntries,
		NameCacheSize:                1024,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BaseVotes <= 0 {
		c.BaseVotes = d.BaseVotes
	}
	if c.MaxVftableEntries <= 0 {
		c.MaxVftableEntries = d.MaxVftableEntries
	}
	if c.NameCacheSize == 0 {
		c.NameCacheSize = d.NameCacheSize
	}
	return c
}
