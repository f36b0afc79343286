package engine

const (
	// DefaultEntrypoint is the function every handler must define.
	DefaultEntrypoint = "handle"

	// DefaultMaxSteps is the operation ceiling applied to one invocation.
	DefaultMaxSteps = 1000

	// DefaultMaxValueSize caps the bytes of one string, or the elements
	// of one list, a script may build.
	DefaultMaxValueSize = 1 << 20
)

// Config holds settings shared by all engine implementations.
type Config struct {
	// MaxSteps is the maximum number of interpreter steps one invocation
	// may take. Zero or negative means use DefaultMaxSteps.
	MaxSteps int

	// MaxValueSize is the largest string (bytes) or collection
	// (elements) one operation may produce. Zero or negative means use
	// DefaultMaxValueSize.
	MaxValueSize int
}

// Steps returns the effective step ceiling.
func (c Config) Steps() int {
	if c.MaxSteps <= 0 {
		return DefaultMaxSteps
	}
	return c.MaxSteps
}

// ValueSize returns the effective value size ceiling.
func (c Config) ValueSize() int {
	if c.MaxValueSize <= 0 {
		return DefaultMaxValueSize
	}
	return c.MaxValueSize
}
