// Package analysis recovers function boundaries, virtual tables and RTTI
// names from a stripped AArch64 image. Every detection path yields
// confidence-scored Findings; callers fuse them with Fuse.
package analysis

// Constants for analysis operations
const (
	// DefaultMaxBack is how many instructions FindFunctionStart walks back.
	DefaultMaxBack = 256

	// prologueWindow is the instruction window given to ClassifyPrologue:
	// an optional entry hint plus two instructions.
	prologueWindow = 3
)
