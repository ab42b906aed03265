package weakmem

// Version information for the weak memory engine.
const (
	// Version is the current version of the engine.
	Version = "0.1.0"

	VersionMajor = 0
	VersionMinor = 1
	VersionPatch = 0
)

// Info describes the engine build.
type Info struct {
	// Version is the engine version string.
	Version string

	// Model is the simulated memory model.
	Model string

	// DefaultBufferSize is the store buffer bound used when none is
	// configured.
	DefaultBufferSize int
}

// GetInfo returns information about the engine.
//
// Example:
//
//	info := weakmem.GetInfo()
//	fmt.Printf("weakmem %s (%s)\n", info.Version, info.Model)
func GetInfo() Info {
	return Info{
		Version:           Version,
		Model:             "TSO (per-task FIFO store buffers)",
		DefaultBufferSize: DefaultBufferSize,
	}
}
