package mcap

// version is embedded in the default Header.Library string written by
// Writer, identifying the implementation that produced a file.
const version = "0.1.0"

// Version returns this package's version string.
func Version() string { return version }
