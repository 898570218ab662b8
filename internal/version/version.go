// Package version carries the version string stamped into the binaries.
package version

// Version is the release version reported by -V.
const Version = "0.1.0"
