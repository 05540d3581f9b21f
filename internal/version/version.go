// Package version holds build version information.
package version

// Version is the release version, overridable at build time via
// -ldflags "-X github.com/Agasper/WebRTCTranscribe/internal/version.Version=...".
var Version = "0.1.0"
