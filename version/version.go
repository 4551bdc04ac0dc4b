package version

// Version is set at build time via -ldflags.
var Version string = "0.0.0"
