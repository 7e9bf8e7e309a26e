package goplan

// Version is the release version, overridden at build time with
// -ldflags "-X github.com/aretw0/goplan.Version=...".
var Version = "dev"
