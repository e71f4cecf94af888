package core

// Version is the program version, overridden at build time with
// -ldflags "-X firestige.xyz/tsswitch/internal/core.Version=...".
var Version = "0.1.0"
