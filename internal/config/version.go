package config

// Version is the queuecall binary version.
// Set at build time via: -ldflags "-X github.com/persistorai/queuecall/internal/config.Version=<tag>"
// Defaults to "dev" when built without ldflags.
var Version = "dev"
