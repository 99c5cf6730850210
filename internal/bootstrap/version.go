package bootstrap

// Version is overridden at build time with -ldflags "-X chat-autopilot/internal/bootstrap.Version=...".
var Version = "dev"
