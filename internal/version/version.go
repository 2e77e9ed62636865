package version

// Version is stamped at build time:
//
//	go build -ldflags "-X routex/internal/version.Version=v1.2.3"
var Version = "dev"
