package version

// Version is the meshcall release, set at build time with
//
//	go build -ldflags="-X 'github.com/broadcomms/meeting-ledger/internal/version.Version=v1.0.0'"
var Version = "dev"
