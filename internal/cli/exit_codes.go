package cli

// Exit codes for the pabot CLI. These support scripted composition and CI
// integration.
const (
	// ExitSuccess means every unit completed with a passing exit.
	ExitSuccess = 0

	// Failing runs exit with the failed-unit count, capped here so the
	// reserved codes stay unambiguous.
	ExitFailedCap = 250

	// ExitFatal indicates a fatal orchestration error: a malformed plan,
	// a worker that could not be spawned, or an internal failure.
	ExitFatal = 251

	// ExitTerminated indicates the run was cut short from outside
	// (signal), produced no executable work, was invoked with invalid
	// usage, or its outputs could not be merged.
	ExitTerminated = 252
)
