package conventions

import "path/filepath"

const (
	// DefaultDataDir is the default sevenzd data directory name (relative to home).
	DefaultDataDir = ".sevenzd"
	// PolicyFile is the default policy filename inside the data directory.
	PolicyFile = "policy.yaml"

	// DefaultArchiveExt is the extension given to archives when the caller
	// doesn't name the destination.
	DefaultArchiveExt = ".7z"

	// ExtractTempPrefix is the prefix of the job-scoped staging directory
	// extracts write to before the result is placed at its destination.
	ExtractTempPrefix = ".extract-"
	// DoctorProbeFile is the filename the doctor command uses to probe that
	// the output root is writable.
	DoctorProbeFile = ".doctor-probe"
)

// PolicyPath returns the policy file path inside a data directory.
func PolicyPath(dataDir string) string {
	return filepath.Join(dataDir, PolicyFile)
}

// ExtractTempDir returns the staging directory for one extract job.
func ExtractTempDir(outputRoot, jobID string) string {
	return filepath.Join(outputRoot, ExtractTempPrefix+jobID)
}
