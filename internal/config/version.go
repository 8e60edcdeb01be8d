package config

import "fmt"

// CurrentVersion is the latest supported configuration file version.
const CurrentVersion = 1

// VersionError describes a configuration version mismatch: the config file
// declares a version this build doesn't know how to load.
type VersionError struct {
	Version int
	Current int
	tooNew  bool
}

func (e *VersionError) Error() string {
	if e == nil {
		return ""
	}
	if e.tooNew {
		return fmt.Sprintf("config version %d is newer than this build (current: %d). upgrade Nexus to continue", e.Version, e.Current)
	}
	return fmt.Sprintf("config version %d is outdated (current: %d). run `nexus doctor --repair`", e.Version, e.Current)
}

// ValidateVersion reports an error unless version exactly matches
// CurrentVersion. Missing/zero/negative versions count as outdated.
func ValidateVersion(version int) error {
	switch {
	case version > CurrentVersion:
		return &VersionError{Version: version, Current: CurrentVersion, tooNew: true}
	case version < CurrentVersion:
		return &VersionError{Version: version, Current: CurrentVersion}
	default:
		return nil
	}
}
