package workflow

import "fmt"

// AmbiguousCalibrationMatchError reports a calibration signature that matched
// more than one master frame. The libraries are expected to hold at most one
// master per signature.
type AmbiguousCalibrationMatchError struct {
	Directory string
	Count     int
}

func (e *AmbiguousCalibrationMatchError) Error() string {
	return fmt.Sprintf("expected zero or one calibration to match for %s, found %d", e.Directory, e.Count)
}
