package config

import "strings"

// Pipeline stage directory names. A path's presence under one of these is
// the sole signal used to classify its pipeline stage.
const (
	DirBlink       = "10_Blink"
	DirData        = "20_Data"
	DirMaster      = "30_Master"
	DirProcess     = "40_Process"
	DirBake        = "50_Bake"
	DirDone        = "60_Done"
	DirAccept      = "accept"
	DirCalibration = "_calibration"
)

// Project status codes derived from pipeline stage.
const (
	StatusDraft    = 0
	StatusActive   = 1
	StatusInactive = 2
	StatusClosed   = 3
)

// StageStatus determines the project status code for a path by substring
// containment of the stage directory names.
func StageStatus(path string) int {
	switch {
	case strings.Contains(path, DirBlink) || strings.Contains(path, DirData):
		return StatusActive
	case strings.Contains(path, DirMaster) || strings.Contains(path, DirProcess) || strings.Contains(path, DirBake):
		return StatusInactive
	case strings.Contains(path, DirDone):
		return StatusClosed
	default:
		return StatusDraft
	}
}
