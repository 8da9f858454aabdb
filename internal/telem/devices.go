package telem

// InvalidFamily is the sentinel returned for device identifiers not in
// the table. Such senders still decode against the Other section.
const InvalidFamily = "invalid"

const (
	FamilyRover     = "rover"
	FamilyDock      = "dock"
	FamilyImplement = "implement"
)

// deviceFamilies is the closed device-identifier table. It is fixed at
// build time; new hardware ships with a new table, not a config knob.
var deviceFamilies = map[uint16]string{
	1:  FamilyRover,
	2:  FamilyRover,
	3:  FamilyRover,
	4:  FamilyRover,
	10: FamilyDock,
	11: FamilyDock,
	12: FamilyDock,
	20: FamilyImplement,
	21: FamilyImplement,
	22: FamilyImplement,
	23: FamilyImplement,
}

// DeviceFamily resolves a device identifier to its family name. Total:
// unknown identifiers map to InvalidFamily, never an error.
func DeviceFamily(id uint16) string {
	if family, ok := deviceFamilies[id]; ok {
		return family
	}
	return InvalidFamily
}
