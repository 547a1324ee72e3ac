package seed

// Generated condition ranges.
const (
	avgGlucoseMin   = 70.0
	avgGlucoseRange = 110.0
	glucoseSDMin    = 5.0
	glucoseSDRange  = 45.0
	difficultyMin   = 1
	difficultySteps = 10
	scoreMin        = 0.0
	scoreMax        = 100.0
)

// Workers per submission channel slot.
const workerChannelMultiplier = 2

const directoryPermission = 0750
