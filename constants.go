package mkcore

import "github.com/mkcore-project/mkcore/internal/constants"

// Re-export the tunables a caller configuring a Kernel is most likely
// to need.
const (
	RQCount             = constants.RQCount
	IdlePriority        = constants.IdlePriority
	BaseSliceTicks      = constants.BaseSliceTicks
	IPCMaxPhones        = constants.IPCMaxPhones
	IPCFirstUserMethod  = constants.IPCFirstUserMethod
	FutexTableShards    = constants.FutexTableShards
	DefaultTickInterval = constants.DefaultTickInterval
)
