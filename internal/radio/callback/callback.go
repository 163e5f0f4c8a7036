// Package callback models the host framework's tuner callback as a
// capability interface: a 1.1 host implements both interfaces, a 1.0
// host implements only the first, and the dispatcher
// (internal/radio/state) type-asserts to find out which it's holding.
package callback

import "fmt"

// Result is the host framework's tuner result enum.
type Result int

const (
	ResultOK Result = iota
	ResultNotInitialized
	ResultInvalidArguments
	ResultInvalidState
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultNotInitialized:
		return "NOT_INITIALIZED"
	case ResultInvalidArguments:
		return "INVALID_ARGUMENTS"
	case ResultInvalidState:
		return "INVALID_STATE"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// ProgramListResult is the host framework's program-list result enum.
type ProgramListResult int

const (
	ProgramListOK ProgramListResult = iota
	ProgramListNotInitialized
	ProgramListUnavailable
)

// ProgramType names the tunable program families a ProgramSelector can
// carry; AM/FM is this bridge's only fully-supported class, the rest
// exist so tuneByProgramSelector can validate and reject them cleanly.
type ProgramType int

const (
	ProgramTypeAM ProgramType = iota
	ProgramTypeFM
	ProgramTypeDAB
	ProgramTypeDRMO
	ProgramTypeSXM
)

// InfoFlags are the bitflags ProgramInfo.Flags carries.
type InfoFlags uint32

const (
	FlagLive InfoFlags = 1 << iota
	FlagMuted
	FlagStereo
)

// Identifier is a tagged primary or secondary program identifier.
type Identifier struct {
	Type  ProgramType
	Value uint64
}

// ProgramSelector identifies a tunable program: its type and a primary
// identifier (frequency, for AM/FM), plus an optional subchannel used
// by HD/DAB-style multiplexed services.
type ProgramSelector struct {
	ProgramType ProgramType
	PrimaryID   Identifier
	Subchannel  uint8
	HasSub      bool
}

// Metadata is the three-entry sequence the dispatcher refreshes on RDS
// updates: [RDS_PS, TITLE, GENRE].
type Metadata struct {
	ProgramService string
	RadioText      string
	Genre          string
}

// ProgramInfo is the full program snapshot handed to the host on tune
// completion and on every subsequent metadata/signal update.
type ProgramInfo struct {
	Selector       ProgramSelector
	Tuned          bool
	Stereo         bool
	Digital        bool
	SignalStrength int
	Flags          InfoFlags
	Metadata       Metadata
}

// BandConfig is a host-supplied tuning band: its program type and the
// inclusive frequency range and step spacings it allows.
type BandConfig struct {
	Type    ProgramType
	Lower   int
	Upper   int
	Spacing []int
}

// V1 is the callback surface every host implements.
type V1 interface {
	TuneComplete(result Result, info ProgramInfo)
	ConfigChange(result Result, config BandConfig)
}

// V1_1 extends V1 with the selector-based and metadata-refresh events
// introduced alongside ProgramSelector. A host that only implements V1
// simply doesn't satisfy this interface; the dispatcher checks with a
// type assertion rather than requiring every host to implement methods
// it has no selector model for.
type V1_1 interface {
	V1
	TuneComplete11(result Result, selector ProgramSelector)
	CurrentProgramInfoChanged(info ProgramInfo)
}
