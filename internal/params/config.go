// Package params holds the instrument's runtime parameter registry: a fixed
// catalogue of named, typed fields that the serial command protocol writes and
// the trigger-sequence generator reads.
package params

// Config is the full set of trigger parameters. All fields start at zero and
// are only changed through Registry.Set. JSON names match the wire names.
type Config struct {
	// Raster scan geometry
	DimOneChan        uint8   `json:"dimOneChan"`
	DimOneStartV      float32 `json:"dimOneStartV"`
	DimOneLenV        float32 `json:"dimOneLenV"`
	DimOneStepSizeV   float32 `json:"dimOneStepSizeV"`
	DimTwoChan        uint8   `json:"dimTwoChan"`
	DimTwoStartV      float32 `json:"dimTwoStartV"`
	DimTwoLenV        float32 `json:"dimTwoLenV"`
	DimTwoStepSizeV   float32 `json:"dimTwoStepSizeV"`
	DimThreeChan      uint8   `json:"dimThreeChan"`
	DimThreeStartV    float32 `json:"dimThreeStartV"`
	DimThreeLenV      float32 `json:"dimThreeLenV"`
	DimThreeStepSizeV float32 `json:"dimThreeStepSizeV"`
	DimFourChan       uint8   `json:"dimFourChan"`
	DimFourStartV     float32 `json:"dimFourStartV"`
	DimFourLenV       float32 `json:"dimFourLenV"`
	DimFourStepSizeV  float32 `json:"dimFourStepSizeV"`
	AngleRad          float32 `json:"angleRad"`

	// Pulsed illumination channel routing
	OnLaserTTLChan   uint8 `json:"onLaserTTLChan"`
	OffLaserTTLChan  uint8 `json:"offLaserTTLChan"`
	RoLaserTTLChan   uint8 `json:"roLaserTTLChan"`
	RoScanDACChan    uint8 `json:"roScanDACChan"`
	CycleScanDACChan uint8 `json:"cycleScanDACChan"`

	// Pulsed illumination timing
	TimeLapsePoints     uint16  `json:"timeLapsePoints"`
	TimeLapseDelayUs    uint32  `json:"timeLapseDelayUs"`
	DelayBeforeOnUs     uint32  `json:"delayBeforeOnUs"`
	OnPulseTimeUs       uint32  `json:"onPulseTimeUs"`
	DelayAfterOnUs      uint32  `json:"delayAfterOnUs"`
	OffPulseTimeUs      uint32  `json:"offPulseTimeUs"`
	DelayAfterOffUs     uint32  `json:"delayAfterOffUs"`
	DelayAfterDACStepUs uint32  `json:"delayAfterDACStepUs"`
	RoPulseTimeUs       uint32  `json:"roPulseTimeUs"`
	DelayAfterRoUs      uint32  `json:"delayAfterRoUs"`
	RoRestingV          float32 `json:"roRestingV"`
	RoStartV            float32 `json:"roStartV"`
	RoStepSizeV         float32 `json:"roStepSizeV"`
	RoSteps             uint32  `json:"roSteps"`
	CycleStartV         float32 `json:"cycleStartV"`
	CycleStepSizeV      float32 `json:"cycleStepSizeV"`
	CycleSteps          uint32  `json:"cycleSteps"`

	// Per-pulse line/window timing, up to three pulses
	SequenceTimeUs uint32 `json:"sequenceTimeUs"`
	P1Line         uint8  `json:"p1Line"`
	P1StartUs      uint32 `json:"p1StartUs"`
	P1EndUs        uint32 `json:"p1EndUs"`
	P2Line         uint8  `json:"p2Line"`
	P2StartUs      uint32 `json:"p2StartUs"`
	P2EndUs        uint32 `json:"p2EndUs"`
	P3Line         uint8  `json:"p3Line"`
	P3StartUs      uint32 `json:"p3StartUs"`
	P3EndUs        uint32 `json:"p3EndUs"`
}

// Pulse describes one TTL window of the pixel cycle.
type Pulse struct {
	Line    uint8
	StartUs uint32
	EndUs   uint32
}

// Pulses returns the three pulse windows in order.
func (c Config) Pulses() [3]Pulse {
	return [3]Pulse{
		{Line: c.P1Line, StartUs: c.P1StartUs, EndUs: c.P1EndUs},
		{Line: c.P2Line, StartUs: c.P2StartUs, EndUs: c.P2EndUs},
		{Line: c.P3Line, StartUs: c.P3StartUs, EndUs: c.P3EndUs},
	}
}

// Axis describes one raster scan dimension.
type Axis struct {
	Chan      uint8
	StartV    float32
	LenV      float32
	StepSizeV float32
}

// Axes returns the four raster scan dimensions in order.
func (c Config) Axes() [4]Axis {
	return [4]Axis{
		{Chan: c.DimOneChan, StartV: c.DimOneStartV, LenV: c.DimOneLenV, StepSizeV: c.DimOneStepSizeV},
		{Chan: c.DimTwoChan, StartV: c.DimTwoStartV, LenV: c.DimTwoLenV, StepSizeV: c.DimTwoStepSizeV},
		{Chan: c.DimThreeChan, StartV: c.DimThreeStartV, LenV: c.DimThreeLenV, StepSizeV: c.DimThreeStepSizeV},
		{Chan: c.DimFourChan, StartV: c.DimFourStartV, LenV: c.DimFourLenV, StepSizeV: c.DimFourStepSizeV},
	}
}
