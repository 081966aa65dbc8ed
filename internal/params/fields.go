package params

import "fmt"

// Kind is the declared storage type of a field.
type Kind int

const (
	KindUint8 Kind = iota
	KindUint16
	KindUint32
	KindFloat32
)

func (k Kind) String() string {
	switch k {
	case KindUint8:
		return "u8"
	case KindUint16:
		return "u16"
	case KindUint32:
		return "u32"
	case KindFloat32:
		return "f32"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Category groups fields by the part of the instrument they configure.
type Category int

const (
	CategoryRaster Category = iota
	CategoryRouting
	CategoryPulsedTiming
	CategoryPulseWindow
)

func (c Category) String() string {
	switch c {
	case CategoryRaster:
		return "raster_scan"
	case CategoryRouting:
		return "channel_routing"
	case CategoryPulsedTiming:
		return "pulsed_timing"
	case CategoryPulseWindow:
		return "pulse_window"
	default:
		return fmt.Sprintf("Category(%d)", int(c))
	}
}

// FieldInfo is the public description of one catalogue entry.
type FieldInfo struct {
	Name     string   `json:"name"`
	Kind     Kind     `json:"-"`
	Type     string   `json:"type"`
	Category Category `json:"-"`
	Group    string   `json:"category"`
	// Narrow16 marks the pulse window timings whose values pass through a
	// 16-bit intermediate before being stored.
	Narrow16 bool `json:"narrow16,omitempty"`
}

// field binds a name to its storage slot. Exactly one accessor is set,
// matching kind.
type field struct {
	name     string
	kind     Kind
	category Category
	narrow16 bool

	u8  func(*Config) *uint8
	u16 func(*Config) *uint16
	u32 func(*Config) *uint32
	f32 func(*Config) *float32
}

func (f *field) info() FieldInfo {
	return FieldInfo{
		Name:     f.name,
		Kind:     f.kind,
		Type:     f.kind.String(),
		Category: f.category,
		Group:    f.category.String(),
		Narrow16: f.narrow16,
	}
}

func u8Field(name string, cat Category, slot func(*Config) *uint8) *field {
	return &field{name: name, kind: KindUint8, category: cat, u8: slot}
}

func u16Field(name string, cat Category, slot func(*Config) *uint16) *field {
	return &field{name: name, kind: KindUint16, category: cat, u16: slot}
}

func u32Field(name string, cat Category, slot func(*Config) *uint32) *field {
	return &field{name: name, kind: KindUint32, category: cat, u32: slot}
}

func narrowField(name string, cat Category, slot func(*Config) *uint32) *field {
	f := u32Field(name, cat, slot)
	f.narrow16 = true
	return f
}

func f32Field(name string, cat Category, slot func(*Config) *float32) *field {
	return &field{name: name, kind: KindFloat32, category: cat, f32: slot}
}

// catalogue lists every field in dispatch order: raster scan geometry, then
// pulsed illumination, then per-pulse timing.
var catalogue = []*field{
	u8Field("dimOneChan", CategoryRaster, func(c *Config) *uint8 { return &c.DimOneChan }),
	f32Field("dimOneStartV", CategoryRaster, func(c *Config) *float32 { return &c.DimOneStartV }),
	f32Field("dimOneLenV", CategoryRaster, func(c *Config) *float32 { return &c.DimOneLenV }),
	f32Field("dimOneStepSizeV", CategoryRaster, func(c *Config) *float32 { return &c.DimOneStepSizeV }),
	u8Field("dimTwoChan", CategoryRaster, func(c *Config) *uint8 { return &c.DimTwoChan }),
	f32Field("dimTwoStartV", CategoryRaster, func(c *Config) *float32 { return &c.DimTwoStartV }),
	f32Field("dimTwoLenV", CategoryRaster, func(c *Config) *float32 { return &c.DimTwoLenV }),
	f32Field("dimTwoStepSizeV", CategoryRaster, func(c *Config) *float32 { return &c.DimTwoStepSizeV }),
	u8Field("dimThreeChan", CategoryRaster, func(c *Config) *uint8 { return &c.DimThreeChan }),
	f32Field("dimThreeStartV", CategoryRaster, func(c *Config) *float32 { return &c.DimThreeStartV }),
	f32Field("dimThreeLenV", CategoryRaster, func(c *Config) *float32 { return &c.DimThreeLenV }),
	f32Field("dimThreeStepSizeV", CategoryRaster, func(c *Config) *float32 { return &c.DimThreeStepSizeV }),
	u8Field("dimFourChan", CategoryRaster, func(c *Config) *uint8 { return &c.DimFourChan }),
	f32Field("dimFourStartV", CategoryRaster, func(c *Config) *float32 { return &c.DimFourStartV }),
	f32Field("dimFourLenV", CategoryRaster, func(c *Config) *float32 { return &c.DimFourLenV }),
	f32Field("dimFourStepSizeV", CategoryRaster, func(c *Config) *float32 { return &c.DimFourStepSizeV }),
	f32Field("angleRad", CategoryRaster, func(c *Config) *float32 { return &c.AngleRad }),

	u8Field("onLaserTTLChan", CategoryRouting, func(c *Config) *uint8 { return &c.OnLaserTTLChan }),
	u8Field("offLaserTTLChan", CategoryRouting, func(c *Config) *uint8 { return &c.OffLaserTTLChan }),
	u8Field("roLaserTTLChan", CategoryRouting, func(c *Config) *uint8 { return &c.RoLaserTTLChan }),
	u8Field("roScanDACChan", CategoryRouting, func(c *Config) *uint8 { return &c.RoScanDACChan }),
	u8Field("cycleScanDACChan", CategoryRouting, func(c *Config) *uint8 { return &c.CycleScanDACChan }),

	u16Field("timeLapsePoints", CategoryPulsedTiming, func(c *Config) *uint16 { return &c.TimeLapsePoints }),
	u32Field("timeLapseDelayUs", CategoryPulsedTiming, func(c *Config) *uint32 { return &c.TimeLapseDelayUs }),
	u32Field("delayBeforeOnUs", CategoryPulsedTiming, func(c *Config) *uint32 { return &c.DelayBeforeOnUs }),
	u32Field("onPulseTimeUs", CategoryPulsedTiming, func(c *Config) *uint32 { return &c.OnPulseTimeUs }),
	u32Field("delayAfterOnUs", CategoryPulsedTiming, func(c *Config) *uint32 { return &c.DelayAfterOnUs }),
	u32Field("offPulseTimeUs", CategoryPulsedTiming, func(c *Config) *uint32 { return &c.OffPulseTimeUs }),
	u32Field("delayAfterOffUs", CategoryPulsedTiming, func(c *Config) *uint32 { return &c.DelayAfterOffUs }),
	u32Field("delayAfterDACStepUs", CategoryPulsedTiming, func(c *Config) *uint32 { return &c.DelayAfterDACStepUs }),
	u32Field("roPulseTimeUs", CategoryPulsedTiming, func(c *Config) *uint32 { return &c.RoPulseTimeUs }),
	u32Field("delayAfterRoUs", CategoryPulsedTiming, func(c *Config) *uint32 { return &c.DelayAfterRoUs }),
	f32Field("roRestingV", CategoryPulsedTiming, func(c *Config) *float32 { return &c.RoRestingV }),
	f32Field("roStartV", CategoryPulsedTiming, func(c *Config) *float32 { return &c.RoStartV }),
	f32Field("roStepSizeV", CategoryPulsedTiming, func(c *Config) *float32 { return &c.RoStepSizeV }),
	u32Field("roSteps", CategoryPulsedTiming, func(c *Config) *uint32 { return &c.RoSteps }),
	f32Field("cycleStartV", CategoryPulsedTiming, func(c *Config) *float32 { return &c.CycleStartV }),
	f32Field("cycleStepSizeV", CategoryPulsedTiming, func(c *Config) *float32 { return &c.CycleStepSizeV }),
	u32Field("cycleSteps", CategoryPulsedTiming, func(c *Config) *uint32 { return &c.CycleSteps }),

	u32Field("sequenceTimeUs", CategoryPulseWindow, func(c *Config) *uint32 { return &c.SequenceTimeUs }),
	u8Field("p1Line", CategoryPulseWindow, func(c *Config) *uint8 { return &c.P1Line }),
	narrowField("p1StartUs", CategoryPulseWindow, func(c *Config) *uint32 { return &c.P1StartUs }),
	narrowField("p1EndUs", CategoryPulseWindow, func(c *Config) *uint32 { return &c.P1EndUs }),
	u8Field("p2Line", CategoryPulseWindow, func(c *Config) *uint8 { return &c.P2Line }),
	narrowField("p2StartUs", CategoryPulseWindow, func(c *Config) *uint32 { return &c.P2StartUs }),
	narrowField("p2EndUs", CategoryPulseWindow, func(c *Config) *uint32 { return &c.P2EndUs }),
	u8Field("p3Line", CategoryPulseWindow, func(c *Config) *uint8 { return &c.P3Line }),
	narrowField("p3StartUs", CategoryPulseWindow, func(c *Config) *uint32 { return &c.P3StartUs }),
	narrowField("p3EndUs", CategoryPulseWindow, func(c *Config) *uint32 { return &c.P3EndUs }),
}

var byName = func() map[string]*field {
	m := make(map[string]*field, len(catalogue))
	for _, f := range catalogue {
		if _, dup := m[f.name]; dup {
			panic("params: duplicate field " + f.name)
		}
		m[f.name] = f
	}
	return m
}()

// Fields returns the catalogue in dispatch order.
func Fields() []FieldInfo {
	out := make([]FieldInfo, len(catalogue))
	for i, f := range catalogue {
		out[i] = f.info()
	}
	return out
}

// Lookup returns the description of the named field. Names are case-sensitive.
func Lookup(name string) (FieldInfo, bool) {
	f, ok := byName[name]
	if !ok {
		return FieldInfo{}, false
	}
	return f.info(), true
}

// Known reports whether name is in the catalogue.
func Known(name string) bool {
	_, ok := byName[name]
	return ok
}

// store converts raw with the field's parse-or-zero rule, writes it into c and
// returns the stored value as text. ok is false when the conversion fell back
// to zero.
func (f *field) store(c *Config, raw string, wide bool) (stored string, ok bool) {
	if f.kind == KindFloat32 {
		v, ok := ParseFloatOrZero(raw)
		p := f.f32(c)
		*p = v
		return formatFloat(*p), ok
	}

	n, ok := ParseIntOrZero(raw)
	switch f.kind {
	case KindUint8:
		p := f.u8(c)
		*p = uint8(n)
		return formatUint(uint64(*p)), ok
	case KindUint16:
		p := f.u16(c)
		*p = uint16(n)
		return formatUint(uint64(*p)), ok
	default:
		p := f.u32(c)
		if f.narrow16 && !wide {
			*p = uint32(uint16(n))
		} else {
			*p = uint32(n)
		}
		return formatUint(uint64(*p)), ok
	}
}

// load renders the current value of the field in c.
func (f *field) load(c *Config) string {
	switch f.kind {
	case KindUint8:
		return formatUint(uint64(*f.u8(c)))
	case KindUint16:
		return formatUint(uint64(*f.u16(c)))
	case KindUint32:
		return formatUint(uint64(*f.u32(c)))
	default:
		return formatFloat(*f.f32(c))
	}
}
