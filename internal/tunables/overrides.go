package tunables

// Overrides carries optional start-up values for a Set. Nil fields keep the
// defaults.
type Overrides struct {
	DownLoad     *uint32 `yaml:"down_load,omitempty"`
	DownStep     *uint32 `yaml:"down_step,omitempty"`
	UpLoad       *uint32 `yaml:"up_load,omitempty"`
	UpStep       *uint32 `yaml:"up_step,omitempty"`
	SamplingRate *uint32 `yaml:"sampling_rate,omitempty"`
	IOIsBusy     *bool   `yaml:"io_is_busy,omitempty"`
	FreqMin      *uint32 `yaml:"freq_min,omitempty"`
	FreqMax      *uint32 `yaml:"freq_max,omitempty"`
	Boost        *bool   `yaml:"boost,omitempty"`
}

// Apply copies every non-nil override into s.
func (s *Set) Apply(o Overrides) {
	storeIfSet := func(dst interface{ Store(uint32) }, v *uint32) {
		if v != nil {
			dst.Store(*v)
		}
	}

	storeIfSet(&s.downLoad, o.DownLoad)
	storeIfSet(&s.downStep, o.DownStep)
	storeIfSet(&s.upLoad, o.UpLoad)
	storeIfSet(&s.upStep, o.UpStep)
	storeIfSet(&s.samplingRate, o.SamplingRate)
	if o.FreqMin != nil {
		s.storeFreqMin(*o.FreqMin)
	}
	if o.FreqMax != nil {
		s.storeFreqMax(*o.FreqMax)
	}

	if o.IOIsBusy != nil {
		s.ioIsBusy.Store(*o.IOIsBusy)
	}
	if o.Boost != nil {
		s.boost.Store(*o.Boost)
	}
}
