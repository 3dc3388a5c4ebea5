package main

import (
	"strings"

	"kernos/kernel/mm"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Region is a half-open physical address range [Start, End).
type Region struct {
	Start uint64 `toml:"start"`
	End   uint64 `toml:"end"`
}

// Workload holds the parameters of the simulated allocation traffic.
type Workload struct {
	// Seed seeds the random order and free choices.
	Seed int64 `toml:"seed"`

	// Steps is the number of allocation or free operations to run.
	Steps int `toml:"steps"`

	// MaxOrder is the largest frame order requested.
	MaxOrder uint8 `toml:"max_order"`

	// Pages is the number of pages requested from the page allocator.
	Pages int `toml:"pages"`
}

// Scenario describes the simulated machine: how much RAM it has, which parts
// of it the firmware reports as available, which parts are taken by the
// kernel image and boot data, and the workload to run.
type Scenario struct {
	// MemorySize is the size in bytes of the simulated physical memory.
	MemorySize uint64 `toml:"memory_size"`

	Available []Region `toml:"available"`
	Reserved  []Region `toml:"reserved"`
	Workload  Workload `toml:"workload"`
}

// DefaultScenario returns a 64 MiB machine with a PC-style memory map: a hole
// below 1 MiB and a 2 MiB kernel image at the bottom of memory.
func DefaultScenario() *Scenario {
	return &Scenario{
		MemorySize: 64 << 20,
		Available: []Region{
			{Start: 0x0, End: 0x9fc00},
			{Start: 0x100000, End: 64 << 20},
		},
		Reserved: []Region{
			{Start: 0x0, End: 0x200000},
		},
		Workload: Workload{
			Seed:     1,
			Steps:    10000,
			MaxOrder: uint8(mm.MaxFrameOrder),
			Pages:    2048,
		},
	}
}

// LoadScenario reads a scenario from a TOML file. Settings missing from the
// file take the values of DefaultScenario; settings present in the file are
// kept even when they are zero.
func LoadScenario(path string) (*Scenario, error) {
	var s Scenario
	md, err := toml.DecodeFile(path, &s)
	if err != nil {
		return nil, errors.Wrapf(err, "decode scenario %q", path)
	}

	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, errors.Errorf("scenario %q: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	s.applyDefaults(DefaultScenario(), md)
	if err := s.Validate(); err != nil {
		return nil, errors.Wrapf(err, "scenario %q", path)
	}

	return &s, nil
}

// applyDefaults copies the settings of def for every key that the decoded
// file md does not define. Keys set to a zero value keep it.
func (s *Scenario) applyDefaults(def *Scenario, md toml.MetaData) {
	for _, d := range []struct {
		key   []string
		apply func()
	}{
		{[]string{"memory_size"}, func() { s.MemorySize = def.MemorySize }},
		{[]string{"available"}, func() { s.Available = def.Available }},
		{[]string{"reserved"}, func() { s.Reserved = def.Reserved }},
		{[]string{"workload", "seed"}, func() { s.Workload.Seed = def.Workload.Seed }},
		{[]string{"workload", "steps"}, func() { s.Workload.Steps = def.Workload.Steps }},
		{[]string{"workload", "max_order"}, func() { s.Workload.MaxOrder = def.Workload.MaxOrder }},
		{[]string{"workload", "pages"}, func() { s.Workload.Pages = def.Workload.Pages }},
	} {
		if !md.IsDefined(d.key...) {
			d.apply()
		}
	}
}

// Validate checks that the scenario describes a machine the simulator can
// build.
func (s *Scenario) Validate() error {
	switch {
	case s.MemorySize == 0:
		return errors.New("memory_size must be positive")
	case s.MemorySize%uint64(mm.PageSize) != 0:
		return errors.Errorf("memory_size %d is not a multiple of the page size", s.MemorySize)
	case len(s.Available) == 0:
		return errors.New("no available regions")
	case s.Workload.Steps < 0 || s.Workload.Pages < 0:
		return errors.New("workload steps and pages cannot be negative")
	case mm.FrameOrder(s.Workload.MaxOrder) > mm.MaxFrameOrder:
		return errors.Errorf("max_order %d exceeds %d", s.Workload.MaxOrder, mm.MaxFrameOrder)
	}

	for _, list := range []struct {
		name    string
		regions []Region
	}{
		{"available", s.Available},
		{"reserved", s.Reserved},
	} {
		for i, r := range list.regions {
			if r.Start >= r.End {
				return errors.Errorf("%s region %d: start 0x%x is not below end 0x%x", list.name, i, r.Start, r.End)
			}
			if r.End > s.MemorySize {
				return errors.Errorf("%s region %d: end 0x%x lies beyond memory_size 0x%x", list.name, i, r.End, s.MemorySize)
			}
		}
	}

	return nil
}

// ranges returns fresh copies of the available and reserved regions as
// mm.Range values; the frame allocator sorts them in place.
func (s *Scenario) ranges() (available, reserved []mm.Range) {
	convert := func(regions []Region) []mm.Range {
		out := make([]mm.Range, len(regions))
		for i, r := range regions {
			out[i] = mm.Range{Start: uintptr(r.Start), End: uintptr(r.End)}
		}
		return out
	}

	return convert(s.Available), convert(s.Reserved)
}
