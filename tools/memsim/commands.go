package main

import (
	"context"
	"flag"
	"math/rand"

	"kernos/kernel/mm"

	"github.com/google/subcommands"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// scenarioFlags holds the flags shared by every subcommand: a scenario file
// and overrides for its workload.
type scenarioFlags struct {
	path     string
	seed     int64
	steps    int
	maxOrder int
	pages    int
}

func (sf *scenarioFlags) register(f *flag.FlagSet) {
	f.StringVar(&sf.path, "scenario", "", "TOML scenario file; the built-in 64 MiB machine is used if empty.")
	f.Int64Var(&sf.seed, "seed", 0, "overrides the workload seed.")
	f.IntVar(&sf.steps, "steps", 0, "overrides the number of workload steps.")
	f.IntVar(&sf.maxOrder, "max-order", -1, "overrides the largest frame order requested.")
	f.IntVar(&sf.pages, "pages", 0, "overrides the number of pages requested.")
}

// load returns the scenario selected by the flags.
func (sf *scenarioFlags) load() (*Scenario, error) {
	s := DefaultScenario()
	if sf.path != "" {
		var err error
		if s, err = LoadScenario(sf.path); err != nil {
			return nil, err
		}
	}

	if sf.seed != 0 {
		s.Workload.Seed = sf.seed
	}
	if sf.steps != 0 {
		s.Workload.Steps = sf.steps
	}
	if sf.maxOrder >= 0 {
		s.Workload.MaxOrder = uint8(sf.maxOrder)
	}
	if sf.pages != 0 {
		s.Workload.Pages = sf.pages
	}

	if err := s.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid scenario")
	}
	return s, nil
}

// withSimulator loads the scenario, builds a simulator for it and runs fn.
func (sf *scenarioFlags) withSimulator(name string, fn func(*simulator, *Scenario) error) subcommands.ExitStatus {
	log := logrus.WithField("cmd", name)

	s, err := sf.load()
	if err != nil {
		log.WithError(err).Error("cannot load scenario")
		return subcommands.ExitUsageError
	}

	sim, err := newSimulator(s, log)
	if err != nil {
		log.WithError(err).Error("cannot set up simulator")
		return subcommands.ExitFailure
	}
	defer func() {
		if err := sim.Close(); err != nil {
			log.WithError(err).Warn("cannot release arena")
		}
	}()

	if err := fn(sim, s); err != nil {
		log.WithError(err).Error("simulation failed")
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// runCmd implements subcommands.Command for the "run" command.
type runCmd struct {
	scenarioFlags
}

// Name implements subcommands.Command.
func (*runCmd) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.
func (*runCmd) Synopsis() string {
	return "fills the frame allocator with random blocks and releases them"
}

// Usage implements subcommands.Command.
func (*runCmd) Usage() string {
	return `run [flags] - allocate blocks of random orders until memory runs out, then free them all.
`
}

// SetFlags implements subcommands.Command.
func (r *runCmd) SetFlags(f *flag.FlagSet) {
	r.register(f)
}

// Execute implements subcommands.Command.Execute.
func (r *runCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return r.withSimulator(r.Name(), func(sim *simulator, s *Scenario) error {
		rng := rand.New(rand.NewSource(s.Workload.Seed))
		res, err := sim.fill(rng, s.Workload.Steps, mm.FrameOrder(s.Workload.MaxOrder))
		if err != nil {
			return err
		}

		for order := range res.Allocs {
			if res.Allocs[order] == 0 && res.Failures[order] == 0 {
				continue
			}
			sim.log.WithFields(logrus.Fields{
				"order":    order,
				"allocs":   res.Allocs[order],
				"failures": res.Failures[order],
			}).Info("order summary")
		}

		sim.log.WithFields(logrus.Fields{
			"frames": res.Frames,
			"free":   res.Free,
		}).Info("fill complete")
		return nil
	})
}

// stressCmd implements subcommands.Command for the "stress" command.
type stressCmd struct {
	scenarioFlags
}

// Name implements subcommands.Command.
func (*stressCmd) Name() string {
	return "stress"
}

// Synopsis implements subcommands.Command.
func (*stressCmd) Synopsis() string {
	return "interleaves random allocations and frees, verifying the bitmaps after each one"
}

// Usage implements subcommands.Command.
func (*stressCmd) Usage() string {
	return `stress [flags] - run a random alloc/free sequence and verify the frame bitmaps after every step.
`
}

// SetFlags implements subcommands.Command.
func (c *stressCmd) SetFlags(f *flag.FlagSet) {
	c.register(f)
}

// Execute implements subcommands.Command.Execute.
func (c *stressCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.withSimulator(c.Name(), func(sim *simulator, s *Scenario) error {
		rng := rand.New(rand.NewSource(s.Workload.Seed))
		res, err := sim.stress(rng, s.Workload.Steps, mm.FrameOrder(s.Workload.MaxOrder))
		if err != nil {
			return err
		}

		sim.log.WithFields(logrus.Fields{
			"allocs":     res.Allocs,
			"frees":      res.Frees,
			"failures":   res.Failures,
			"max_in_use": res.MaxInUse,
		}).Info("stress complete")
		return nil
	})
}

// pagesCmd implements subcommands.Command for the "pages" command.
type pagesCmd struct {
	scenarioFlags
}

// Name implements subcommands.Command.
func (*pagesCmd) Name() string {
	return "pages"
}

// Synopsis implements subcommands.Command.
func (*pagesCmd) Synopsis() string {
	return "grows the page allocator region and checks every mapping"
}

// Usage implements subcommands.Command.
func (*pagesCmd) Usage() string {
	return `pages [flags] - request pages from a page allocator backed by the frame allocator.
`
}

// SetFlags implements subcommands.Command.
func (c *pagesCmd) SetFlags(f *flag.FlagSet) {
	c.register(f)
}

// Execute implements subcommands.Command.Execute.
func (c *pagesCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.withSimulator(c.Name(), func(sim *simulator, s *Scenario) error {
		res, err := sim.pages(s.Workload.Pages)
		if err != nil {
			return err
		}

		sim.log.WithFields(logrus.Fields{
			"pages":     res.Pages,
			"tables":    res.Stats.Tables,
			"frames":    res.Frames,
			"exhausted": res.Exhausted,
		}).Info("pages complete")
		return nil
	})
}
