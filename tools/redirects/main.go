// Command redirects finds the //go:redirect-from directives in the kernel
// sources and writes the matching address table into a linked kernel image.
// It must be run from the module root.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// kernelRoot is the directory, relative to the module root, that is scanned
// for redirect directives.
const kernelRoot = "kernel"

// scanKernel returns the redirects declared below kernelRoot.
func scanKernel() ([]*redirect, error) {
	if info, err := os.Stat(kernelRoot); err != nil || !info.IsDir() {
		return nil, errors.New("this tool must be run from the module root")
	}

	module, err := modulePath(".")
	if err != nil {
		return nil, err
	}

	goFiles, err := collectGoFiles(kernelRoot)
	if err != nil {
		return nil, err
	}

	return findRedirects(module, goFiles)
}

// countCmd implements subcommands.Command for the "count" command.
type countCmd struct{}

// Name implements subcommands.Command.
func (*countCmd) Name() string {
	return "count"
}

// Synopsis implements subcommands.Command.
func (*countCmd) Synopsis() string {
	return "prints the number of redirects declared in the kernel sources"
}

// Usage implements subcommands.Command.
func (*countCmd) Usage() string {
	return `count - print the number of redirect table entries.
`
}

// SetFlags implements subcommands.Command.
func (*countCmd) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*countCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	redirects, err := scanKernel()
	if err != nil {
		logrus.WithError(err).Error("cannot scan kernel sources")
		return subcommands.ExitFailure
	}

	fmt.Printf("%d", len(redirects))
	return subcommands.ExitSuccess
}

// populateCmd implements subcommands.Command for the "populate-table"
// command.
type populateCmd struct{}

// Name implements subcommands.Command.
func (*populateCmd) Name() string {
	return "populate-table"
}

// Synopsis implements subcommands.Command.
func (*populateCmd) Synopsis() string {
	return "writes the redirect table into a kernel image"
}

// Usage implements subcommands.Command.
func (*populateCmd) Usage() string {
	return `populate-table <kernel image> - resolve the redirect symbols and store their addresses in the image.
`
}

// SetFlags implements subcommands.Command.
func (*populateCmd) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*populateCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	imgFile := f.Arg(0)
	log := logrus.WithField("image", imgFile)

	redirects, err := scanKernel()
	if err != nil {
		log.WithError(err).Error("cannot scan kernel sources")
		return subcommands.ExitFailure
	}

	if err := elfResolveRedirectSymbols(redirects, imgFile); err != nil {
		log.WithError(err).Error("cannot resolve redirect symbols")
		return subcommands.ExitFailure
	}

	if err := elfWriteRedirectTable(redirects, imgFile); err != nil {
		log.WithError(err).Error("cannot write redirect table")
		return subcommands.ExitFailure
	}

	for _, r := range redirects {
		log.WithFields(logrus.Fields{
			"src": r.src,
			"dst": r.dst,
		}).Debugf("0x%x -> 0x%x", r.srcVMA, r.dstVMA)
	}
	return subcommands.ExitSuccess
}

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(new(countCmd), "")
	subcommands.Register(new(populateCmd), "")

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}
