package main

import (
	"bufio"
	"debug/elf"
	"encoding/binary"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// redirectTableSection is the kernel image section that the rt0 code reads
// the (source, destination) address pairs from.
const redirectTableSection = ".goredirectstbl"

// redirect describes a //go:redirect-from directive: calls to src are
// patched at boot to jump to dst.
type redirect struct {
	src string
	dst string

	srcVMA uint64
	dstVMA uint64
}

// modulePath returns the module path declared in the go.mod file in dir.
func modulePath(dir string) (string, error) {
	f, err := os.Open(filepath.Join(dir, "go.mod"))
	if err != nil {
		return "", errors.Wrap(err, "open go.mod")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 2 && fields[0] == "module" {
			return strings.Trim(fields[1], `"`), nil
		}
	}

	if err := scanner.Err(); err != nil {
		return "", errors.Wrap(err, "read go.mod")
	}
	return "", errors.New("go.mod does not declare a module path")
}

// collectGoFiles returns the non-test Go files below root.
func collectGoFiles(root string) ([]string, error) {
	var goFiles []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() && filepath.Ext(path) == ".go" && !strings.HasSuffix(path, "_test.go") {
			goFiles = append(goFiles, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "walk %s", root)
	}

	return goFiles, nil
}

// findRedirects parses goFiles, whose paths are relative to the module
// root, and returns the redirects declared in them.
func findRedirects(module string, goFiles []string) ([]*redirect, error) {
	var redirects []*redirect

	for _, goFile := range goFiles {
		fset := token.NewFileSet()

		f, err := parser.ParseFile(fset, goFile, nil, parser.ParseComments)
		if err != nil {
			return nil, errors.Wrap(err, goFile)
		}

		for _, decl := range f.Decls {
			fnDecl, ok := decl.(*ast.FuncDecl)
			if !ok || fnDecl.Doc == nil || fnDecl.Recv != nil {
				continue
			}

			for _, comment := range fnDecl.Doc.List {
				if !strings.HasPrefix(comment.Text, "//go:redirect-from") {
					continue
				}

				fqName := module + "/" + filepath.ToSlash(filepath.Dir(goFile)) + "." + fnDecl.Name.Name

				fields := strings.Fields(comment.Text)
				if len(fields) != 2 || fields[0] != "//go:redirect-from" {
					return nil, errors.Errorf("malformed go:redirect-from syntax for %q", fqName)
				}

				redirects = append(redirects, &redirect{
					src: fields[1],
					dst: fqName,
				})
			}
		}
	}

	return redirects, nil
}

// elfResolveRedirectSymbols looks up the addresses of the source and
// destination symbols of each redirect.
func elfResolveRedirectSymbols(redirects []*redirect, imgFile string) error {
	f, err := elf.Open(imgFile)
	if err != nil {
		return errors.Wrap(err, "open kernel image")
	}
	defer f.Close()

	symbols, err := f.Symbols()
	if err != nil {
		return errors.Wrapf(err, "%s: read symbols", imgFile)
	}

	addrs := make(map[string]uint64, len(symbols))
	for _, symbol := range symbols {
		addrs[symbol.Name] = symbol.Value
	}

	for _, redirect := range redirects {
		redirect.srcVMA, redirect.dstVMA = addrs[redirect.src], addrs[redirect.dst]

		switch {
		case redirect.srcVMA == 0:
			return errors.Errorf("%s: could not locate address of %q", imgFile, redirect.src)
		case redirect.dstVMA == 0:
			return errors.Errorf("%s: could not locate address of %q", imgFile, redirect.dst)
		}
	}

	return nil
}

// elfRedirectTableOffset returns the file offset of the redirect table in
// the kernel image.
func elfRedirectTableOffset(imgFile string) (uint64, error) {
	f, err := elf.Open(imgFile)
	if err != nil {
		return 0, errors.Wrap(err, "open kernel image")
	}
	defer f.Close()

	section := f.Section(redirectTableSection)
	if section == nil {
		return 0, errors.Errorf("%s: missing %s section", imgFile, redirectTableSection)
	}

	return section.Offset, nil
}

// writeRedirectTable encodes the resolved redirects as little-endian
// (source, destination) address pairs.
func writeRedirectTable(w io.Writer, redirects []*redirect) error {
	for _, redirect := range redirects {
		if err := binary.Write(w, binary.LittleEndian, [2]uint64{redirect.srcVMA, redirect.dstVMA}); err != nil {
			return errors.Wrap(err, "write redirect table")
		}
	}
	return nil
}

// elfWriteRedirectTable stores the resolved redirects in the redirect table
// section of the kernel image.
func elfWriteRedirectTable(redirects []*redirect, imgFile string) error {
	offset, err := elfRedirectTableOffset(imgFile)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(imgFile, os.O_WRONLY, 0)
	if err != nil {
		return errors.Wrap(err, "open kernel image for writing")
	}
	defer f.Close()

	if _, err = f.Seek(int64(offset), io.SeekStart); err != nil {
		return errors.Wrap(err, "seek to redirect table")
	}

	return writeRedirectTable(f, redirects)
}
