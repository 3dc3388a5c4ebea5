// Package kfmt implements the kernel's formatted output helpers. Nothing in
// this package allocates, so it is safe to call before the memory allocators
// have been brought up.
package kfmt

import (
	"io"
	"strconv"
)

// maxNumLen is large enough to hold any 64-bit value in base 8 plus a sign.
const maxNumLen = 24

var (
	errMissingArg   = []byte("%!(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	numBuf  [maxNumLen]byte
	padBuf  [maxNumLen]byte
	charBuf [1]byte

	// earlyPrintBuffer captures Printf output until a sink is attached.
	earlyPrintBuffer ringBuffer

	// outputSink receives Printf output. When nil, output is captured by
	// earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink makes w the target of Printf and flushes any output that was
// buffered while no sink was attached.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// Printf writes a formatted message to the active output sink. It supports
// a small subset of the fmt verbs:
//
//	%s  string or []byte
//	%d  base 10 integer, space-padded
//	%x  base 16 integer, zero-padded
//	%o  base 8 integer, zero-padded
//	%t  bool
//	%%  a literal percent sign
//
// A decimal width may precede the verb.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves like Printf but writes to w.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		argIndex int
		litStart int
	)

	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			continue
		}

		writeString(w, format[litStart:i])

		width := 0
		for i++; i < len(format) && format[i] >= '0' && format[i] <= '9'; i++ {
			width = width*10 + int(format[i]-'0')
		}
		litStart = i + 1

		if i == len(format) {
			write(w, errNoVerb)
			break
		}

		verb := format[i]
		if verb == '%' {
			writeByte(w, '%')
			continue
		}

		if argIndex >= len(args) {
			write(w, errMissingArg)
			continue
		}

		arg := args[argIndex]
		argIndex++

		switch verb {
		case 'd':
			fmtInt(w, arg, 10, width)
		case 'x':
			fmtInt(w, arg, 16, width)
		case 'o':
			fmtInt(w, arg, 8, width)
		case 's':
			fmtString(w, arg, width)
		case 't':
			fmtBool(w, arg)
		default:
			write(w, errNoVerb)
		}
	}

	if litStart < len(format) {
		writeString(w, format[litStart:])
	}

	for ; argIndex < len(args); argIndex++ {
		write(w, errExtraArg)
	}
}

func fmtBool(w io.Writer, v interface{}) {
	b, ok := v.(bool)
	switch {
	case !ok:
		write(w, errWrongArgType)
	case b:
		write(w, trueValue)
	default:
		write(w, falseValue)
	}
}

func fmtString(w io.Writer, v interface{}, width int) {
	switch s := v.(type) {
	case string:
		pad(w, ' ', width-len(s))
		writeString(w, s)
	case []byte:
		pad(w, ' ', width-len(s))
		write(w, s)
	default:
		write(w, errWrongArgType)
	}
}

// fmtInt formats any built-in integer type in the requested base. Base 10
// values are padded with spaces; other bases are padded with zeroes.
func fmtInt(w io.Writer, v interface{}, base, width int) {
	var out []byte

	switch n := v.(type) {
	case int:
		out = strconv.AppendInt(numBuf[:0], int64(n), base)
	case int8:
		out = strconv.AppendInt(numBuf[:0], int64(n), base)
	case int16:
		out = strconv.AppendInt(numBuf[:0], int64(n), base)
	case int32:
		out = strconv.AppendInt(numBuf[:0], int64(n), base)
	case int64:
		out = strconv.AppendInt(numBuf[:0], n, base)
	case uint:
		out = strconv.AppendUint(numBuf[:0], uint64(n), base)
	case uint8:
		out = strconv.AppendUint(numBuf[:0], uint64(n), base)
	case uint16:
		out = strconv.AppendUint(numBuf[:0], uint64(n), base)
	case uint32:
		out = strconv.AppendUint(numBuf[:0], uint64(n), base)
	case uint64:
		out = strconv.AppendUint(numBuf[:0], n, base)
	case uintptr:
		out = strconv.AppendUint(numBuf[:0], uint64(n), base)
	default:
		write(w, errWrongArgType)
		return
	}

	padCh := byte('0')
	if base == 10 {
		padCh = ' '
	}

	// Zero padding goes after the sign; space padding goes before it.
	if padCh == '0' && len(out) > 0 && out[0] == '-' {
		writeByte(w, '-')
		pad(w, padCh, width-len(out))
		write(w, out[1:])
		return
	}

	pad(w, padCh, width-len(out))
	write(w, out)
}

func pad(w io.Writer, ch byte, count int) {
	for count > 0 {
		n := count
		if n > len(padBuf) {
			n = len(padBuf)
		}
		for i := 0; i < n; i++ {
			padBuf[i] = ch
		}
		write(w, padBuf[:n])
		count -= n
	}
}

// writeString emits s one byte at a time; converting it to a []byte would
// allocate.
func writeString(w io.Writer, s string) {
	for i := 0; i < len(s); i++ {
		writeByte(w, s[i])
	}
}

func writeByte(w io.Writer, b byte) {
	charBuf[0] = b
	write(w, charBuf[:])
}

func write(w io.Writer, p []byte) {
	if w == nil {
		earlyPrintBuffer.Write(p)
		return
	}
	w.Write(p)
}
