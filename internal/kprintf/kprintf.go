// Package kprintf implements the kernel's diagnostic printf: a
// minimal format-verb subset (d/i/o/u/x/X/c/s/p with width/precision/#/0/
// space/+) written line-atomically under a single global spinlock, so two
// concurrent callers never interleave within one call.
package kprintf

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/DIKU-EDU/kudos-sub000/internal/lock"
)

// Console serializes writes to out behind a single spinlock — the polling
// TTY used exclusively for kernel diagnostics, never user I/O.
type Console struct {
	out  io.Writer
	lock lock.Spinlock
}

// NewConsole attaches a Console to out (typically a device.UART).
func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

// Printf formats format/args per the supported verb subset and writes the
// whole line under the console's spinlock, guaranteeing line-atomicity
// against any other concurrent Printf call.
func (c *Console) Printf(format string, args ...any) (int, error) {
	s, err := render(format, args...)
	if err != nil {
		return 0, err
	}
	c.lock.Acquire()
	defer c.lock.Release()
	return io.WriteString(c.out, s)
}

// render implements the printf subset directly rather than deferring to
// fmt.Sprintf, since the supported verbs (d/i/o/u/x/X/c/s/p plus
// width/precision/#/0/space/+ flags) are a deliberately narrow mirror of
// the freestanding kernel's own hand-rolled formatter, not of Go's.
func render(format string, args ...any) (string, error) {
	var b strings.Builder
	argi := 0
	nextArg := func() (any, error) {
		if argi >= len(args) {
			return nil, fmt.Errorf("kprintf: too few arguments for format %q", format)
		}
		a := args[argi]
		argi++
		return a, nil
	}

	runes := []rune(format)
	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		if ch != '%' {
			b.WriteRune(ch)
			continue
		}
		i++
		if i >= len(runes) {
			return "", fmt.Errorf("kprintf: trailing %% in format")
		}
		if runes[i] == '%' {
			b.WriteByte('%')
			continue
		}

		var flags struct {
			alt, zero, space, plus bool
		}
		for i < len(runes) {
			switch runes[i] {
			case '#':
				flags.alt = true
			case '0':
				flags.zero = true
			case ' ':
				flags.space = true
			case '+':
				flags.plus = true
			default:
				goto flagsDone
			}
			i++
		}
	flagsDone:

		width := 0
		for i < len(runes) && runes[i] >= '0' && runes[i] <= '9' {
			width = width*10 + int(runes[i]-'0')
			i++
		}

		precision := -1
		if i < len(runes) && runes[i] == '.' {
			i++
			precision = 0
			for i < len(runes) && runes[i] >= '0' && runes[i] <= '9' {
				precision = precision*10 + int(runes[i]-'0')
				i++
			}
		}

		if i >= len(runes) {
			return "", fmt.Errorf("kprintf: missing verb in format")
		}
		verb := runes[i]

		piece, err := renderVerb(verb, flags.alt, flags.zero, flags.space, flags.plus, width, precision, nextArg)
		if err != nil {
			return "", err
		}
		b.WriteString(piece)
	}
	return b.String(), nil
}

func renderVerb(verb rune, alt, zero, space, plus bool, width, precision int, nextArg func() (any, error)) (string, error) {
	switch verb {
	case 'd', 'i', 'u':
		a, err := nextArg()
		if err != nil {
			return "", err
		}
		n := toInt64(a)
		s := strconv.FormatInt(n, 10)
		if n >= 0 {
			if plus {
				s = "+" + s
			} else if space {
				s = " " + s
			}
		}
		return pad(s, width, zero), nil

	case 'o':
		a, err := nextArg()
		if err != nil {
			return "", err
		}
		s := strconv.FormatUint(toUint64(a), 8)
		if alt {
			s = "0" + s
		}
		return pad(s, width, zero), nil

	case 'x':
		a, err := nextArg()
		if err != nil {
			return "", err
		}
		s := strconv.FormatUint(toUint64(a), 16)
		if precision >= 0 {
			s = padZeroLeft(s, precision)
		}
		if alt {
			s = "0x" + s
		}
		return pad(s, width, zero), nil

	case 'X':
		a, err := nextArg()
		if err != nil {
			return "", err
		}
		s := strings.ToUpper(strconv.FormatUint(toUint64(a), 16))
		if precision >= 0 {
			s = padZeroLeft(s, precision)
		}
		if alt {
			s = "0X" + s
		}
		return pad(s, width, zero), nil

	case 'c':
		a, err := nextArg()
		if err != nil {
			return "", err
		}
		return pad(string(rune(toInt64(a))), width, false), nil

	case 's':
		a, err := nextArg()
		if err != nil {
			return "", err
		}
		s := fmt.Sprint(a)
		if precision >= 0 && precision < len(s) {
			s = s[:precision]
		}
		return pad(s, width, false), nil

	case 'p':
		a, err := nextArg()
		if err != nil {
			return "", err
		}
		return pad(fmt.Sprintf("0x%x", toUint64(a)), width, false), nil

	default:
		return "", fmt.Errorf("kprintf: unsupported verb %%%c", verb)
	}
}

func pad(s string, width int, zero bool) string {
	if len(s) >= width {
		return s
	}
	padChar := byte(' ')
	if zero {
		padChar = '0'
	}
	return strings.Repeat(string(padChar), width-len(s)) + s
}

func padZeroLeft(s string, precision int) string {
	if len(s) >= precision {
		return s
	}
	return strings.Repeat("0", precision-len(s)) + s
}

func toInt64(a any) int64 {
	switch v := a.(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case uint:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return int64(v)
	default:
		return 0
	}
}

func toUint64(a any) uint64 {
	switch v := a.(type) {
	case int:
		return uint64(v)
	case int32:
		return uint64(v)
	case int64:
		return uint64(v)
	case uint:
		return uint64(v)
	case uint32:
		return uint64(v)
	case uint64:
		return v
	default:
		return 0
	}
}
