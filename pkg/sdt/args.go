package sdt

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// ArgKind is the location of a probe argument.
type ArgKind uint8

const (
	ArgRegister ArgKind = iota
	ArgMemory
	ArgConstant
)

// Arg is a parsed probe argument.
type Arg struct {
	Size   int
	Signed bool
	Kind   ArgKind
	// Reg is the canonical (full width) name of the register holding the
	// argument, or used as base address for ArgMemory.
	Reg string
	// Offset is the displacement from Reg for ArgMemory and the value for
	// ArgConstant.
	Offset int64
}

// Registers gives access to the registers of the stopped thread.
type Registers interface {
	Reg(name string) (uint64, error)
}

// MemoryReader reads target memory.
type MemoryReader interface {
	ReadMemory(buf []byte, addr uint64) (int, error)
}

// ParseArgs parses a space separated list of SDT arguments for the
// architecture goarch.
func ParseArgs(args, goarch string) ([]Arg, error) {
	var parse func(string) (Arg, error)
	ptrSize := 8
	switch goarch {
	case "amd64":
		parse = parseX86Operand(x86Regs64)
	case "386":
		parse = parseX86Operand(x86Regs32)
		ptrSize = 4
	case "arm64":
		parse = parseARMOperand(arm64Reg)
	case "arm":
		parse = parseARMOperand(armReg)
		ptrSize = 4
	default:
		return nil, fmt.Errorf("probe arguments not supported on %s", goarch)
	}
	r := []Arg{}
	for _, field := range splitArgs(args) {
		size, signed := ptrSize, false
		operand := field
		if i := strings.Index(field, "@"); i >= 0 {
			n, err := strconv.Atoi(field[:i])
			if err != nil {
				return nil, fmt.Errorf("malformed probe argument %q", field)
			}
			if n < 0 {
				signed = true
				n = -n
			}
			switch n {
			case 1, 2, 4, 8:
			default:
				return nil, fmt.Errorf("malformed probe argument %q: bad size", field)
			}
			size = n
			operand = field[i+1:]
		}
		arg, err := parse(operand)
		if err != nil {
			return nil, fmt.Errorf("probe argument %q: %w", field, err)
		}
		arg.Size, arg.Signed = size, signed
		r = append(r, arg)
	}
	return r, nil
}

// splitArgs splits on spaces, except inside square brackets (arm operands
// are written as "[x0, #8]").
func splitArgs(args string) []string {
	r := []string{}
	depth := 0
	start := -1
	for i, ch := range args {
		switch {
		case ch == '[':
			depth++
		case ch == ']':
			depth--
		case ch == ' ' && depth == 0:
			if start >= 0 {
				r = append(r, args[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		r = append(r, args[start:])
	}
	return r
}

var x86Regs64 = map[string]string{}
var x86Regs32 = map[string]string{}

func init() {
	for _, r := range []string{"ax", "bx", "cx", "dx", "si", "di", "bp", "sp"} {
		x86Regs64["r"+r] = "r" + r
		x86Regs64["e"+r] = "r" + r
		x86Regs64[r] = "r" + r
		x86Regs32["e"+r] = "e" + r
		x86Regs32[r] = "e" + r
	}
	for _, r := range []string{"a", "b", "c", "d"} {
		x86Regs64[r+"l"] = "r" + r + "x"
		x86Regs32[r+"l"] = "e" + r + "x"
	}
	for _, r := range []string{"si", "di", "bp", "sp"} {
		x86Regs64[r+"l"] = "r" + r
	}
	for i := 8; i < 16; i++ {
		n := "r" + strconv.Itoa(i)
		for _, sfx := range []string{"", "d", "w", "b"} {
			x86Regs64[n+sfx] = n
		}
	}
	x86Regs64["rip"] = "rip"
}

func parseX86Operand(regs map[string]string) func(string) (Arg, error) {
	reg := func(s string) (string, error) {
		if !strings.HasPrefix(s, "%") {
			return "", fmt.Errorf("expected register, found %q", s)
		}
		r, ok := regs[s[1:]]
		if !ok {
			return "", fmt.Errorf("unknown register %q", s)
		}
		return r, nil
	}
	return func(op string) (Arg, error) {
		switch {
		case strings.HasPrefix(op, "$"):
			v, err := strconv.ParseInt(op[1:], 0, 64)
			if err != nil {
				return Arg{}, err
			}
			return Arg{Kind: ArgConstant, Offset: v}, nil
		case strings.HasPrefix(op, "%"):
			r, err := reg(op)
			return Arg{Kind: ArgRegister, Reg: r}, err
		}
		open := strings.Index(op, "(")
		if open < 0 || !strings.HasSuffix(op, ")") {
			return Arg{}, fmt.Errorf("unsupported operand %q", op)
		}
		var off int64
		if open > 0 {
			var err error
			off, err = strconv.ParseInt(op[:open], 0, 64)
			if err != nil {
				// symbolic displacements need a symbol table
				return Arg{}, fmt.Errorf("unsupported displacement %q", op[:open])
			}
		}
		inner := op[open+1 : len(op)-1]
		if strings.Contains(inner, ",") {
			return Arg{}, fmt.Errorf("indexed operands are not supported: %q", op)
		}
		r, err := reg(inner)
		if err != nil {
			return Arg{}, err
		}
		return Arg{Kind: ArgMemory, Reg: r, Offset: off}, nil
	}
}

func arm64Reg(s string) (string, bool) {
	if s == "sp" || s == "fp" || s == "lr" {
		return s, true
	}
	if len(s) < 2 || (s[0] != 'x' && s[0] != 'w') {
		return "", false
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil || n < 0 || n > 30 {
		return "", false
	}
	return "x" + s[1:], true
}

func armReg(s string) (string, bool) {
	switch s {
	case "sp", "lr", "pc", "fp", "ip":
		return s, true
	}
	if len(s) < 2 || s[0] != 'r' {
		return "", false
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil || n < 0 || n > 15 {
		return "", false
	}
	return s, true
}

func parseARMOperand(regName func(string) (string, bool)) func(string) (Arg, error) {
	return func(op string) (Arg, error) {
		if strings.HasPrefix(op, "[") {
			if !strings.HasSuffix(op, "]") {
				return Arg{}, fmt.Errorf("unsupported operand %q", op)
			}
			parts := strings.Split(op[1:len(op)-1], ",")
			r, ok := regName(strings.TrimSpace(parts[0]))
			if !ok {
				return Arg{}, fmt.Errorf("unknown register %q", parts[0])
			}
			arg := Arg{Kind: ArgMemory, Reg: r}
			switch len(parts) {
			case 1:
			case 2:
				v, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(parts[1]), "#"), 0, 64)
				if err != nil {
					return Arg{}, fmt.Errorf("unsupported displacement %q", parts[1])
				}
				arg.Offset = v
			default:
				return Arg{}, fmt.Errorf("indexed operands are not supported: %q", op)
			}
			return arg, nil
		}
		if r, ok := regName(op); ok {
			return Arg{Kind: ArgRegister, Reg: r}, nil
		}
		v, err := strconv.ParseInt(strings.TrimPrefix(op, "#"), 0, 64)
		if err != nil {
			return Arg{}, fmt.Errorf("unsupported operand %q", op)
		}
		return Arg{Kind: ArgConstant, Offset: v}, nil
	}
}

// Evaluate computes the value of the argument for the thread stopped at
// the probe.
func (a *Arg) Evaluate(regs Registers, mem MemoryReader, order binary.ByteOrder) (uint64, error) {
	var v uint64
	switch a.Kind {
	case ArgConstant:
		v = uint64(a.Offset)
	case ArgRegister:
		r, err := regs.Reg(a.Reg)
		if err != nil {
			return 0, err
		}
		v = r
	case ArgMemory:
		base, err := regs.Reg(a.Reg)
		if err != nil {
			return 0, err
		}
		buf := make([]byte, a.Size)
		if _, err := mem.ReadMemory(buf, base+uint64(a.Offset)); err != nil {
			return 0, err
		}
		switch a.Size {
		case 1:
			v = uint64(buf[0])
		case 2:
			v = uint64(order.Uint16(buf))
		case 4:
			v = uint64(order.Uint32(buf))
		case 8:
			v = order.Uint64(buf)
		}
	}
	return a.extend(v), nil
}

func (a *Arg) extend(v uint64) uint64 {
	if a.Size >= 8 {
		return v
	}
	bits := uint(a.Size * 8)
	v &= (1 << bits) - 1
	if a.Signed && v&(1<<(bits-1)) != 0 {
		v |= ^uint64(0) << bits
	}
	return v
}
