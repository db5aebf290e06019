// Package irtest provides small program descriptors shared by tests.
package irtest

import (
	"fmt"

	"github.com/zjy-dev/cfgds/internal/ir"
)

// MustParse parses a YAML descriptor and panics on error.
func MustParse(src string) *ir.Program {
	p, err := ir.Parse([]byte(src))
	if err != nil {
		panic(fmt.Sprintf("irtest: %v", err))
	}
	return p
}

// MustMethod returns the named method of p and panics if it is missing.
func MustMethod(p *ir.Program, name string) *ir.Method {
	m, ok := p.Method(name)
	if !ok {
		panic("irtest: no method " + name)
	}
	return m
}

// IfElse has a single two-way branch: Demo.sign.
const IfElse = `
classes:
  - name: Demo
methods:
  - class: Demo
    name: sign
    params: [{name: x}]
    blocks:
      - label: entry
        insts:
          - {op: lt, dst: c, args: [x, 0]}
          - {op: branch, args: [c], targets: [neg, pos]}
      - label: neg
        insts:
          - {op: return, args: [-1]}
      - label: pos
        insts:
          - {op: return, args: [1]}
`

// Diamond branches into two arms that merge through a phi: Demo.diamond.
const Diamond = `
classes:
  - name: Demo
methods:
  - class: Demo
    name: diamond
    params: [{name: x}]
    blocks:
      - label: entry
        insts:
          - {op: gt, dst: c, args: [x, 10]}
          - {op: branch, args: [c], targets: [left, right]}
      - label: left
        insts:
          - {op: add, dst: a, args: [x, 1]}
          - {op: jump, targets: [join]}
      - label: right
        insts:
          - {op: sub, dst: b, args: [x, 1]}
          - {op: jump, targets: [join]}
      - label: join
        insts:
          - {op: phi, dst: r, phi: [{pred: left, value: a}, {pred: right, value: b}]}
          - {op: return, args: [r]}
`

// Nested has three branches in sequence, each guarding the next: Demo.nested.
const Nested = `
classes:
  - name: Demo
methods:
  - class: Demo
    name: nested
    params: [{name: x}, {name: y}, {name: z}]
    blocks:
      - label: b1
        insts:
          - {op: gt, dst: c1, args: [x, 0]}
          - {op: branch, args: [c1], targets: [b2, out1]}
      - label: b2
        insts:
          - {op: gt, dst: c2, args: [y, 0]}
          - {op: branch, args: [c2], targets: [b3, out2]}
      - label: b3
        insts:
          - {op: eq, dst: c3, args: [z, 7]}
          - {op: branch, args: [c3], targets: [hit, out3]}
      - label: hit
        insts:
          - {op: return, args: [3]}
      - label: out1
        insts:
          - {op: return, args: [0]}
      - label: out2
        insts:
          - {op: return, args: [1]}
      - label: out3
        insts:
          - {op: return, args: [2]}
`

// Calls routes its argument through a helper with its own branch:
// Demo.classify calls Util.abs.
const Calls = `
classes:
  - name: Demo
  - name: Util
methods:
  - class: Util
    name: abs
    params: [{name: v}]
    blocks:
      - label: entry
        insts:
          - {op: lt, dst: n, args: [v, 0]}
          - {op: branch, args: [n], targets: [flip, keep]}
      - label: flip
        insts:
          - {op: neg, dst: w, args: [v]}
          - {op: return, args: [w]}
      - label: keep
        insts:
          - {op: return, args: [v]}
  - class: Demo
    name: classify
    params: [{name: x}]
    blocks:
      - label: entry
        insts:
          - {op: call, dst: a, callee: Util.abs, args: [x]}
          - {op: gt, dst: big, args: [a, 100]}
          - {op: branch, args: [big], targets: [large, small]}
      - label: large
        insts:
          - {op: return, args: [1]}
      - label: small
        insts:
          - {op: return, args: [0]}
`

// Switch dispatches on a key with a default: Demo.pick.
const Switch = `
classes:
  - name: Demo
methods:
  - class: Demo
    name: pick
    params: [{name: k}]
    blocks:
      - label: entry
        insts:
          - {op: switch, args: [k], cases: [1, 2, 3], targets: [one, two, two, other]}
      - label: one
        insts:
          - {op: return, args: [10]}
      - label: two
        insts:
          - {op: return, args: [20]}
      - label: other
        insts:
          - {op: return, args: [0]}
`

// Virtual calls an overridable method on its receiver and has a static
// initializer that calls into another class with its own initializer.
const Virtual = `
classes:
  - name: Shape
  - name: Square
    super: Shape
  - name: Circle
    super: Shape
  - name: Registry
  - name: Table
methods:
  - class: Registry
    name: <clinit>
    blocks:
      - label: entry
        insts:
          - {op: call, dst: t, callee: Table.size}
          - {op: return}
  - class: Table
    name: <clinit>
    blocks:
      - label: entry
        insts:
          - {op: return}
  - class: Table
    name: size
    blocks:
      - label: entry
        insts:
          - {op: return, args: [4]}
  - class: Shape
    name: area
    receiver: true
    params: [{name: s}]
    blocks:
      - label: entry
        insts:
          - {op: return, args: [0]}
  - class: Square
    name: area
    receiver: true
    params: [{name: s}]
    blocks:
      - label: entry
        insts:
          - {op: mul, dst: a, args: [s, s]}
          - {op: return, args: [a]}
  - class: Circle
    name: area
    receiver: true
    params: [{name: s}]
    blocks:
      - label: entry
        insts:
          - {op: mul, dst: a, args: [s, 3]}
          - {op: return, args: [a]}
  - class: Registry
    name: measure
    receiver: true
    params: [{name: s}]
    blocks:
      - label: entry
        insts:
          - {op: call, dst: a, callee: Shape.area, receiver: this, virtual: true, args: [s]}
          - {op: gt, dst: c, args: [a, 50]}
          - {op: branch, args: [c], targets: [big, small]}
      - label: big
        insts:
          - {op: return, args: [1]}
      - label: small
        insts:
          - {op: return, args: [0]}
`

// Loop counts up to its argument: Demo.count.
const Loop = `
classes:
  - name: Demo
methods:
  - class: Demo
    name: count
    params: [{name: n}]
    blocks:
      - label: entry
        insts:
          - {op: jump, targets: [head]}
      - label: head
        insts:
          - {op: phi, dst: i, phi: [{pred: entry, value: 0}, {pred: body, value: j}]}
          - {op: lt, dst: c, args: [i, n]}
          - {op: branch, args: [c], targets: [body, done]}
      - label: body
        insts:
          - {op: add, dst: j, args: [i, 1]}
          - {op: jump, targets: [head]}
      - label: done
        insts:
          - {op: return, args: [i]}
`

// Swap exchanges two values once per loop iteration, so its loop header
// holds phis that read each other: Demo.swap. The hit arm needs an odd n.
const Swap = `
classes:
  - name: Demo
methods:
  - class: Demo
    name: swap
    params: [{name: n}]
    blocks:
      - label: entry
        insts:
          - {op: jump, targets: [head]}
      - label: head
        insts:
          - {op: phi, dst: a, phi: [{pred: entry, value: 10}, {pred: body, value: b}]}
          - {op: phi, dst: b, phi: [{pred: entry, value: 20}, {pred: body, value: a}]}
          - {op: phi, dst: i, phi: [{pred: entry, value: 0}, {pred: body, value: j}]}
          - {op: lt, dst: c, args: [i, n]}
          - {op: branch, args: [c], targets: [body, done]}
      - label: body
        insts:
          - {op: add, dst: j, args: [i, 1]}
          - {op: jump, targets: [head]}
      - label: done
        insts:
          - {op: eq, dst: h, args: [b, 10]}
          - {op: branch, args: [h], targets: [hit, miss]}
      - label: hit
        insts:
          - {op: return, args: [a]}
      - label: miss
        insts:
          - {op: return, args: [0]}
`
