// Package stats implements spec.md's domain-stack observability
// surface: lock-free counters for the operations a mount performs,
// exposed through .xipfs_infos. Grounded on the teacher's
// biscuit/src/stats package: a Counter_t type with an Inc method and
// a Stats2String reflect-based renderer that turns a struct of
// counters into a printable block without per-field boilerplate.
//
// The teacher's Counter_t reinterprets its own address as *int64 via
// unsafe to call atomic.AddInt64, a pre-generics workaround for a Go
// version without sync/atomic.Int64. This package uses
// sync/atomic.Int64 directly instead: the counters here carry no
// on-flash representation for unsafe to matter, and the stdlib type
// makes the exact same lock-free increment without a cast.
package stats

import (
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
)

// Counter is a lock-free operation counter.
type Counter struct{ v atomic.Int64 }

// Inc increments the counter by one.
func (c *Counter) Inc() { c.v.Add(1) }

// Add adds delta to the counter.
func (c *Counter) Add(delta int64) { c.v.Add(delta) }

// Load returns the counter's current value.
func (c *Counter) Load() int64 { return c.v.Load() }

// Mount holds one mount's running operation counters: one field for
// each of ten driver-surface operations, plus flash erase, flash
// program, compaction and execution counters. A zero Mount is ready to
// use.
type Mount struct {
	Opens    Counter
	Closes   Counter
	Reads    Counter
	Writes   Counter
	Seeks    Counter
	Mkdirs   Counter
	Rmdirs   Counter
	Unlinks  Counter
	Renames  Counter
	NewFiles Counter

	FlashErases  Counter
	FlashPrograms Counter
	Compactions  Counter
	Executions   Counter
}

// String renders every Counter field, in declaration order, the same
// way Stats2String does: a reflect walk rather than a hand-maintained
// field list, so adding a counter here never requires touching this
// method.
func (m *Mount) String() string {
	v := reflect.ValueOf(m).Elem()
	var b strings.Builder
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		if f.Type() != reflect.TypeOf(Counter{}) {
			continue
		}
		c := f.Addr().Interface().(*Counter)
		b.WriteString("\n\t#")
		b.WriteString(v.Type().Field(i).Name)
		b.WriteString(": ")
		b.WriteString(strconv.FormatInt(c.Load(), 10))
	}
	b.WriteString("\n")
	return b.String()
}
