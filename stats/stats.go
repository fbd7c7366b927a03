// Package stats holds the VM core's event counters.
package stats

import "reflect"
import "strconv"
import "strings"
import "sync/atomic"

/// Counter_t is a statistical counter.
type Counter_t int64

/// Inc increments the counter.
func (c *Counter_t) Inc() {
	atomic.AddInt64((*int64)(c), 1)
}

/// Add adds n to the counter.
func (c *Counter_t) Add(n int64) {
	atomic.AddInt64((*int64)(c), n)
}

/// Load returns the current value.
func (c *Counter_t) Load() int64 {
	return atomic.LoadInt64((*int64)(c))
}

/// Vmstats_t counts paging events for the whole system.
type Vmstats_t struct {
	Faults     Counter_t /// page faults resolved by the SPT
	Stackgrow  Counter_t /// faults resolved by stack growth
	Evictions  Counter_t /// frames reclaimed by the clock hand
	Swapins    Counter_t /// anonymous pages restored from swap
	Swapouts   Counter_t /// anonymous pages written to swap
	Filereads  Counter_t /// file-backed pages populated from a file
	Writebacks Counter_t /// dirty file pages written back
	Mmaps      Counter_t /// mmap regions created
	Munmaps    Counter_t /// mmap regions destroyed
}

/// Stats2String converts a struct of counters to a printable string.
func Stats2String(st interface{}) string {
	v := reflect.ValueOf(st)
	s := ""
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		if strings.HasSuffix(t, "Counter_t") {
			n := v.Field(i).Interface().(Counter_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " +
				strconv.FormatInt(int64(n), 10)
		}
	}
	return s + "\n"
}
