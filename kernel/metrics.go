package kernel

import "github.com/prometheus/client_golang/prometheus"

import "vmkern/stats"
import "vmkern/vm"

// / Collector_t exports the VM core's counters in Prometheus format.
type Collector_t struct {
	sys *vm.Vmsys_t

	faults     *prometheus.Desc
	stackgrow  *prometheus.Desc
	evictions  *prometheus.Desc
	swapins    *prometheus.Desc
	swapouts   *prometheus.Desc
	filereads  *prometheus.Desc
	writebacks *prometheus.Desc
	mmaps      *prometheus.Desc
	munmaps    *prometheus.Desc
	userfree   *prometheus.Desc
	swapused   *prometheus.Desc
}

// / Mkcollector creates a collector over the given VM system.
func Mkcollector(sys *vm.Vmsys_t) *Collector_t {
	ns := "vmkern"
	d := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(ns+"_"+name, help, nil, nil)
	}
	return &Collector_t{
		sys:        sys,
		faults:     d("faults_total", "Page faults resolved by the SPT."),
		stackgrow:  d("stack_growths_total", "Faults resolved by stack growth."),
		evictions:  d("evictions_total", "Frames reclaimed by the clock hand."),
		swapins:    d("swapins_total", "Anonymous pages restored from swap."),
		swapouts:   d("swapouts_total", "Anonymous pages written to swap."),
		filereads:  d("file_reads_total", "File-backed pages populated."),
		writebacks: d("writebacks_total", "Dirty file pages written back."),
		mmaps:      d("mmaps_total", "Mmap regions created."),
		munmaps:    d("munmaps_total", "Mmap regions destroyed."),
		userfree:   d("user_frames_free", "Frames left in the user pool."),
		swapused:   d("swap_slots_used", "Occupied swap slots."),
	}
}

// / Describe implements prometheus.Collector.
func (c *Collector_t) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.faults
	ch <- c.stackgrow
	ch <- c.evictions
	ch <- c.swapins
	ch <- c.swapouts
	ch <- c.filereads
	ch <- c.writebacks
	ch <- c.mmaps
	ch <- c.munmaps
	ch <- c.userfree
	ch <- c.swapused
}

func counter(ch chan<- prometheus.Metric, d *prometheus.Desc, c *stats.Counter_t) {
	ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue,
		float64(c.Load()))
}

// / Collect implements prometheus.Collector.
func (c *Collector_t) Collect(ch chan<- prometheus.Metric) {
	st := &c.sys.Stats
	counter(ch, c.faults, &st.Faults)
	counter(ch, c.stackgrow, &st.Stackgrow)
	counter(ch, c.evictions, &st.Evictions)
	counter(ch, c.swapins, &st.Swapins)
	counter(ch, c.swapouts, &st.Swapouts)
	counter(ch, c.filereads, &st.Filereads)
	counter(ch, c.writebacks, &st.Writebacks)
	counter(ch, c.mmaps, &st.Mmaps)
	counter(ch, c.munmaps, &st.Munmaps)
	ch <- prometheus.MustNewConstMetric(c.userfree, prometheus.GaugeValue,
		float64(c.sys.Phys().Userfree()))
	ch <- prometheus.MustNewConstMetric(c.swapused, prometheus.GaugeValue,
		float64(c.sys.Swap().Slotsused()))
}
