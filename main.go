// Command vmkern boots the VM core on a simulated machine, runs a
// small paging workload, and optionally serves Prometheus metrics.
package main

import (
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"gopkg.in/alecthomas/kingpin.v2"

	"vmkern/fs"
	"vmkern/kernel"
	"vmkern/mem"
	"vmkern/stats"
	"vmkern/vm"
)

var (
	userpages = kingpin.Flag("vm.user-pages",
		"Frames in the user pool; exhaustion triggers eviction.").
		Default("32").Int()
	swapsectors = kingpin.Flag("vm.swap-sectors",
		"Sectors on the swap device.").Default("4096").Int()
	listen = kingpin.Flag("web.listen-address",
		"Serve /metrics here after the workload; empty exits instead.").
		Default("").String()
	debug = kingpin.Flag("log.debug", "Log paging events.").Bool()
)

// workload forces the pool through eviction and back: anonymous pages
// beyond the pool size, a stack fault, and an mmap round trip.
func workload(k *kernel.Kernel_t, log zerolog.Logger) bool {
	sys := k.Sys
	as := sys.Mkas()
	npages := 2 * *userpages

	base := uintptr(0x400000)
	for i := 0; i < npages; i++ {
		va := base + uintptr(i*mem.PGSIZE)
		if !as.Alloc_page(vm.VM_ANON, va, true) {
			log.Error().Uint64("va", uint64(va)).Msg("alloc failed")
			return false
		}
		if err := as.Userwriten(va, 1, i&0xff); err != 0 {
			log.Error().Stringer("err", err).Msg("store failed")
			return false
		}
	}
	for i := 0; i < npages; i++ {
		va := base + uintptr(i*mem.PGSIZE)
		v, err := as.Userreadn(va, 1)
		if err != 0 || v != i&0xff {
			log.Error().Uint64("va", uint64(va)).Msg("readback mismatch")
			return false
		}
	}

	// stack growth
	as.Rsp = mem.USER_STACK
	if err := as.Userwriten(mem.USER_STACK-8, 8, 0x1234); err != 0 {
		log.Error().Stringer("err", err).Msg("stack fault failed")
		return false
	}

	// mmap round trip
	content := make([]uint8, 3*mem.PGSIZE/2)
	for i := range content {
		content[i] = uint8(i)
	}
	f := fs.Mkmemfile(content)
	maddr := uintptr(0x10000000)
	if as.Do_mmap(maddr, len(content), true, f, 0) == 0 {
		log.Error().Msg("mmap failed")
		return false
	}
	if err := as.Userwriten(maddr+100, 1, 0xaa); err != 0 {
		log.Error().Stringer("err", err).Msg("mmap store failed")
		return false
	}
	as.Do_munmap(maddr)
	if f.Bytes()[100] != 0xaa {
		log.Error().Msg("writeback missing")
		return false
	}

	as.Destroy()
	return true
}

func main() {
	kingpin.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()
	if !*debug {
		log = log.Level(zerolog.InfoLevel)
	}

	k := kernel.Mkkernel(kernel.Config_t{
		Userpages:   *userpages,
		Swapsectors: *swapsectors,
		Log:         log,
	})

	if !workload(k, log) {
		log.Fatal().Msg("workload failed")
	}
	log.Info().Msg("workload complete" + stats.Stats2String(k.Sys.Stats))

	if *listen != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(kernel.Mkcollector(k.Sys))
		http.Handle("/metrics", promhttp.HandlerFor(reg,
			promhttp.HandlerOpts{}))
		log.Info().Str("addr", *listen).Msg("serving metrics")
		if err := http.ListenAndServe(*listen, nil); err != nil {
			log.Fatal().Err(err).Msg("listen failed")
		}
	}
}
