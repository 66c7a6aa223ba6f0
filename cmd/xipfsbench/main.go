// Command xipfsbench drives a synthetic workload against an in-memory
// mount (simflash-backed) to exercise the allocator's consolidating
// Remove under load, and profiles the run with runtime/pprof. It
// plays the stress-and-measure role the teacher's own tooling plays
// around biscuit/src/stats: run a workload, then render the counters
// and CPU profile collected along the way.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/google/pprof/profile"
	"github.com/sirupsen/logrus"
	"runtime/pprof"

	"alloc"
	"boardcfg"
	"errs"
	"flash"
	"pagebuf"
	"simflash"
	"vfs"
)

func runWorkload(log *logrus.Logger, m *vfs.Mount, files, iterations int) error {
	names := make([]string, files)
	for i := range names {
		names[i] = fmt.Sprintf("/bench/file%d", i)
	}
	if errno := m.Mkdir("/bench"); errno != errs.EOK {
		return fmt.Errorf("xipfsbench: mkdir /bench: %s", errno)
	}

	for iter := 0; iter < iterations; iter++ {
		for _, name := range names {
			h, errno := m.Open(name, vfs.OCreat|vfs.OWronly)
			if errno != errs.EOK {
				return fmt.Errorf("xipfsbench: open %s: %s", name, errno)
			}
			payload := []byte(fmt.Sprintf("iteration %d payload for %s", iter, name))
			if _, errno := m.Write(h, payload); errno != errs.EOK {
				return fmt.Errorf("xipfsbench: write %s: %s", name, errno)
			}
			if errno := m.Close(h); errno != errs.EOK {
				return fmt.Errorf("xipfsbench: close %s: %s", name, errno)
			}
		}
		// Remove every other file each round to force the consolidating
		// allocator to slide the survivors down repeatedly, the access
		// pattern most likely to expose a descriptor fix-up bug.
		for i := 0; i < len(names); i += 2 {
			if errno := m.Unlink(names[i]); errno != errs.EOK {
				return fmt.Errorf("xipfsbench: unlink %s: %s", names[i], errno)
			}
		}
	}
	log.WithField("iterations", iterations).Info("workload complete")
	return nil
}

func summarizeProfile(log *logrus.Logger, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("xipfsbench: opening profile: %w", err)
	}
	defer f.Close()
	prof, err := profile.Parse(f)
	if err != nil {
		return fmt.Errorf("xipfsbench: parsing profile: %w", err)
	}
	log.WithFields(logrus.Fields{
		"samples":      len(prof.Sample),
		"duration_ns":  prof.DurationNanos,
		"sample_types": len(prof.SampleType),
	}).Info("cpu profile summary")
	return nil
}

func main() {
	files := flag.Int("files", 64, "number of files in the workload")
	iterations := flag.Int("iterations", 20, "workload rounds")
	profilePath := flag.String("cpuprofile", "xipfsbench.pprof", "CPU profile output path")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	profFile, err := os.Create(*profilePath)
	if err != nil {
		log.WithError(err).Fatal("creating profile output")
	}
	defer profFile.Close()
	if err := pprof.StartCPUProfile(profFile); err != nil {
		log.WithError(err).Fatal("starting CPU profile")
	}

	board := boardcfg.Default()
	board.PageCount = 512
	host := simflash.New(0, board.PageSize, board.PageCount, board.EraseState)
	dev := flash.New(host, flash.Geometry{
		Base:            0,
		PageSize:        board.PageSize,
		PageCount:       board.PageCount,
		EraseByte:       board.EraseState,
		WriteBlockAlign: board.WriteBlockAlign,
		WriteBlockSize:  board.WriteBlockSize,
	})
	buf := pagebuf.New(dev)
	fs := alloc.New(dev, buf, board.Limits(), 0, board.PageCount)
	mount := vfs.New(dev, buf, fs, board.Limits(), board.Magic, "/bench")

	if err := runWorkload(log, mount, *files, *iterations); err != nil {
		pprof.StopCPUProfile()
		log.WithError(err).Fatal("running workload")
	}
	pprof.StopCPUProfile()

	log.Info(mount.Stats.String())

	if err := summarizeProfile(log, *profilePath); err != nil {
		log.WithError(err).Warn("could not summarize profile")
	}
}
