// Command mkxipfs builds a raw xipfs flash image from a host
// directory tree, the offline counterpart to calling vfs.NewFile
// record by record on a live mount. It plays the same role the
// teacher's cmd/mkfs plays for a ufs disk image: walk a skeleton
// directory, replicate its structure into the target file system, and
// write the result out as a single image file ready to be flashed.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"alloc"
	"boardcfg"
	"errs"
	"flash"
	"pagebuf"
	"simflash"
)

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return log
}

// buildImage walks skelDir on the host and creates one xipfs record
// per regular file and one empty-dir marker per otherwise-empty
// directory it finds, mirroring the teacher's addfiles/copydata pair.
func buildImage(log *logrus.Logger, fs *alloc.FS, skelDir string) error {
	// emptyDirs tracks every directory the walk has seen that has not
	// yet had a file placed under it; any that remain true after the
	// walk need an explicit empty-dir marker record, since xipfs has no
	// directory entries of its own to imply one.
	emptyDirs := map[string]bool{}
	var order []string

	err := filepath.WalkDir(skelDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("mkxipfs: walking %s: %w", path, err)
		}
		rel := strings.TrimPrefix(path, skelDir)
		if rel == "" {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !strings.HasPrefix(rel, "/") {
			rel = "/" + rel
		}

		if d.IsDir() {
			key := rel + "/"
			emptyDirs[key] = true
			order = append(order, key)
			return nil
		}

		for dir := filepath.ToSlash(filepath.Dir(rel)); dir != "/" && dir != "."; dir = filepath.ToSlash(filepath.Dir(dir)) {
			emptyDirs[dir+"/"] = false
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("mkxipfs: reading %s: %w", path, err)
		}
		exec := isExecutable(path)
		if _, lowErr := fs.NewFile(rel, len(data), exec); lowErr != errs.LowOK {
			return fmt.Errorf("mkxipfs: creating %s: %s", rel, lowErr.Errno())
		}
		rec, lowErr := fs.Tail()
		if lowErr != errs.LowOK || rec == nil {
			return fmt.Errorf("mkxipfs: locating freshly created %s", rel)
		}
		for i, b := range data {
			if lowErr := rec.WriteByte(int64(i), b); lowErr != errs.LowOK {
				return fmt.Errorf("mkxipfs: writing %s byte %d: %s", rel, i, lowErr.Errno())
			}
		}
		if lowErr := rec.SetSize(uint32(len(data))); lowErr != errs.LowOK {
			return fmt.Errorf("mkxipfs: setting size of %s: %s", rel, lowErr.Errno())
		}
		log.WithFields(logrus.Fields{"path": rel, "bytes": len(data), "exec": exec}).Info("added file")
		return nil
	})
	if err != nil {
		return err
	}

	for _, dir := range order {
		if !emptyDirs[dir] {
			continue
		}
		if _, lowErr := fs.NewFile(dir, 0, false); lowErr != errs.LowOK {
			return fmt.Errorf("mkxipfs: marking empty directory %s: %s", dir, lowErr.Errno())
		}
		log.WithField("path", dir).Info("added empty directory marker")
	}
	return nil
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode()&0o111 != 0
}

func writeImage(log *logrus.Logger, h *simflash.Host, base uintptr, totalBytes int, out string) error {
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("mkxipfs: creating %s: %w", out, err)
	}
	defer f.Close()
	data := h.Read(base, totalBytes)
	n, err := f.Write(data)
	if err != nil {
		return fmt.Errorf("mkxipfs: writing %s: %w", out, err)
	}
	if n != len(data) {
		return errors.New("mkxipfs: short write")
	}
	log.WithField("image", out).WithField("bytes", n).Info("image written")
	return nil
}

func main() {
	boardPath := flag.String("board", "", "board profile YAML (defaults to the dwm1001 reference profile)")
	skelDir := flag.String("skel", "", "host directory tree to copy into the image")
	out := flag.String("out", "xipfs.img", "output image path")
	flag.Parse()

	log := newLogger()
	buildID := uuid.New()
	log.WithField("build_id", buildID.String()).Info("starting image build")

	if *skelDir == "" {
		log.Fatal("mkxipfs: -skel is required")
	}

	profile := boardcfg.Default()
	if *boardPath != "" {
		p, err := boardcfg.Load(*boardPath)
		if err != nil {
			log.WithError(err).Fatal("loading board profile")
		}
		profile = p
	}

	host := simflash.New(0, profile.PageSize, profile.PageCount, profile.EraseState)
	dev := flash.New(host, flash.Geometry{
		Base:            0,
		PageSize:        profile.PageSize,
		PageCount:       profile.PageCount,
		EraseByte:       profile.EraseState,
		WriteBlockAlign: profile.WriteBlockAlign,
		WriteBlockSize:  profile.WriteBlockSize,
	})
	buf := pagebuf.New(dev)
	fs := alloc.New(dev, buf, profile.Limits(), 0, profile.PageCount)

	if err := buildImage(log, fs, *skelDir); err != nil {
		log.WithError(err).Fatal("building image")
	}
	if err := buf.Flush(); err != errs.LowOK {
		log.Fatalf("mkxipfs: final flush: %s", err.Errno())
	}

	totalBytes := profile.PageSize * profile.PageCount
	if err := writeImage(log, host, 0, totalBytes, *out); err != nil {
		log.WithError(err).Fatal("writing image")
	}

	log.WithField("total_bytes", totalBytes).Info("done")
}
