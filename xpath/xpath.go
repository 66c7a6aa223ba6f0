// Package xpath implements spec.md §4.5: classifying a candidate path
// against a mounted volume's current file list without ever opening
// anything. It plays the role a Unix namei() walk plays elsewhere, but
// xipfs has no on-flash directory entries to walk — every file record
// carries its own full path, so classification is a single linear scan
// comparing the candidate against every record's path.
package xpath

import (
	"alloc"
	"errs"
	"record"
)

// Kind is the outcome of classifying one path.
type Kind int

const (
	// Undefined is never returned; every candidate resolves to one of
	// the kinds below or is promoted to ParentMissing at the end of
	// classification.
	Undefined Kind = iota
	// Creatable means no record occupies path, but its parent
	// directory exists (or the volume is empty and path has no
	// intermediate components).
	Creatable
	// ExistsAsFile means a record's path exactly matches.
	ExistsAsFile
	// ExistsAsEmptyDir means path names a directory no record's path
	// descends into.
	ExistsAsEmptyDir
	// ExistsAsNonemptyDir means path names a directory at least one
	// record's path descends into.
	ExistsAsNonemptyDir
	// BlockedByNonDir means a path component that must be a
	// directory is instead an existing file.
	BlockedByNonDir
	// ParentMissing means no record witnesses path's parent at all.
	ParentMissing
)

var kindNames = map[Kind]string{
	Undefined:           "undefined",
	Creatable:           "creatable",
	ExistsAsFile:        "exists as file",
	ExistsAsEmptyDir:    "exists as empty directory",
	ExistsAsNonemptyDir: "exists as non-empty directory",
	BlockedByNonDir:     "blocked by non-directory parent",
	ParentMissing:       "parent missing",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Result is the classification of one candidate path.
type Result struct {
	// Path is the candidate, possibly with a trailing slash appended
	// when classification identified it as an existing directory.
	Path string
	// Dirname is the candidate's parent directory component,
	// including its trailing slash ("/" for a top-level path).
	Dirname string
	// Basename is the candidate's final path component.
	Basename string
	// LastSlash is the index, within Path, of the slash separating
	// Dirname from Basename.
	LastSlash int
	// ParentCount is the number of records whose path shares Path's
	// dirname as a prefix.
	ParentCount int
	// Witness is the record that determined Kind, or nil when none
	// applied (an empty volume, or ParentMissing).
	Witness *record.Record
	// Kind is the classification outcome.
	Kind Kind
}

// at returns the byte at index i of s, or 0 (the C null terminator) if
// i is out of range, so every helper below can be written as a direct
// transliteration of the pointer arithmetic it is grounded on.
func at(s string, i int) byte {
	if i < 0 || i >= len(s) {
		return 0
	}
	return s[i]
}

// split computes last_slash, dirname, and basename for path the way
// xipfs_path_init does.
func split(path string) (lastSlash int, dirname, basename string) {
	if path == "/" {
		return 0, "/", "/"
	}
	for i := 0; i < len(path); i++ {
		if path[i] == '/' && i+1 < len(path) {
			lastSlash = i
		}
	}
	dirname = path[:lastSlash+1]
	rest := path[lastSlash+1:]
	end := len(rest)
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			end = i
			break
		}
	}
	basename = rest[:end]
	return lastSlash, dirname, basename
}

// comparePaths returns the index of the first byte at which p1 and p2
// differ, or the index of the shared terminator if they agree up to
// and including it. It never looks past pathMax bytes.
func comparePaths(p1, p2 string, pathMax int) int {
	i := 0
	for i < pathMax {
		c1, c2 := at(p1, i), at(p2, i)
		if c1 != c2 {
			break
		}
		if c1 == 0 {
			break
		}
		i++
	}
	return i
}

func existsAsFile(p1, p2 string, i int) bool {
	if i <= 0 {
		return false
	}
	return at(p1, i-1) != '/' && at(p1, i-1) != 0 && at(p1, i) == 0 &&
		at(p2, i-1) != '/' && at(p2, i-1) != 0 && at(p2, i) == 0
}

func existsAsEmptyDir(p1, p2 string, i, pathMax int) bool {
	c0 := false
	if i > 0 {
		c0 = at(p1, i-1) == '/' && at(p1, i) == 0 &&
			at(p2, i-1) == '/' && at(p2, i) == 0
	}
	c1 := false
	if i > 0 && i < pathMax-1 {
		c1 = at(p1, i-1) != '/' && at(p1, i-1) != 0 &&
			at(p1, i) == '/' && at(p1, i+1) == 0 &&
			at(p2, i-1) != '/' && at(p2, i-1) != 0 && at(p2, i) == 0
	}
	return c0 || c1
}

func existsAsNonemptyDir(p1, p2 string, i, pathMax int) bool {
	c0 := false
	if i > 0 {
		c0 = at(p1, i-1) == '/' && at(p1, i) != '/' && at(p1, i) != 0 &&
			at(p2, i-1) == '/' && at(p2, i) == 0
	}
	c1 := false
	if i > 0 && i < pathMax-1 {
		c1 = at(p1, i-1) != '/' && at(p1, i-1) != 0 &&
			at(p1, i) == '/' && at(p1, i+1) != '/' && at(p1, i+1) != 0 &&
			at(p2, i-1) != '/' && at(p2, i-1) != 0 && at(p2, i) == 0
	}
	return c0 || c1
}

func invalidBecauseNotDirs(p1, p2 string, i, pathMax int) bool {
	if i <= 0 || i >= pathMax-1 {
		return false
	}
	return at(p1, i-1) != '/' && at(p1, i-1) != 0 && at(p1, i) == 0 &&
		at(p2, i-1) != '/' && at(p2, i-1) != 0 &&
		at(p2, i) == '/' && at(p2, i+1) != '/' && at(p2, i+1) != 0
}

func creatable(p1, p2 string, n int) bool {
	for k := 0; k < n; k++ {
		if at(p1, k) != at(p2, k) {
			return false
		}
	}
	return true
}

func newResult(path string) *Result {
	lastSlash, dirname, basename := split(path)
	return &Result{Path: path, Dirname: dirname, Basename: basename, LastSlash: lastSlash, Kind: Undefined}
}

// ensureTrailingSlash appends a slash to r.Path if it does not already
// end with one, failing with LowNotNulTerminated if there is no room
// (mirroring the ENAMETOOLONG case in xipfs_path_new_n).
func ensureTrailingSlash(r *Result, pathMax int) errs.Low {
	if len(r.Path) > 0 && r.Path[len(r.Path)-1] == '/' {
		return errs.LowOK
	}
	if len(r.Path) >= pathMax-1 {
		return errs.LowNotNulTerminated
	}
	r.Path = r.Path + "/"
	return errs.LowOK
}

// ClassifyMany resolves every path in paths against fs's current
// content in a single pass over the record list, the way
// xipfs_path_new_n amortizes one fs walk across several candidate
// paths instead of walking once per path.
func ClassifyMany(fs *alloc.FS, pathMax int, paths []string) ([]Result, errs.Low) {
	results := make([]Result, len(paths))
	for j, p := range paths {
		results[j] = *newResult(p)
	}

	head, err := fs.Head()
	if err != errs.LowOK {
		return nil, err
	}
	if head != nil {
		for cur := head; cur != nil; {
			filpPath, err := cur.Path()
			if err != errs.LowOK {
				return nil, err
			}
			fp := string(filpPath)
			for j := range results {
				r := &results[j]
				if creatable(fp, r.Path, r.LastSlash+1) {
					r.ParentCount++
				}
				if r.Kind != Undefined && r.Kind != Creatable {
					continue
				}
				i := comparePaths(fp, r.Path, pathMax)
				if i == pathMax {
					return nil, errs.LowNotNulTerminated
				}
				switch {
				case existsAsFile(fp, r.Path, i):
					r.Kind = ExistsAsFile
					r.Witness = cur
				case existsAsEmptyDir(fp, r.Path, i, pathMax):
					if err := ensureTrailingSlash(r, pathMax); err != errs.LowOK {
						return nil, err
					}
					r.Kind = ExistsAsEmptyDir
					r.Witness = cur
				case existsAsNonemptyDir(fp, r.Path, i, pathMax):
					if err := ensureTrailingSlash(r, pathMax); err != errs.LowOK {
						return nil, err
					}
					r.Kind = ExistsAsNonemptyDir
					r.Witness = cur
				case invalidBecauseNotDirs(fp, r.Path, i, pathMax):
					r.Kind = BlockedByNonDir
					r.Witness = cur
				case creatable(fp, r.Path, r.LastSlash+1):
					r.Kind = Creatable
					r.Witness = cur
				}
			}
			next, err := fs.Next(cur)
			if err != errs.LowOK {
				return nil, err
			}
			cur = next
		}
	} else {
		// No file in the volume at all: the only witness-free fact we
		// can establish is whether path sits directly under root.
		for j := range results {
			r := &results[j]
			if r.LastSlash == 0 {
				r.Kind = Creatable
				r.Witness = nil
			}
		}
	}

	for j := range results {
		if results[j].Kind == Undefined {
			results[j].Kind = ParentMissing
			results[j].Witness = nil
		}
	}

	return results, errs.LowOK
}

// Classify resolves a single path; see ClassifyMany.
func Classify(fs *alloc.FS, pathMax int, path string) (Result, errs.Low) {
	rs, err := ClassifyMany(fs, pathMax, []string{path})
	if err != errs.LowOK {
		return Result{}, err
	}
	return rs[0], errs.LowOK
}
