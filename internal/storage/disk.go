package storage

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// PathUsage is the on-disk size of one named storage location.
type PathUsage struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	Bytes int64  `json:"bytes"`
}

// DiskUsage reports the size of each named path (record database, index directory,
// staging directory, keyword index) and their total. Missing paths count as zero.
func DiskUsage(paths map[string]string) ([]PathUsage, int64, error) {
	names := make([]string, 0, len(paths))
	for name := range paths {
		names = append(names, name)
	}
	sort.Strings(names)

	var total int64
	out := make([]PathUsage, 0, len(names))
	for _, name := range names {
		p := paths[name]
		n, err := pathSize(p)
		if err != nil {
			return nil, 0, err
		}
		// SQLite keeps uncheckpointed writes beside the main file.
		if name == "records" {
			for _, suffix := range []string{"-wal", "-shm"} {
				extra, err := pathSize(p + suffix)
				if err != nil {
					return nil, 0, err
				}
				n += extra
			}
		}
		out = append(out, PathUsage{Name: name, Path: p, Bytes: n})
		total += n
	}
	return out, total, nil
}

func pathSize(p string) (int64, error) {
	if p == "" {
		return 0, nil
	}
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		total += fi.Size()
		return nil
	})
	return total, err
}
