package dataset

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var shardRegexp = regexp.MustCompile(`^shard-[0-9]{6,}\.tar$`)

// DiscoverShards returns paths to shard TAR files beneath root.
func DiscoverShards(root string) ([]string, error) {
	entries := make([]string, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if shardRegexp.MatchString(d.Name()) {
			entries = append(entries, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover shards: %w", err)
	}
	sort.Strings(entries)
	return entries, nil
}

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

// Entry is one image file of a folder dataset.
type Entry struct {
	Key   string
	Path  string
	Label int
}

// Folder is an image-folder dataset: one sub-directory per class, classes
// indexed in sorted order.
type Folder struct {
	Root    string
	Classes []string
	Entries []Entry
}

// OpenFolder scans root/<class>/<image> and returns the dataset.
func OpenFolder(root string) (*Folder, error) {
	dirs, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("open folder dataset: %w", err)
	}
	f := &Folder{Root: root}
	for _, d := range dirs {
		if d.IsDir() {
			f.Classes = append(f.Classes, d.Name())
		}
	}
	sort.Strings(f.Classes)

	for label, class := range f.Classes {
		var files []string
		err := filepath.WalkDir(filepath.Join(root, class), func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && imageExts[strings.ToLower(filepath.Ext(d.Name()))] {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan class %s: %w", class, err)
		}
		sort.Strings(files)
		for _, path := range files {
			rel, _ := filepath.Rel(root, path)
			f.Entries = append(f.Entries, Entry{Key: filepath.ToSlash(rel), Path: path, Label: label})
		}
	}
	if len(f.Entries) == 0 {
		return nil, fmt.Errorf("open folder dataset: no images found in %s", root)
	}
	return f, nil
}

// ClassIndex returns the label of a class name.
func (f *Folder) ClassIndex(name string) (int, bool) {
	i := sort.SearchStrings(f.Classes, name)
	if i < len(f.Classes) && f.Classes[i] == name {
		return i, true
	}
	return 0, false
}
