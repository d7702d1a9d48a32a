package uio

import (
	"os"
	"sort"
)

//
// can we stat the file?
//
func FileExists(file string) bool {
	_, err := os.Stat(file)
	return err == nil
}

//
// is it a directory?
//
func FileIsDir(file string) bool {
	fi, err := os.Stat(file)
	return nil == err && fi.IsDir()
}

type file_by_mtime []os.FileInfo

func (f file_by_mtime) Len() int      { return len(f) }
func (f file_by_mtime) Swap(i, j int) { f[i], f[j] = f[j], f[i] }
func (f file_by_mtime) Less(i, j int) bool {
	return f[i].ModTime().Before(f[j].ModTime())
}

// Sorted by mtime (oldest to youngest)
func SortByModTime(files []os.FileInfo) {
	if 1 < len(files) {
		sort.Sort(file_by_mtime(files))
	}
}

//
// Get listing of dir, sorted by mtime (oldest to youngest)
//
func FilesByModTime(dir string) (files []os.FileInfo, err error) {
	dirF, err := os.Open(dir)
	if err != nil {
		return
	}
	defer dirF.Close()
	files, err = dirF.Readdir(0)
	if err != nil {
		return nil, err
	}
	SortByModTime(files)
	return
}
