package util

import (
	"io/ioutil"
	"log"
	"os"
)

// IsFileExist check if a file exists
func IsFileExist(path string) bool {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false
	}
	return true
}

// IsDirExist checks if a directory exists.
func IsDirExist(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// FileSize calc file size
func FileSize(path string) (size int64) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	size = fi.Size()
	return
}

// Copy copy file from src to dst
func Copy(src, dst string) error {
	in, err := ioutil.ReadFile(src)
	if err != nil {
		return err
	}
	if IsFileExist(dst) {
		err = os.RemoveAll(dst)
		if err != nil {
			log.Printf("Copy: %s exists and cannot be removed", dst)
		}
	}

	return ioutil.WriteFile(dst, in, 0755)
}
