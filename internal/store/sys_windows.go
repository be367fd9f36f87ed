//go:build windows

package store

import (
	"os"
)

// tryLock uses exclusive creation of a sibling marker file. There is no
// shared mode, and a marker left behind by a crashed process must be
// removed by hand.
func tryLock(path string, _ bool) (func(), bool, error) {
	marker := path + ".held"
	f, err := os.OpenFile(marker, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return func() {
		_ = f.Close()
		_ = os.Remove(marker)
	}, true, nil
}

// Directories cannot be opened for fsync on windows.
func syncDir(string) error {
	return nil
}
