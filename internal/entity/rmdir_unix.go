//go:build unix

package entity

import "golang.org/x/sys/unix"

// rmdir removes an empty directory and nothing else.
func rmdir(path string) error {
	return unix.Rmdir(path)
}
