//go:build !unix

package entity

import "os"

func rmdir(path string) error {
	return os.Remove(path)
}
