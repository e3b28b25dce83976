//go:build !unix

package config

// lockFile is a no-op where flock is unavailable; SwapSecret is then only
// serialized within the process.
func lockFile(_ string) (unlock func() error, err error) {
	return func() error { return nil }, nil
}
