//go:build !amd64
// +build !amd64

package pdx

// scanWindow returns the window size for whole-file byte scans.
func scanWindow() int {
	return 256 << 10
}
