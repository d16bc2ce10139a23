//go:build amd64
// +build amd64

package pdx

import "golang.org/x/sys/cpu"

// scanWindow returns the window size for whole-file byte scans. Wider
// vector units make large windows cheaper for the substring searches the
// rebuild scanner leans on.
func scanWindow() int {
	if cpu.X86.HasAVX2 {
		return 1 << 20
	}
	return 256 << 10
}
