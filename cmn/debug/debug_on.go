//go:build debug
// +build debug

package debug

func init() { Enabled = true }
