//go:build windows

package main

import "context"

// watchResize is a no-op: Windows consoles do not signal size changes.
func watchResize(context.Context, func()) (stop func()) {
	return func() {}
}
