//go:build !linux

package constraint

import "context"

func powerProbe(_ context.Context) bool {
	return true
}

func storageProbe(string, int64) func(ctx context.Context) bool {
	return func(_ context.Context) bool {
		return true
	}
}
