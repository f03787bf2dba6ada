package utils

import "unsafe"

// Str converts bytes to string without copying. The result must not outlive
// the buffer it was taken from.
func Str(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(unsafe.SliceData(b), len(b))
}
