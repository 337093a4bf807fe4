package u

import (
	"fmt"
	"runtime"
)

func PanicIf(cond bool, args ...interface{}) {
	if !cond {
		return
	}
	s := "condition failed"
	if len(args) > 0 {
		s = fmt.Sprintf("%s", args[0])
		if len(args) > 1 {
			s = fmt.Sprintf(s, args[1:]...)
		}
	}
	panic(s)
}

func IsWindows() bool {
	return runtime.GOOS == "windows"
}
