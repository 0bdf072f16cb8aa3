package skinroutine

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/davecgh/go-spew/spew"
)

var dumpConfig = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
}

// Dump deep-prints v to stderr, prefixed with the caller's location.
func Dump(v ...any) {
	_, file, line, _ := runtime.Caller(1)
	fdump(os.Stderr, fmt.Sprintf("%s:%d:", file, line), v...)
}

func fdump(w io.Writer, location string, v ...any) {
	fmt.Fprintln(w, location)
	dumpConfig.Fdump(w, v...)
}
