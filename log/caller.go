package log

import (
	"runtime"
	"strconv"
	"strings"
)

var _unknownCallerInfo = &callerInfo{
	file:     "unknown",
	function: "unknown",
	info:     "unknown",
}

type callerInfo struct {
	file     string
	function string
	line     int
	info     string
}

func newCallerInfo(file string, function string, line int) *callerInfo {
	return &callerInfo{
		file:     file,
		function: function,
		line:     line,
		info:     file + ":" + strconv.Itoa(line) + " " + function,
	}
}

func (c *callerInfo) String() string {
	return c.info
}

// shortCaller keeps the last directory and the file name, and the bare
// function name.
func shortCaller(pc uintptr, file string, line int) *callerInfo {
	function := "unknown"
	if fn := runtime.FuncForPC(pc); fn != nil {
		function = fn.Name()
		if i := strings.LastIndexByte(function, '.'); i != -1 {
			function = function[i+1:]
		}
	}
	if i := strings.LastIndexByte(file, '/'); i > 0 {
		if j := strings.LastIndexByte(file[:i], '/'); j >= 0 {
			file = file[j+1:]
		}
	}
	return newCallerInfo(file, function, line)
}
