package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

const selfPackage = "fundingarb/logger."

// callerHook rewrites entry.Caller to the first frame outside logrus and this
// package, so wrapped calls report the real call site.
type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	pcs := make([]uintptr, 24)
	n := runtime.Callers(4, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		fn := frame.Function
		if !strings.Contains(fn, "sirupsen/logrus") && !strings.HasPrefix(fn, selfPackage) && fn != "" {
			entry.Caller = &frame
			return nil
		}
		if !more {
			return nil
		}
	}
}
