package infra

import (
	"fmt"
	"runtime"
	"strings"

	log "github.com/sirupsen/logrus"
)

// GoRecoverable runs f in a new goroutine and restarts it after a panic.
// A negative maxPanics restarts forever; reaching zero stops the job.
func GoRecoverable(maxPanics int, id string, f func()) {
	go runRecoverable(maxPanics, id, f)
}

func runRecoverable(maxPanics int, id string, f func()) {
	defer func() {
		err := recover()
		if err == nil {
			return
		}
		entry := log.WithFields(log.Fields{"job": id, "origin": identifyPanic()})
		entry.Errorf("job panics with message: %v", err)
		if maxPanics == 0 {
			entry.Error("panics limit exceeded, job stopped")
			return
		}
		if maxPanics > 0 {
			maxPanics--
		}
		entry.WithField("panics_left", maxPanics).Debug("recovering job")
		go runRecoverable(maxPanics, id, f)
	}()
	f()
}

// SafeCall runs f and turns a panic into an error.
func SafeCall(id string, f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panics: %v at %s", id, r, identifyPanic())
		}
	}()
	return f()
}

func identifyPanic() string {
	var name, file string
	var line int
	var pc [16]uintptr

	n := runtime.Callers(3, pc[:])
	for _, pc := range pc[:n] {
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}
		file, line = fn.FileLine(pc)
		name = fn.Name()
		if !strings.HasPrefix(name, "runtime.") {
			break
		}
	}

	switch {
	case name != "":
		return fmt.Sprintf("%v:%v", name, line)
	case file != "":
		return fmt.Sprintf("%v:%v", file, line)
	}

	return fmt.Sprintf("pc:%x", pc)
}
