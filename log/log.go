package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/toon-format/toon-go"

	"github.com/kjk/kvfile/siser"
	"github.com/kjk/kvfile/u"
)

var (
	log       *WriteDaily
	errorsLog *WriteDaily
	eventsLog *WriteDaily

	// where Logf() prints, os.Stdout unless changed by Init()
	out io.Writer = os.Stdout
	mu  sync.Mutex

	onLog func(s string)

	// if true, Verbosef() will log messages
	Verbose bool
)

type Config struct {
	// if set, logs are also written to daily files in
	// Dir/log, Dir/errors and Dir/events
	Dir string
	// where Logf() prints, os.Stdout if nil
	Output io.Writer
	// called for every Logf() call
	OnLog func(s string)
}

// Init configures logging. Without Init logs only go to stdout.
func Init(config *Config) {
	mu.Lock()
	defer mu.Unlock()
	out = os.Stdout
	if config.Output != nil {
		out = config.Output
	}
	onLog = config.OnLog
	if dir := config.Dir; dir != "" {
		log = NewWriteDaily(filepath.Join(dir, "log"))
		errorsLog = NewWriteDaily(filepath.Join(dir, "errors"))
		// files are only created on first write so an
		// app that doesn't log events doesn't get an empty dir
		eventsLog = NewWriteDaily(filepath.Join(dir, "events"))
	}
}

// CloseWriteDaily closes the WriteDaily and sets its pointer to nil
// it's safe to call with nil pointer
func CloseWriteDaily(wd **WriteDaily) {
	if *wd == nil {
		return
	}
	(*wd).Close()
	*wd = nil
}

// Close closes log files and resets output to os.Stdout
func Close() {
	mu.Lock()
	defer mu.Unlock()
	CloseWriteDaily(&log)
	CloseWriteDaily(&errorsLog)
	CloseWriteDaily(&eventsLog)
	out = os.Stdout
	onLog = nil
}

func Logf(s string, args ...any) {
	if len(args) > 0 {
		s = fmt.Sprintf(s, args...)
	}
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprint(out, s)
	log.WriteString(s)
	if onLog != nil {
		onLog(s)
	}
}

func Verbosef(format string, args ...any) {
	if !Verbose {
		return
	}
	Logf(format, args...)
}

func GetCallstackFrames(skip int) []string {
	var callers [32]uintptr
	n := runtime.Callers(skip+1, callers[:])
	if n == 0 {
		return nil
	}
	frames := runtime.CallersFrames(callers[:n])
	var cs []string
	for {
		frame, more := frames.Next()
		cs = append(cs, frame.File+":"+strconv.Itoa(frame.Line))
		if !more {
			break
		}
	}
	return cs
}

func GetCallstack(skip int) string {
	frames := GetCallstackFrames(skip + 1)
	return strings.Join(frames, "\n")
}

// Errorf logs an error message. The errors log file also gets the callstack.
func Errorf(s string, args ...any) {
	if len(args) > 0 {
		s = fmt.Sprintf(s, args...)
	}
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	Logf("%s", s)
	cs := GetCallstack(2)
	mu.Lock()
	errorsLog.WriteString(s + cs + "\n")
	mu.Unlock()
}

// if err != nil, log and return true
// IfErrf(err) => logs err.Error()
// IfErrf(err, "error is: %v", err) => logs message formatted
func IfErrf(err error, a ...any) bool {
	if err == nil {
		return false
	}
	if len(a) == 0 {
		Errorf("%s", err.Error())
		return true
	}
	s, ok := a[0].(string)
	if !ok {
		s = fmt.Sprintf("%s", a[0])
	}
	if len(a) > 1 {
		s = fmt.Sprintf(s, a[1:]...)
	}
	Errorf("%s", s)
	return true
}

// simpleTypeToStr converts simple types to string
// panics if v is of complex type
func simpleTypeToStr(v any) string {
	kind := reflect.TypeOf(v).Kind()
	switch kind {
	case reflect.Array, reflect.Slice, reflect.Struct, reflect.Map, reflect.Chan, reflect.Interface, reflect.Pointer:
		panic(fmt.Sprintf("simpleTypeToStr: value is of kind %v", kind))
	case reflect.String:
		return v.(string)
	}
	return fmt.Sprintf("%v", v)
}

// Event logs key/value pairs encoded in toon format to the events log
func Event(name string, vals ...any) {
	n := len(vals)
	u.PanicIf(n%2 != 0, "Event: odd number of vals (%d)", n)
	var d []byte
	if n > 0 {
		m := map[string]any{}
		for i := 0; i < n; i += 2 {
			k := simpleTypeToStr(vals[i])
			m[k] = vals[i+1]
		}
		var err error
		if d, err = toon.Marshal(m); err != nil {
			Errorf("Event: toon.Marshal() of '%s' failed with '%s'", name, err)
			return
		}
	}
	line := siser.MarshalLine(name, time.Now(), d, nil)
	mu.Lock()
	eventsLog.Write(line)
	mu.Unlock()
	Verbosef("event: %s %s\n", name, strings.ReplaceAll(strings.TrimSpace(string(d)), "\n", ", "))
}

func EventWithDuration(name string, dur time.Duration, vals ...any) {
	vals = append(vals, "durmicro", dur.Microseconds())
	Event(name, vals...)
}
