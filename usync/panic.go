package usync

import (
	"strings"

	"github.com/tredeske/gosftp/ulog"
)

//
// Ignore any panics.  Prefer IgnorePanicIn instead.
//
// Use: defer usync.IgnorePanic()
//
func IgnorePanic() {
	recover()
}

//
// Ignore any panics in activity().
//
func IgnorePanicIn(activity func()) {
	defer func() { recover() }()
	activity()
}

//
// Capture any panics in activity().
//
func CapturePanicIn(activity func()) (captured interface{}) {
	defer func() { captured = recover() }()
	activity()
	return
}

//
// Given the value returned by recover(), report whether it was a panic
// caused by sending on (or closing) an already closed channel.  A nil
// value (no panic) also reports true.
//
// Use:
//
//	defer func() {
//	    if !usync.IgnoreClosedChanPanic(recover()) {
//	        panic("something else went wrong")
//	    }
//	}()
//
func IgnoreClosedChanPanic(it any) (wasClosedChan bool) {
	if nil == it {
		return true
	}
	if s, ok := it.(string); ok && strings.Contains(s, "closed channel") {
		return true
	}
	if err, ok := it.(error); ok &&
		strings.Contains(err.Error(), "closed channel") {
		return true
	}
	return false
}

//
// Ignore a panic caused by sending on (or closing) an already closed
// channel.  Any other panic is re-raised.
//
// Use: defer usync.BareIgnoreClosedChanPanic()
//
func BareIgnoreClosedChanPanic() {
	if it := recover(); it != nil && !IgnoreClosedChanPanic(it) {
		panic(it)
	}
}

//
// Log any panics.
//
// Use: defer usync.LogPanic(msg)
//
func LogPanic(msg string) {
	if it := recover(); it != nil {
		if 0 != len(msg) {
			ulog.Printf("PANIC: %s: %s", msg, it)
		} else {
			ulog.Printf("PANIC: %s", it)
		}
	}
}

//
// Log any panics in activity().
//
func LogPanicIn(msg string, activity func()) {
	defer func() {
		if it := recover(); it != nil {
			if 0 != len(msg) {
				ulog.Printf("PANIC: %s: %s", msg, it)
			} else {
				ulog.Printf("PANIC: %s", it)
			}
		}
	}()
	activity()
}

//
// Log any panics and exit the program.
//
// Use: defer usync.FatalPanic(msg)
//
func FatalPanic(msg string) {
	if it := recover(); it != nil {
		if 0 != len(msg) {
			ulog.Fatalf("PANIC: %s: %s", msg, it)
		} else {
			ulog.Fatalf("PANIC: %s", it)
		}
	}
}
