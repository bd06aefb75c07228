// Package inputfilter implements the input filter adapter: a
// per-device block list and per-process allow list backed by the signed
// kernel filter driver, with a null adapter for when it's absent.
//
// Grounded on main.go's evdev EVIOCGRAB dance (grab the original node so
// other readers can't see it) — the same "hide a device from everyone
// else, but keep our own handle" idea, generalized from one grabbed fd
// to a driver-wide block list plus a process allow-list.
package inputfilter

import "errors"

// Adapter is the interface both the real driver binding and the null
// adapter implement.
type Adapter interface {
	IsAvailable() bool
	AddAppRule(path string) error
	Hide(instanceID string) error
	Unhide(instanceID string) error
	// ClearAll deactivates globally, clears the blocked list, and
	// clears the app allow-list. Each sub-step is attempted even if an
	// earlier one fails.
	ClearAll() error
	SetActive(active bool) error
}

// driverHandle is the OS-specific surface a real filter binding
// implements; kept separate from Adapter so FilterAdapter can wrap it
// with the ClearAll fan-out logic once, regardless of OS.
type driverHandle interface {
	Available() bool
	AddAppRule(path string) error
	Hide(instanceID string) error
	Unhide(instanceID string) error
	Deactivate() error
	ClearBlockedList() error
	ClearAppAllowList() error
	SetActive(active bool) error
}

// FilterAdapter wraps a driverHandle with the required ClearAll
// fan-out.
type FilterAdapter struct {
	driver driverHandle
}

// New wraps a driver binding. If the driver reports unavailable, callers
// should use Null() instead — New does not degrade automatically so the
// caller's probe decision stays explicit and observable.
func New(driver driverHandle) *FilterAdapter {
	return &FilterAdapter{driver: driver}
}

func (f *FilterAdapter) IsAvailable() bool { return f.driver.Available() }

func (f *FilterAdapter) AddAppRule(path string) error { return f.driver.AddAppRule(path) }
func (f *FilterAdapter) Hide(instanceID string) error { return f.driver.Hide(instanceID) }
func (f *FilterAdapter) Unhide(instanceID string) error { return f.driver.Unhide(instanceID) }
func (f *FilterAdapter) SetActive(active bool) error  { return f.driver.SetActive(active) }

// ClearAll deactivates globally, clears the blocked list, and clears the
// app allow-list. Each sub-step runs even if an earlier one failed; all
// failures are joined into one error.
func (f *FilterAdapter) ClearAll() error {
	var errs []error
	if err := f.driver.Deactivate(); err != nil {
		errs = append(errs, err)
	}
	if err := f.driver.ClearBlockedList(); err != nil {
		errs = append(errs, err)
	}
	if err := f.driver.ClearAppAllowList(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// nullAdapter is used when the filter driver isn't present: every call
// succeeds as a no-op, and IsAvailable reports false.
type nullAdapter struct{}

// Null returns the no-op Adapter used when the driver is absent.
func Null() Adapter { return nullAdapter{} }

func (nullAdapter) IsAvailable() bool                  { return false }
func (nullAdapter) AddAppRule(string) error             { return nil }
func (nullAdapter) Hide(string) error                   { return nil }
func (nullAdapter) Unhide(string) error                 { return nil }
func (nullAdapter) ClearAll() error                     { return nil }
func (nullAdapter) SetActive(bool) error                { return nil }
