//go:build windows

package anticheat

import (
	"fmt"
	"strings"

	ole "github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"

	"github.com/go-kit/log/level"
)

// WatchWMI subscribes to __InstanceCreationEvent for Win32_Process,
// filtered by an escaped WHERE-clause built from the Guard's bundled
// names, and dispatches every matching process start. Runs until stop is
// closed: a NextEvent error, whether a timeout or a broken subscription,
// is skipped and the wait repeats, so a broken subscription does not end
// the call.
//
// Grounded on busclass/windows.go's go-ole SWbemLocator/ConnectServer
// dance; this uses ExecNotificationQuery instead of ExecQuery since it's
// subscribing to a live event stream rather than a point-in-time query.
func (g *Guard) WatchWMI(stop <-chan struct{}) error {
	if err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED); err == nil {
		defer ole.CoUninitialize()
	}

	unknown, err := oleutil.CreateObject("WbemScripting.SWbemLocator")
	if err != nil {
		return fmt.Errorf("anticheat: SWbemLocator: %w", err)
	}
	defer unknown.Release()

	locator, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return fmt.Errorf("anticheat: IDispatch: %w", err)
	}
	defer locator.Release()

	serviceRaw, err := oleutil.CallMethod(locator, "ConnectServer")
	if err != nil {
		return fmt.Errorf("anticheat: ConnectServer: %w", err)
	}
	service := serviceRaw.ToIDispatch()
	defer service.Release()

	query := buildNotificationQuery(g.Names())
	sinkRaw, err := oleutil.CallMethod(service, "ExecNotificationQuery", query)
	if err != nil {
		return fmt.Errorf("anticheat: ExecNotificationQuery: %w", err)
	}
	sink := sinkRaw.ToIDispatch()
	defer sink.Release()

	level.Info(g.logger).Log("msg", "anti-cheat WMI watcher armed", "query", query)

	for {
		select {
		case <-stop:
			return nil
		default:
		}

		eventRaw, err := oleutil.CallMethod(sink, "NextEvent", 1000)
		if err != nil {
			continue // timeout or transient WMI hiccup; keep polling
		}
		event := eventRaw.ToIDispatch()
		target, err := oleutil.GetProperty(event, "TargetInstance")
		if err != nil {
			event.Release()
			continue
		}
		targetInstance := target.ToIDispatch()
		nameRaw, err := oleutil.GetProperty(targetInstance, "Name")
		targetInstance.Release()
		event.Release()
		if err != nil || nameRaw.VT == ole.VT_NULL {
			continue
		}
		g.dispatch(nameRaw.ToString())
	}
}

// buildNotificationQuery builds the escaped WHERE-clause that narrows
// the subscription to only the bundled executable names, even though
// WMI itself would happily stream every process start.
func buildNotificationQuery(names []string) string {
	var clauses []string
	for _, n := range names {
		clauses = append(clauses, "TargetInstance.Name = '"+escapeWQLString(n)+"'")
	}
	where := "TargetInstance ISA 'Win32_Process'"
	if len(clauses) > 0 {
		where += " AND (" + strings.Join(clauses, " OR ") + ")"
	}
	return "SELECT * FROM __InstanceCreationEvent WITHIN 1 WHERE " + where
}

// escapeWQLString escapes single quotes in a WQL string literal. These
// are fixed basenames from the bundled list, not untrusted input, but a
// stray quote must not break the query.
func escapeWQLString(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '\'' {
			b.WriteString("''")
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
