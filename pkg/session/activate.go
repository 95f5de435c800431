// Package session listens for the one logind signal this project's scope
// includes: device pause/resume. It never performs VT switching, device
// revocation, or seat management -- those stay the session manager's job.
package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
)

const (
	loginSessionInterface = "org.freedesktop.login1.Session"
	pauseDeviceSignal     = loginSessionInterface + ".PauseDevice"
	resumeDeviceSignal    = loginSessionInterface + ".ResumeDevice"
)

// Activator is the subset of kms.Device this package drives: it only ever
// calls Activate, never opens or closes the device itself.
type Activator interface {
	Activate(active bool)
}

// Listener watches one logind session object for PauseDevice/ResumeDevice
// signals matching a given device's (major, minor) and forwards them as
// Activate(false)/Activate(true) calls.
type Listener struct {
	conn       *dbus.Conn
	sessionObj dbus.ObjectPath
	major      uint32
	minor      uint32
	target     Activator
	log        *slog.Logger
}

// NewListener connects to the system bus and prepares to watch sessionObj
// (typically obtained from logind's Manager.GetSessionByPID) for signals
// about the device at major:minor.
func NewListener(sessionObj dbus.ObjectPath, major, minor uint32, target Activator, log *slog.Logger) (*Listener, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("session: connect system bus: %w", err)
	}
	return &Listener{
		conn:       conn,
		sessionObj: sessionObj,
		major:      major,
		minor:      minor,
		target:     target,
		log:        log,
	}, nil
}

// Run subscribes to the session's signals and forwards matching
// PauseDevice/ResumeDevice events until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	defer l.conn.Close()

	if err := l.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(l.sessionObj),
		dbus.WithMatchInterface(loginSessionInterface),
	); err != nil {
		return fmt.Errorf("session: subscribe to signals: %w", err)
	}

	signals := make(chan *dbus.Signal, 16)
	l.conn.Signal(signals)
	defer l.conn.RemoveSignal(signals)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			l.handle(sig)
		}
	}
}

func (l *Listener) handle(sig *dbus.Signal) {
	switch sig.Name {
	case pauseDeviceSignal:
		major, minor, ok := majorMinor(sig.Body)
		if !ok || major != l.major || minor != l.minor {
			return
		}
		l.log.Info("session paused device", "major", major, "minor", minor)
		l.target.Activate(false)

		// logind expects PauseDeviceComplete once we've released the
		// device; this module has nothing further to release (it never
		// closes the fd on pause, only stops committing), so acknowledge
		// immediately.
		call := l.conn.Object("org.freedesktop.login1", l.sessionObj).Call(
			loginSessionInterface+".PauseDeviceComplete", 0, major, minor)
		if call.Err != nil {
			l.log.Warn("pause device complete failed", "err", call.Err)
		}

	case resumeDeviceSignal:
		if len(sig.Body) < 2 {
			return
		}
		major, ok1 := sig.Body[0].(uint32)
		minor, ok2 := sig.Body[1].(uint32)
		if !ok1 || !ok2 || major != l.major || minor != l.minor {
			return
		}
		l.log.Info("session resumed device", "major", major, "minor", minor)
		l.target.Activate(true)
	}
}

func majorMinor(body []interface{}) (major, minor uint32, ok bool) {
	if len(body) < 2 {
		return 0, 0, false
	}
	major, ok1 := body[0].(uint32)
	minor, ok2 := body[1].(uint32)
	return major, minor, ok1 && ok2
}
