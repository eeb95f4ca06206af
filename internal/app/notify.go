package app

import (
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "rtcore/pkg/logx"
)

// sdNotifier reports lifecycle state to systemd. Outside a notify-type unit
// every call is a no-op.
type sdNotifier struct {
	log      logx.Logger
	watchdog time.Duration
	last     time.Time
}

func newSDNotifier(log logx.Logger) *sdNotifier {
	n := &sdNotifier{log: log}
	if d, err := daemon.SdWatchdogEnabled(false); err == nil && d > 0 {
		n.watchdog = d / 2
		log.Debug("systemd watchdog enabled", logx.Duration("interval", n.watchdog))
	}
	return n
}

func (n *sdNotifier) send(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Trace("sd_notify", logx.String("state", state))
	}
}

func (n *sdNotifier) Ready() { n.send(daemon.SdNotifyReady) }

func (n *sdNotifier) Stopping() { n.send(daemon.SdNotifyStopping) }

// Ping sends WATCHDOG=1 at most once per half watchdog period.
func (n *sdNotifier) Ping(now time.Time) {
	if n.watchdog <= 0 || now.Sub(n.last) < n.watchdog {
		return
	}
	n.last = now
	n.send(daemon.SdNotifyWatchdog)
}
