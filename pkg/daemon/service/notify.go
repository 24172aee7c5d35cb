package service

import (
	sddaemon "github.com/coreos/go-systemd/v22/daemon"
)

// NotifyReady tells systemd the daemon is serving. It reports false when
// not running under a Type=notify unit.
func NotifyReady() (bool, error) {
	return sddaemon.SdNotify(false, sddaemon.SdNotifyReady)
}

// NotifyStopping tells systemd teardown has begun.
func NotifyStopping() (bool, error) {
	return sddaemon.SdNotify(false, sddaemon.SdNotifyStopping)
}

// NotifyStatus sets the free-form status line shown by systemctl status.
func NotifyStatus(status string) (bool, error) {
	return sddaemon.SdNotify(false, "STATUS="+status)
}
