package cmd

import (
	"errors"

	"cs2ctl/internal/cfgfile"
	"cs2ctl/internal/lock"
	"cs2ctl/internal/orchestrator"
	"cs2ctl/internal/plugin"
	"cs2ctl/internal/process"
	"cs2ctl/internal/registry"
	"cs2ctl/internal/statedb"
)

// Exit codes: 0 success, 2 user error (the command was wrong for the current
// state), 1 operation failure (the command was right but the work failed).
const (
	exitOK        = 0
	exitOpFailure = 1
	exitUserError = 2
)

// userErrors are rejections of the request itself rather than failures
// doing the work.
var userErrors = []error{
	registry.ErrUnknownInstance,
	registry.ErrNameTaken,
	registry.ErrRootTaken,
	lock.ErrBusy,
	orchestrator.ErrInstanceFailed,
	orchestrator.ErrNotInstalled,
	orchestrator.ErrAlreadyInstalled,
	orchestrator.ErrInstanceRunning,
	process.ErrAlreadyRunning,
	process.ErrNotRunning,
	statedb.ErrDuplicateLabel,
	statedb.ErrBackupNotFound,
	statedb.ErrAlreadyInstalled,
	statedb.ErrPluginNotInstalled,
	plugin.ErrUnknownPlugin,
	cfgfile.ErrInvalidValue,
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	for _, ue := range userErrors {
		if errors.Is(err, ue) {
			return exitUserError
		}
	}
	return exitOpFailure
}
