package service

import "log/slog"

type state string

const (
	stateIdle        state = "idle"
	stateDiscovering state = "discovering"
	statePerAccount  state = "per_account"
	stateLogging     state = "logging"
	stateDone        state = "done"
	stateFailed      state = "failed"
)

func transition(logger *slog.Logger, to state, args ...any) {
	args = append([]any{"state", to}, args...)
	if to == stateFailed {
		logger.Error("Sync run aborted", args...)
		return
	}
	logger.Info("Sync run state changed", args...)
}
