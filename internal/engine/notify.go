package engine

import (
	"context"
	"log/slog"
)

// NoticeKind classifies user-visible notifications.
type NoticeKind string

const (
	NoticeOnline      NoticeKind = "online"
	NoticeOffline     NoticeKind = "offline"
	NoticeSavedLocal  NoticeKind = "saved_locally"
	NoticeSyncFailed  NoticeKind = "sync_failed"
	NoticeSaveFailed  NoticeKind = "save_failed"
	NoticeSyncSettled NoticeKind = "sync_complete"
)

// Notice is a message for the user.
type Notice struct {
	Kind    NoticeKind
	Message string
}

// Notifier shows notices to the user.
type Notifier interface {
	Notify(n Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

// LogNotifier writes notices to a slog.Logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(n Notice) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	if n.Kind == NoticeSyncFailed || n.Kind == NoticeSaveFailed {
		level = slog.LevelWarn
	}
	logger.Log(context.Background(), level, n.Message, "notice", string(n.Kind))
}
