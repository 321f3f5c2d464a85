package xbproto

// Message is the union of events broadcast from a project Runtime to its
// connected editor clients. At most one payload field is populated (kinds
// such as OpenLogger, ReloadLspServer and Disconnect carry none); Kind
// names which one so that decoders don't need to probe every field.
type Message struct {
	Kind MessageKind `json:"kind"`

	Notify              *NotifyPayload    `json:"notify,omitempty"`
	Log                 *LogPayload       `json:"log,omitempty"`
	SetCurrentTask      *SetCurrentTask   `json:"setCurrentTask,omitempty"`
	UpdateCurrentTask   *UpdateCurrentTask `json:"updateCurrentTask,omitempty"`
	FinishCurrentTask   *FinishCurrentTask `json:"finishCurrentTask,omitempty"`
	SetWatching         *SetWatching      `json:"setWatching,omitempty"`
	SetState            *State            `json:"setState,omitempty"`
}

// MessageKind discriminates the Message union.
type MessageKind string

const (
	KindNotify            MessageKind = "Notify"
	KindLog               MessageKind = "Log"
	KindOpenLogger        MessageKind = "OpenLogger"
	KindReloadLspServer   MessageKind = "ReloadLspServer"
	KindSetCurrentTask    MessageKind = "SetCurrentTask"
	KindUpdateCurrentTask MessageKind = "UpdateCurrentTask"
	KindFinishCurrentTask MessageKind = "FinishCurrentTask"
	KindSetWatching       MessageKind = "SetWatching"
	KindSetState          MessageKind = "SetState"
	KindDisconnect        MessageKind = "Disconnect"
)

type NotifyPayload struct {
	Content string `json:"content"`
	Level   Level  `json:"level"`
}

type LogPayload struct {
	Content string `json:"content"`
	Level   Level  `json:"level"`
}

type SetCurrentTask struct {
	Kind   TaskKind   `json:"kind"`
	Target string     `json:"target"`
	Status TaskStatus `json:"status"`
}

type UpdateCurrentTask struct {
	Content string `json:"content"`
	Level   Level  `json:"level"`
}

type FinishCurrentTask struct {
	Status TaskStatus `json:"status"`
}

type SetWatching struct {
	Watching bool          `json:"watching"`
	Settings BuildSettings `json:"settings"`
}

func notify(content string, level Level) Message {
	return Message{Kind: KindNotify, Notify: &NotifyPayload{Content: content, Level: level}}
}

func logMsg(content string, level Level) Message {
	return Message{Kind: KindLog, Log: &LogPayload{Content: content, Level: level}}
}

// NotifyInfo builds a toast-style info Notify message.
func NotifyInfo(content string) Message { return notify(content, LevelInfo) }

// NotifyError builds a toast-style error Notify message.
func NotifyError(content string) Message { return notify(content, LevelError) }

// NotifyWarn builds a toast-style warn Notify message.
func NotifyWarn(content string) Message { return notify(content, LevelWarn) }

// LogInfo builds a persistent info Log message.
func LogInfo(content string) Message { return logMsg(content, LevelInfo) }

// LogError builds a persistent error Log message.
func LogError(content string) Message { return logMsg(content, LevelError) }

// LogWarn builds a persistent warn Log message.
func LogWarn(content string) Message { return logMsg(content, LevelWarn) }

// OpenLogger builds the cue clients use to surface their persistent log view.
func OpenLogger() Message { return Message{Kind: KindOpenLogger} }

// ReloadLspServer builds the cue telling sourcekit-lsp to reload .compile.
func ReloadLspServer() Message { return Message{Kind: KindReloadLspServer} }

// NewSetCurrentTask builds a SetCurrentTask message.
func NewSetCurrentTask(kind TaskKind, target string, status TaskStatus) Message {
	return Message{Kind: KindSetCurrentTask, SetCurrentTask: &SetCurrentTask{Kind: kind, Target: target, Status: status}}
}

// NewUpdateCurrentTask builds an UpdateCurrentTask message.
func NewUpdateCurrentTask(content string, level Level) Message {
	return Message{Kind: KindUpdateCurrentTask, UpdateCurrentTask: &UpdateCurrentTask{Content: content, Level: level}}
}

// NewFinishCurrentTask builds a FinishCurrentTask message.
func NewFinishCurrentTask(status TaskStatus) Message {
	return Message{Kind: KindFinishCurrentTask, FinishCurrentTask: &FinishCurrentTask{Status: status}}
}

// NewSetWatching builds a SetWatching message.
func NewSetWatching(watching bool, settings BuildSettings) Message {
	return Message{Kind: KindSetWatching, SetWatching: &SetWatching{Watching: watching, Settings: settings}}
}

// NewSetStateRunners builds a SetState message carrying the simulator inventory.
func NewSetStateRunners(runners []Runner) Message {
	return Message{Kind: KindSetState, SetState: &State{Runners: runners}}
}

// NewSetStateProjectInfo builds a SetState message carrying the project's
// current watchlist and targets.
func NewSetStateProjectInfo(info ProjectInfo) Message {
	return Message{Kind: KindSetState, SetState: &State{ProjectInfo: &info}}
}

// Disconnect builds the message the Broadcaster uses internally to signal a
// subscriber removal; it is never written to a socket (send intercepts it).
func Disconnect() Message { return Message{Kind: KindDisconnect} }
