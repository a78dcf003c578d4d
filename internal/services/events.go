package services

// EventsEmitter is implemented by the host application's event hub. The
// orchestrator reports lifecycle and output through it and never blocks on
// delivery; implementations must drop or buffer as they see fit.
type EventsEmitter interface {
	EmitDevServerStarted(worktreePath string, port int, url string)
	EmitDevServerOutput(worktreePath string, content string)
	EmitDevServerStopped(worktreePath string, port int, exitCode int, errMsg string)
}

// noopEmitter is used when no event hub has been attached yet.
type noopEmitter struct{}

func (noopEmitter) EmitDevServerStarted(string, int, string)      {}
func (noopEmitter) EmitDevServerOutput(string, string)            {}
func (noopEmitter) EmitDevServerStopped(string, int, int, string) {}
