package gaspar

const (
	refuseTerminal = "Running under a controlling TTY. Refusing to start. Try starting from a daemonized process."
	refuseGuard    = "Start guard returned false. Refusing to start."
	refuseTestMode = "Running under go test. Refusing to start without WithPermitTestMode."
)

// refusal returns why this process must not start, or "" if it may.
// canRun is the guard installed with CanRunIf, if any.
func (g *Gaspar) refusal(canRun func() bool) string {
	if g.cfg.isTerminal != nil && g.cfg.isTerminal() {
		return refuseTerminal
	}

	if g.cfg.guard != nil && !g.cfg.guard() {
		return refuseGuard
	}

	if canRun != nil && !canRun() {
		return refuseGuard
	}

	if !g.cfg.permitTestMode && g.cfg.isTestMode != nil && g.cfg.isTestMode() {
		return refuseTestMode
	}

	return ""
}
