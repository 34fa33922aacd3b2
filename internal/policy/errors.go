package policy

// ConfigInvalidError is raised when a PolicyConfig fails validation at
// load time — an unknown preset, a bad regex, or a malformed rule. It is
// always fatal to the caller: Engine construction fails and there is no
// partial/degraded PolicyEngine.
type ConfigInvalidError struct {
	Reason string
}

func (e *ConfigInvalidError) Error() string {
	return "policy config invalid: " + e.Reason
}
