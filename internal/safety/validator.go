package safety

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Action is the tool+parameters pair SafetyValidator checks before
// dispatch.
type Action struct {
	Tool       string
	Parameters map[string]any
}

// secretLeakTokens are substrings whose presence in code_exec source
// suggests an attempt to read or print a credential.
var secretLeakTokens = []string{
	"os.environ", "os.getenv",
	"anthropic_api_key", "openai_api_key",
	"mistral_api_key", "tavily_api_key",
	"database_url", "postgres_password",
}

// secretEnvVars are the environment variables sanitize_output redacts
// verbatim occurrences of.
var secretEnvVars = []string{
	"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "MISTRAL_API_KEY", "TAVILY_API_KEY",
}

// pathOpsTools are the tool names whose "path" parameter must resolve
// under an allowed root. Must track internal/tools' registered Name()
// strings exactly.
var pathOpsTools = map[string]bool{
	"write_file": true, "read_file": true, "list_dir": true,
}

// Validator is the pure, stateless safety gate consulted by the
// ToolDispatcher before every tool invocation.
type Validator struct {
	// AllowedRoots is the set of resolved-path prefixes file operations
	// must fall under (e.g. the agent's workspace directory).
	AllowedRoots []string
}

// NewValidator builds a Validator restricted to the given allowed roots.
func NewValidator(allowedRoots ...string) *Validator {
	return &Validator{AllowedRoots: allowedRoots}
}

// ValidateAction checks action against the immutable rules, the path
// allowlist, and the code-exec secret-leak heuristic. Returns ok=false
// with a human-readable reason on the first violation found.
func (v *Validator) ValidateAction(action Action) (ok bool, reason string) {
	for _, value := range action.Parameters {
		s, isString := value.(string)
		if !isString {
			continue
		}
		if violations := Rules.ContainsViolation(s); len(violations) > 0 {
			return false, fmt.Sprintf("Safety violation detected: %s", strings.Join(violations, ", "))
		}
	}

	if pathOpsTools[action.Tool] {
		path, _ := action.Parameters["path"].(string)
		if !v.isSafePath(path) {
			return false, fmt.Sprintf("Path not allowed: %s", path)
		}
	}

	if param, ok := codeExecTools[action.Tool]; ok {
		code, _ := action.Parameters[param].(string)
		if leaksSecrets(code) {
			return false, "Code may leak secrets"
		}
	}

	return true, "OK"
}

// codeExecTools maps each code-execution tool name to the parameter
// holding the code to scan for secret references.
var codeExecTools = map[string]string{
	"run_command": "command",
	"code_exec":   "code",
}

func (v *Validator) isSafePath(path string) bool {
	if path == "" {
		return false
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		// The path may not exist yet (e.g. a file about to be created);
		// fall back to the cleaned absolute form for the prefix check.
		abs, absErr := filepath.Abs(path)
		if absErr != nil {
			return false
		}
		resolved = filepath.Clean(abs)
	}
	for _, root := range v.AllowedRoots {
		if strings.HasPrefix(resolved, root) {
			return true
		}
	}
	return false
}

func leaksSecrets(code string) bool {
	lower := strings.ToLower(code)
	for _, token := range secretLeakTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

// SanitizeOutput redacts verbatim occurrences of known secret
// environment-variable values from text, always applied to tool output
// before journaling or broadcast.
func SanitizeOutput(text string) string {
	sanitized := text
	for _, key := range secretEnvVars {
		val := os.Getenv(key)
		if val == "" {
			continue
		}
		sanitized = strings.ReplaceAll(sanitized, val, fmt.Sprintf("[REDACTED:%s]", key))
	}
	return sanitized
}
