package leak

import "regexp"

func mustPattern(name, expr string, severity Severity, action Action) Pattern {
	return Pattern{Name: name, Regex: regexp.MustCompile(expr), Severity: severity, Action: action}
}

// DefaultPatterns returns the built-in secret-detection catalogue: provider
// API keys, cloud credentials, code-host tokens, session tokens, private
// key headers, bearer/authorization headers, and a high-entropy-hex
// heuristic.
func DefaultPatterns() []Pattern {
	return []Pattern{
		mustPattern("openai_api_key", `sk-(?:proj-)?[a-zA-Z0-9]{20,}(?:T3BlbkFJ[a-zA-Z0-9_-]*)?`, SeverityCritical, ActionBlock),
		mustPattern("anthropic_api_key", `sk-ant-api[a-zA-Z0-9_-]{90,}`, SeverityCritical, ActionBlock),
		mustPattern("aws_access_key", `AKIA[0-9A-Z]{16}`, SeverityCritical, ActionBlock),
		mustPattern("github_token", `gh[pousr]_[A-Za-z0-9_]{36,}`, SeverityCritical, ActionBlock),
		mustPattern("github_fine_grained_pat", `github_pat_[a-zA-Z0-9]{22}_[a-zA-Z0-9]{59}`, SeverityCritical, ActionBlock),
		mustPattern("stripe_api_key", `sk_(?:live|test)_[a-zA-Z0-9]{24,}`, SeverityCritical, ActionBlock),
		mustPattern("nearai_session", `sess_[a-zA-Z0-9]{32,}`, SeverityCritical, ActionBlock),
		mustPattern("pem_private_key", `-----BEGIN\s+(?:RSA\s+)?PRIVATE\s+KEY-----`, SeverityCritical, ActionBlock),
		mustPattern("ssh_private_key", `-----BEGIN\s+(?:OPENSSH|EC|DSA)\s+PRIVATE\s+KEY-----`, SeverityCritical, ActionBlock),
		mustPattern("google_api_key", `AIza[0-9A-Za-z_-]{35}`, SeverityHigh, ActionBlock),
		mustPattern("slack_token", `xox[baprs]-[0-9a-zA-Z-]{10,}`, SeverityHigh, ActionBlock),
		mustPattern("twilio_api_key", `SK[a-fA-F0-9]{32}`, SeverityHigh, ActionBlock),
		mustPattern("sendgrid_api_key", `SG\.[a-zA-Z0-9_-]{22}\.[a-zA-Z0-9_-]{43}`, SeverityHigh, ActionBlock),
		mustPattern("bearer_token", `Bearer\s+[a-zA-Z0-9_-]{20,}`, SeverityHigh, ActionRedact),
		mustPattern("auth_header", `(?i)authorization:\s*[a-zA-Z]+\s+[a-zA-Z0-9_-]{20,}`, SeverityHigh, ActionRedact),
		mustPattern("high_entropy_hex", `\b[a-fA-F0-9]{64}\b`, SeverityMedium, ActionWarn),
	}
}
