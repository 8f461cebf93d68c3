package llmprovider

import "testing"

func TestNormalizeBaseURLAddsV1Suffix(t *testing.T) {
	if got := normalizeBaseURL("https://api.example.com"); got != "https://api.example.com/v1" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeBaseURLPreservesExistingV1Suffix(t *testing.T) {
	if got := normalizeBaseURL("https://api.example.com/v1/"); got != "https://api.example.com/v1" {
		t.Fatalf("got %q", got)
	}
}

func TestDeriveOutputTokensPrefersCompletionTokens(t *testing.T) {
	completion := 42
	if got := deriveOutputTokens(100, &completion, 999); got != 42 {
		t.Fatalf("got %d", got)
	}
}

func TestDeriveOutputTokensDerivesFromTotalMinusPrompt(t *testing.T) {
	if got := deriveOutputTokens(100, nil, 150); got != 50 {
		t.Fatalf("got %d", got)
	}
}

func TestDeriveOutputTokensSaturatesWhenTotalLessThanPrompt(t *testing.T) {
	// Malformed upstream usage block: total < prompt. Must not go negative.
	if got := deriveOutputTokens(100, nil, 40); got != 40 {
		t.Fatalf("got %d", got)
	}
}

func TestDeriveOutputTokensZeroWhenNoUsageAtAll(t *testing.T) {
	if got := deriveOutputTokens(100, nil, 0); got != 0 {
		t.Fatalf("got %d", got)
	}
}

func TestNormalizeProxyToolNameStripsPrefix(t *testing.T) {
	if got := normalizeProxyToolName("proxy_web_search"); got != "web_search" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeProxyToolNameLeavesUnprefixedNamesAlone(t *testing.T) {
	if got := normalizeProxyToolName("web_search"); got != "web_search" {
		t.Fatalf("got %q", got)
	}
}

func TestMapFinishReasonKnownValues(t *testing.T) {
	cases := map[string]FinishReason{
		"stop":          FinishStop,
		"length":        FinishLength,
		"tool_calls":    FinishToolCalls,
		"function_call": FinishToolCalls,
		"weird":         FinishStop,
	}
	for raw, want := range cases {
		if got := mapFinishReason(raw); got != want {
			t.Fatalf("mapFinishReason(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestParseRetryAfterValidAndInvalid(t *testing.T) {
	if got := parseRetryAfter("30"); got != 30 {
		t.Fatalf("got %d", got)
	}
	if got := parseRetryAfter(""); got != 0 {
		t.Fatalf("got %d", got)
	}
	if got := parseRetryAfter("not-a-number"); got != 0 {
		t.Fatalf("got %d", got)
	}
}
