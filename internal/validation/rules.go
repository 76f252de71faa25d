package validation

import (
	"fmt"
	"time"

	"github.com/dlclark/regexp2"
)

// Rule is a named pattern that rejects any content it matches.
type Rule struct {
	Name       string
	Pattern    string
	IgnoreCase bool
}

// DisallowedRules reject markup and URI schemes that could execute in a
// browser rendering the transcript.
var DisallowedRules = []Rule{
	{Name: "script_block", Pattern: `<script\b[^<]*(?:(?!</script>)<[^<]*)*</script>`, IgnoreCase: true},
	{Name: "javascript_uri", Pattern: `javascript:`, IgnoreCase: true},
	{Name: "event_handler", Pattern: `on\w+\s*=`, IgnoreCase: true},
	{Name: "html_data_uri", Pattern: `data:\s*text/html`, IgnoreCase: true},
	{Name: "vbscript_uri", Pattern: `vbscript:`, IgnoreCase: true},
	{Name: "iframe", Pattern: `<iframe\b[^>]*>`, IgnoreCase: true},
	{Name: "object", Pattern: `<object\b[^>]*>`, IgnoreCase: true},
	{Name: "embed", Pattern: `<embed\b[^>]*>`, IgnoreCase: true},
}

// SpamRules reject content that looks promotional or automated.
var SpamRules = []Rule{
	{Name: "repeated_char", Pattern: `(.)\1{10,}`},
	{Name: "low_trust_url", Pattern: `https?://[^\s]+\.(tk|ml|ga|cf|click|download|exe)`, IgnoreCase: true},
	{Name: "call_to_action", Pattern: `\b(CLIQUE|CLICK|BUY|COMPRE|GRATIS|FREE)\b.*\b(AGORA|NOW|AQUI|HERE)\b`, IgnoreCase: true},
}

// ValidTeams is the closed set of team identifiers a conversation may focus on.
var ValidTeams = []string{
	"corinthians", "flamengo", "sao-paulo", "santos", "palmeiras",
	"atletico-mg", "bragantino", "botafogo", "vitoria", "vasco",
	"sport", "fluminense", "gremio", "cruzeiro",
}

// matchTimeout bounds a single pattern evaluation. regexp2 backtracks, so a
// hostile input could otherwise pin a CPU.
const matchTimeout = 250 * time.Millisecond

var (
	tagPattern     = regexp2.MustCompile(`<[^>]*>`, regexp2.ECMAScript)
	bareAmpPattern = regexp2.MustCompile(`&(?!(amp|lt|gt|quot|#39);)`, regexp2.ECMAScript)
)

type compiledRule struct {
	name string
	re   *regexp2.Regexp
}

func compile(rules []Rule) ([]compiledRule, error) {
	out := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		opts := regexp2.RegexOptions(regexp2.ECMAScript)
		if r.IgnoreCase {
			opts |= regexp2.IgnoreCase
		}
		re, err := regexp2.Compile(r.Pattern, opts)
		if err != nil {
			return nil, fmt.Errorf("compile rule %q: %w", r.Name, err)
		}
		re.MatchTimeout = matchTimeout
		out = append(out, compiledRule{name: r.Name, re: re})
	}
	return out, nil
}

// firstMatch returns the name of the first rule matching s. A rule that
// times out counts as a match.
func firstMatch(rules []compiledRule, s string) (string, bool) {
	for _, r := range rules {
		ok, err := r.re.MatchString(s)
		if err != nil || ok {
			return r.name, true
		}
	}
	return "", false
}
