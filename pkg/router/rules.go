package router

import (
	"regexp"
	"slices"
	"strings"

	"github.com/igorsilveira/caremesh/pkg/a2a"
)

const (
	AgentData      = "data"
	AgentTriage    = "triage"
	AgentInsurance = "insurance"
)

// Target is one agent a rule routes to. A sequential target waits for the
// entry before it and receives that entry's result as context.
type Target struct {
	Agent      string `toml:"agent"`
	Sequential bool   `toml:"sequential"`
}

// Rule maps keywords to targets. Rules sharing a non-empty Group are
// mutually exclusive: the first declared match wins.
type Rule struct {
	Name     string   `toml:"name"`
	Keywords []string `toml:"keywords"`
	Targets  []Target `toml:"targets"`
	Group    string   `toml:"group"`

	pattern *regexp.Regexp
}

// compile builds the rule's matcher. Keywords match whole words, with an
// optional plural suffix, so "dob" does not match inside "adobe".
func (r Rule) compile() Rule {
	words := make([]string, 0, len(r.Keywords))
	for _, k := range r.Keywords {
		if k = strings.TrimSpace(k); k != "" {
			words = append(words, regexp.QuoteMeta(strings.ToLower(k)))
		}
	}
	if len(words) > 0 {
		r.pattern = regexp.MustCompile(`\b(?:` + strings.Join(words, "|") + `)(?:s|es)?\b`)
	}
	return r
}

func (r Rule) matches(lower string) bool {
	if r.pattern == nil {
		r = r.compile()
	}
	return r.pattern != nil && r.pattern.MatchString(lower)
}

// DefaultRules is the routing table used when none is configured.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "insurance",
			Keywords: []string{"insurance", "coverage", "billing", "copay", "benefit", "claim"},
			Targets:  []Target{{Agent: AgentInsurance}},
		},
		{
			Name:     "records",
			Keywords: []string{"patient", "history", "chart", "record", "dob", "update", "list", "case"},
			Targets:  []Target{{Agent: AgentData}, {Agent: AgentTriage, Sequential: true}},
		},
	}
}

// Entry is one agent call in a routing decision.
type Entry struct {
	Agent      string
	Message    a2a.Message
	Sequential bool
}

// Decision is the ordered set of calls that answer one request.
type Decision struct {
	Rules   []string
	Entries []Entry
}

func (d Decision) Agents() []string {
	out := make([]string, 0, len(d.Entries))
	for _, e := range d.Entries {
		out = append(out, e.Agent)
	}
	return out
}

// classify evaluates rules against the message text in table order.
// Each entry gets its own copy of the message.
func classify(rules []Rule, fallback string, msg a2a.Message) Decision {
	lower := strings.ToLower(msg.Text())

	var d Decision
	groups := map[string]bool{}
	for _, rule := range rules {
		if rule.Group != "" && groups[rule.Group] {
			continue
		}
		if !rule.matches(lower) {
			continue
		}
		if rule.Group != "" {
			groups[rule.Group] = true
		}
		d.Rules = append(d.Rules, rule.Name)
		for _, t := range rule.Targets {
			if slices.Contains(d.Agents(), t.Agent) {
				continue
			}
			d.Entries = append(d.Entries, Entry{
				Agent:      t.Agent,
				Message:    a2a.NewMessage(a2a.RoleUser, msg.Parts...),
				Sequential: t.Sequential && len(d.Entries) > 0,
			})
		}
	}

	if len(d.Entries) == 0 {
		d.Entries = []Entry{{Agent: fallback, Message: a2a.NewMessage(a2a.RoleUser, msg.Parts...)}}
	}
	return d
}
