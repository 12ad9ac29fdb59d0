// Package rules evaluates opencode permission rules the way the server
// itself does: the config's permission section flattens into an ordered rule
// list, agent-specific overrides append to it, and the last matching rule
// wins. occtl uses it for `occtl test-permission` and for the typed view in
// `occtl config`.
package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/mitchellh/mapstructure"

	occerrors "github.com/occtl/occtl/errors"
)

// Action is the outcome a rule prescribes.
type Action string

const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
	ActionAsk   Action = "ask"
)

// Rule is one flattened permission rule. A bare action in the config becomes
// a catch-all rule with pattern "*"; a pattern-keyed rule set becomes one
// Rule per pattern, in config document order.
type Rule struct {
	Permission string
	Pattern    string
	Action     Action
}

// Decision is the evaluation outcome. Rule is nil when nothing matched and
// the default applied.
type Decision struct {
	Action Action
	Rule   *Rule
}

// AgentConfig is the per-agent section of an opencode config.
type AgentConfig struct {
	Model      string
	Permission []Rule
}

// Config is the typed view over the server's resolved configuration.
// Permission lists are ordered as they appear in the document: under
// last-match-wins the position of a rule decides the outcome.
type Config struct {
	Permission []Rule
	Agent      map[string]AgentConfig
	Tools      map[string]bool
}

// configDoc is the structural view of the parts where order is irrelevant.
type configDoc struct {
	Agent map[string]struct {
		Model string `mapstructure:"model"`
	} `mapstructure:"agent"`
	Tools map[string]bool `mapstructure:"tools"`
}

// ParseConfig decodes the raw configuration document returned by the server.
// The permission sections are read token by token from the JSON rather than
// through Go maps, which would shuffle the rule order.
func ParseConfig(data []byte) (Config, error) {
	var generic map[string]interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return Config{}, occerrors.Wrap(err, occerrors.ErrCodeInvalidInput,
			"unexpected configuration shape")
	}
	var doc configDoc
	if err := mapstructure.Decode(generic, &doc); err != nil {
		return Config{}, occerrors.Wrap(err, occerrors.ErrCodeInvalidInput,
			"unexpected configuration shape")
	}

	cfg := Config{
		Agent: make(map[string]AgentConfig, len(doc.Agent)),
		Tools: doc.Tools,
	}
	for name, a := range doc.Agent {
		cfg.Agent[name] = AgentConfig{Model: a.Model}
	}

	if err := walkPermissions(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromConfig returns the base rules, with agentName's overrides appended
// after them so they dominate under last-match-wins.
func FromConfig(cfg Config, agentName string) ([]Rule, error) {
	rules := append([]Rule(nil), cfg.Permission...)

	if agentName != "" {
		agentCfg, ok := cfg.Agent[agentName]
		if !ok {
			return nil, occerrors.New(occerrors.ErrCodeInvalidInput,
				fmt.Sprintf("unknown agent '%s'", agentName))
		}
		rules = append(rules, agentCfg.Permission...)
	}

	return rules, nil
}

// walkPermissions fills cfg's ordered permission lists from the raw document:
// the top-level permission section and the permission section of every agent.
func walkPermissions(data []byte, cfg *Config) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := expectDelim(dec, '{'); err != nil {
		return err
	}

	for dec.More() {
		key, err := keyToken(dec)
		if err != nil {
			return err
		}

		switch key {
		case "permission":
			rules, err := parseRules(dec)
			if err != nil {
				return err
			}
			cfg.Permission = rules
		case "agent":
			if err := walkAgents(dec, cfg); err != nil {
				return err
			}
		default:
			if err := skipValue(dec); err != nil {
				return err
			}
		}
	}

	_, err := dec.Token()
	return wrapSyntax(err)
}

func walkAgents(dec *json.Decoder, cfg *Config) error {
	if err := expectDelim(dec, '{'); err != nil {
		return err
	}

	for dec.More() {
		name, err := keyToken(dec)
		if err != nil {
			return err
		}
		if err := expectDelim(dec, '{'); err != nil {
			return err
		}

		for dec.More() {
			field, err := keyToken(dec)
			if err != nil {
				return err
			}
			if field != "permission" {
				if err := skipValue(dec); err != nil {
					return err
				}
				continue
			}

			rules, err := parseRules(dec)
			if err != nil {
				return err
			}
			agentCfg := cfg.Agent[name]
			agentCfg.Permission = rules
			cfg.Agent[name] = agentCfg
		}

		if _, err := dec.Token(); err != nil {
			return wrapSyntax(err)
		}
	}

	_, err := dec.Token()
	return wrapSyntax(err)
}

// parseRules flattens one permission section. Each entry is either a bare
// action string, which becomes a catch-all rule, or a pattern-to-action
// object, which becomes one rule per pattern in document order. Keys
// prefixed "__" are internal markers and skipped.
func parseRules(dec *json.Decoder) ([]Rule, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return nil, occerrors.New(occerrors.ErrCodeInvalidInput,
			"permission section is not an object")
	}

	var rules []Rule
	for dec.More() {
		perm, err := keyToken(dec)
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(perm, "__") {
			if err := skipValue(dec); err != nil {
				return nil, err
			}
			continue
		}

		tok, err := dec.Token()
		if err != nil {
			return nil, wrapSyntax(err)
		}
		switch value := tok.(type) {
		case string:
			rules = append(rules, Rule{Permission: perm, Pattern: "*", Action: Action(value)})
		case json.Delim:
			if value != '{' {
				return nil, occerrors.New(occerrors.ErrCodeInvalidInput,
					fmt.Sprintf("permission '%s' is neither an action nor a rule set", perm))
			}
			for dec.More() {
				pattern, err := keyToken(dec)
				if err != nil {
					return nil, err
				}
				tok, err := dec.Token()
				if err != nil {
					return nil, wrapSyntax(err)
				}
				action, ok := tok.(string)
				if !ok {
					return nil, occerrors.New(occerrors.ErrCodeInvalidInput,
						fmt.Sprintf("permission '%s': pattern '%s' has non-string action", perm, pattern))
				}
				rules = append(rules, Rule{Permission: perm, Pattern: pattern, Action: Action(action)})
			}
			if _, err := dec.Token(); err != nil {
				return nil, wrapSyntax(err)
			}
		default:
			return nil, occerrors.New(occerrors.ErrCodeInvalidInput,
				fmt.Sprintf("permission '%s' is neither an action nor a rule set", perm))
		}
	}

	if _, err := dec.Token(); err != nil {
		return nil, wrapSyntax(err)
	}
	return rules, nil
}

// Evaluate applies last-match-wins over the rule list: a rule matches when
// its permission name matches the requested permission and its pattern
// matches the target. With no match the decision defaults to ask.
func Evaluate(rules []Rule, permission, target string) Decision {
	for i := len(rules) - 1; i >= 0; i-- {
		if Match(rules[i].Permission, permission) && Match(rules[i].Pattern, target) {
			rule := rules[i]
			return Decision{Action: rule.Action, Rule: &rule}
		}
	}
	return Decision{Action: ActionAsk}
}

// Match reports whether text matches a wildcard pattern with fnmatch
// semantics: `*` matches any run of characters including none, `?` matches
// exactly one, `[seq]` matches one character from the set (`[!seq]` from its
// complement), and the pattern must cover the whole text. An unclosed `[`
// matches itself literally.
func Match(pattern, text string) bool {
	if pattern == "*" {
		return true
	}

	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '[':
			end := classEnd(pattern, i)
			if end < 0 {
				b.WriteString(`\[`)
				continue
			}
			seq := strings.ReplaceAll(pattern[i+1:end], `\`, `\\`)
			negate := strings.HasPrefix(seq, "!")
			if negate {
				seq = seq[1:]
			}
			seq = strings.ReplaceAll(seq, "]", `\]`)
			if negate {
				seq = "^" + seq
			} else if strings.HasPrefix(seq, "^") {
				seq = `\` + seq
			}
			b.WriteString("[" + seq + "]")
			i = end
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return false
	}
	return re.MatchString(text)
}

// classEnd returns the index of the `]` closing the class opened at start,
// or -1 when the class never closes. A `]` in the first position (after an
// optional `!`) belongs to the set, as in fnmatch.
func classEnd(pattern string, start int) int {
	i := start + 1
	if i < len(pattern) && pattern[i] == '!' {
		i++
	}
	if i < len(pattern) && pattern[i] == ']' {
		i++
	}
	for i < len(pattern) && pattern[i] != ']' {
		i++
	}
	if i >= len(pattern) {
		return -1
	}
	return i
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return wrapSyntax(err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return occerrors.New(occerrors.ErrCodeInvalidInput,
			fmt.Sprintf("unexpected configuration token %v", tok))
	}
	return nil
}

func keyToken(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", wrapSyntax(err)
	}
	key, ok := tok.(string)
	if !ok {
		return "", occerrors.New(occerrors.ErrCodeInvalidInput,
			fmt.Sprintf("unexpected configuration token %v", tok))
	}
	return key, nil
}

// skipValue consumes one complete JSON value, nested or scalar.
func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return wrapSyntax(err)
	}
	d, ok := tok.(json.Delim)
	if !ok || (d != '{' && d != '[') {
		return nil
	}
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return wrapSyntax(err)
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}

func wrapSyntax(err error) error {
	if err == nil {
		return nil
	}
	return occerrors.Wrap(err, occerrors.ErrCodeInvalidInput, "malformed configuration document")
}
