package settings

import (
	"fmt"
	"strconv"
	"strings"
)

// Policy is a bitmask combining one list-editable flag with one conflict flag.
// The numeric values are stable: they appear in env vars and config files.
type Policy uint8

const (
	// PolicyListEditableSilent skips conflicted records during a bulk save,
	// saves the rest and reports the conflicts back to the caller.
	PolicyListEditableSilent Policy = 1
	// PolicyListEditableAbortAll aborts the whole batch at the first conflict.
	PolicyListEditableAbortAll Policy = 2
	// PolicyConflictRaise returns a conflict error from a single-record save.
	PolicyConflictRaise Policy = 4
	// PolicyConflictCallback invokes the configured conflict callback instead.
	PolicyConflictCallback Policy = 8
)

const (
	listEditablePolicies = PolicyListEditableSilent | PolicyListEditableAbortAll
	conflictPolicies     = PolicyConflictRaise | PolicyConflictCallback
)

// Has reports whether all bits of flag are set.
func (p Policy) Has(flag Policy) bool {
	return p&flag == flag
}

// Validate rejects policies that combine mutually exclusive flags.
func (p Policy) Validate() error {
	if p.Has(listEditablePolicies) {
		return fmt.Errorf("invalid value for %s: use only one of the list-editable flags", KeyPolicy)
	}
	if p.Has(conflictPolicies) {
		return fmt.Errorf("invalid value for %s: use only one of the conflict flags", KeyPolicy)
	}
	return nil
}

func (p Policy) String() string {
	var names []string
	for flag, name := range policyNames {
		if p.Has(flag) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	// Map iteration order is random; keep output stable.
	sortNames(names)
	return strings.Join(names, "|")
}

var policyNames = map[Policy]string{
	PolicyListEditableSilent:   "silent",
	PolicyListEditableAbortAll: "abort-all",
	PolicyConflictRaise:        "raise",
	PolicyConflictCallback:     "callback",
}

func sortNames(names []string) {
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j] < names[j-1]; j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
}

// ParsePolicy accepts a numeric bitmask ("5") or flag names joined by
// "|" or "," ("silent|raise"). Integer types are accepted as-is so values
// decoded from YAML or JSON config files round-trip.
func ParsePolicy(value any) (Policy, error) {
	switch v := value.(type) {
	case Policy:
		return v, nil
	case int:
		return policyFromInt(int64(v))
	case int64:
		return policyFromInt(v)
	case uint64:
		if v > maxPolicy {
			return 0, fmt.Errorf("%s out of range: %d", KeyPolicy, v)
		}
		return Policy(v), nil
	case float64:
		// JSON numbers decode as float64.
		n := int64(v)
		if float64(n) != v {
			return 0, fmt.Errorf("%s must be an integer bitmask, got %v", KeyPolicy, v)
		}
		return policyFromInt(n)
	case string:
		return parsePolicyString(v)
	default:
		return 0, fmt.Errorf("%s must be an integer bitmask or flag names, got %T", KeyPolicy, value)
	}
}

const maxPolicy = 255

func policyFromInt(n int64) (Policy, error) {
	if n < 0 || n > maxPolicy {
		return 0, fmt.Errorf("%s out of range: %d", KeyPolicy, n)
	}
	return Policy(n), nil
}

func parsePolicyString(s string) (Policy, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%s cannot be empty", KeyPolicy)
	}
	if n, err := strconv.ParseUint(s, 10, 8); err == nil {
		return Policy(n), nil
	}

	var p Policy
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' }) {
		part = strings.TrimSpace(strings.ToLower(part))
		found := false
		for flag, name := range policyNames {
			if part == name {
				p |= flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown policy flag %q", part)
		}
	}
	return p, nil
}
