package config

import "sort"

// RuleChanges lists proxy prefixes that differ between two descriptors.
type RuleChanges struct {
	Added   []string
	Removed []string
	Updated []string
}

// Empty reports whether no rule changed.
func (c RuleChanges) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Updated) == 0
}

// DiffRules compares the proxy tables of oldCfg and newCfg. A nil newCfg
// (a failed reload) yields no changes.
func DiffRules(oldCfg, newCfg *Descriptor) RuleChanges {
	var changes RuleChanges
	if newCfg == nil {
		return changes
	}

	var oldRules map[string]ProxyRule
	if oldCfg != nil {
		oldRules = oldCfg.Server.Proxy
	}

	for prefix, newRule := range newCfg.Server.Proxy {
		oldRule, exists := oldRules[prefix]
		if !exists {
			changes.Added = append(changes.Added, prefix)
			continue
		}
		if !ruleEqual(oldRule, newRule) {
			changes.Updated = append(changes.Updated, prefix)
		}
	}
	for prefix := range oldRules {
		if _, exists := newCfg.Server.Proxy[prefix]; !exists {
			changes.Removed = append(changes.Removed, prefix)
		}
	}

	sort.Strings(changes.Added)
	sort.Strings(changes.Removed)
	sort.Strings(changes.Updated)
	return changes
}

func ruleEqual(a, b ProxyRule) bool {
	return a.Target == b.Target &&
		a.ChangeOrigin == b.ChangeOrigin &&
		a.StripPrefix == b.StripPrefix &&
		a.WS == b.WS &&
		a.Timeout == b.Timeout &&
		stringMapEqual(a.Headers, b.Headers)
}

func stringMapEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
