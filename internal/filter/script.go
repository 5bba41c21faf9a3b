// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package filter

import (
	"fmt"
	"strings"
)

// scriptBuilder assembles nftables scripts for atomic application via
// `nft -f`. Objects are emitted in dependency order: table, sets, chains,
// chain flushes, rules, set elements. Each Build output flushes the chains
// it populates, so re-applying the same script never duplicates rules.
type scriptBuilder struct {
	tableName  string
	family     string
	tables     []string
	sets       []string
	chains     []string
	rules      map[string][]string
	elements   []string
	chainOrder []string
}

func newScriptBuilder(tableName, family string) *scriptBuilder {
	return &scriptBuilder{
		tableName: tableName,
		family:    family,
		rules:     make(map[string][]string),
	}
}

func (sb *scriptBuilder) AddTable() {
	sb.tables = append(sb.tables, fmt.Sprintf("add table %s %s", sb.family, sb.tableName))
}

// AddChain defines a chain. typeName is empty for regular (jump-target)
// chains; base chains carry type, hook, priority, and a policy.
func (sb *scriptBuilder) AddChain(name, typeName, hook string, priority int, chainPolicy string) {
	var cmd string
	if typeName != "" {
		cmd = fmt.Sprintf("add chain %s %s %s { type %s hook %s priority %d; policy %s; }",
			sb.family, sb.tableName, name, typeName, hook, priority, chainPolicy)
	} else {
		cmd = fmt.Sprintf("add chain %s %s %s { }", sb.family, sb.tableName, name)
	}
	sb.chains = append(sb.chains, cmd)
	sb.chainOrder = append(sb.chainOrder, name)
}

func (sb *scriptBuilder) AddRule(chain, rule string, comment ...string) {
	if len(comment) > 0 && comment[0] != "" && !strings.Contains(rule, `comment "`) {
		rule += fmt.Sprintf(" comment %q", comment[0])
	}
	cmd := fmt.Sprintf("add rule %s %s %s %s", sb.family, sb.tableName, chain, rule)
	sb.rules[chain] = append(sb.rules[chain], cmd)
}

func (sb *scriptBuilder) AddSet(name, setType string) {
	sb.sets = append(sb.sets, fmt.Sprintf("add set %s %s %s { type %s; }",
		sb.family, sb.tableName, name, setType))
	// A re-applied script must replace the set contents, not union them.
	sb.sets = append(sb.sets, fmt.Sprintf("flush set %s %s %s",
		sb.family, sb.tableName, name))
}

func (sb *scriptBuilder) AddSetElements(setName string, elements []string) {
	// 100 elements per line keeps the statements well under nft limits.
	const batch = 100
	for i := 0; i < len(elements); i += batch {
		end := i + batch
		if end > len(elements) {
			end = len(elements)
		}
		sb.elements = append(sb.elements, fmt.Sprintf("add element %s %s %s { %s }",
			sb.family, sb.tableName, setName, strings.Join(elements[i:end], ", ")))
	}
}

func (sb *scriptBuilder) Build() string {
	var lines []string
	lines = append(lines, sb.tables...)
	lines = append(lines, sb.sets...)
	lines = append(lines, sb.chains...)
	for _, chain := range sb.chainOrder {
		lines = append(lines, fmt.Sprintf("flush chain %s %s %s",
			sb.family, sb.tableName, chain))
	}
	for _, chain := range sb.chainOrder {
		lines = append(lines, sb.rules[chain]...)
	}
	lines = append(lines, sb.elements...)
	return strings.Join(lines, "\n") + "\n"
}
