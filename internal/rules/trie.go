// Package rules implements the hierarchical reverse-label domain trie
// and the single-owner engine that serializes concurrent access to it.
package rules

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Trie maps one DNS label to either another Trie (a subtree of more
// specific labels) or nil (a terminal marker: this label and everything
// beneath it matches). Labels are stored in reverse DNS order, so a rule
// for "www.example.com" is reachable as root["com"]["example"]["www"].
//
// A map's nil value serializes as JSON null, so Trie needs no custom
// (Un)MarshalJSON to round-trip the bootstrap rule file format.
type Trie map[string]*Trie

// LoadFile parses a JSON rule file into a Trie.
func LoadFile(path string) (*Trie, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "rules: unable to read rule file %q", path)
	}
	var t Trie
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, errors.Wrapf(err, "rules: malformed rule file %q", path)
	}
	return &t, nil
}

// Insert validates domain against the label rules and, if valid, walks
// the trie from the TLD down, creating intermediate subtries as needed,
// and marks the most specific (leftmost) label as terminal. An existing
// subtree under that label is collapsed into a terminal marker — the
// terminal marker is an absorbing state.
func (t *Trie) Insert(domain string) error {
	labels, err := validateDomain(domain)
	if err != nil {
		return err
	}
	reversed := make([]string, len(labels))
	for i, l := range labels {
		reversed[len(labels)-1-i] = l
	}
	t.insertReversed(reversed)
	return nil
}

func (t *Trie) insertReversed(labels []string) {
	if *t == nil {
		*t = Trie{}
	}
	k, rest := labels[0], labels[1:]

	if len(rest) == 0 {
		(*t)[k] = nil
		return
	}

	child, exists := (*t)[k]
	if exists {
		if child != nil {
			child.insertReversed(rest)
		}
		// child == nil: already terminal, absorbs everything beneath it.
		return
	}

	child = &Trie{}
	child.insertReversed(rest)
	(*t)[k] = child
}

// Contains reports whether host is matched by the ruleset: any label in
// excludedSuffixes appearing as the rightmost (TLD) label unconditionally
// excludes the host. A terminal marker matches the label it's stored at
// and every label below it, including an exact query for the inserted
// name itself — see DESIGN.md for the exact-match decision.
func (t *Trie) Contains(host string, excludedSuffixes map[string]struct{}) bool {
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return false
	}
	labels := strings.Split(host, ".")
	if _, excluded := excludedSuffixes[labels[len(labels)-1]]; excluded {
		return false
	}

	cur := t
	for i := len(labels) - 1; i >= 0; i-- {
		if cur == nil || *cur == nil {
			return false
		}
		child, exists := (*cur)[labels[i]]
		if !exists {
			return false
		}
		if child == nil {
			return true
		}
		cur = child
	}
	return false
}
