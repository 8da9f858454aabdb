package telem

import "strings"

// Summarize reduces a flat sample list to the catalog of unique
// message identities, passing the samples through unchanged. Catalog
// order is the insertion order of first-seen identities; label sets
// keep first-seen order too.
func Summarize(samples []ParsedSample) ([]ParsedSample, []UniqueMessageEntry) {
	index := make(map[string]int)
	seen := make(map[string]map[string]struct{})
	catalog := make([]UniqueMessageEntry, 0)
	for _, s := range samples {
		key, sender := messageIdentity(s.Identity)
		i, ok := index[key]
		if !ok {
			i = len(catalog)
			index[key] = i
			seen[key] = make(map[string]struct{})
			catalog = append(catalog, UniqueMessageEntry{Identity: key, Sender: sender})
		}
		if _, dup := seen[key][s.Label]; !dup {
			seen[key][s.Label] = struct{}{}
			catalog[i].FieldLabels = append(catalog[i].FieldLabels, s.Label)
		}
	}
	return samples, catalog
}

// messageIdentity keeps the family and message components of a
// composite sample key, dropping the field label.
func messageIdentity(identity string) (key, sender string) {
	sender, rest, ok := strings.Cut(identity, "/")
	if !ok {
		return identity, identity
	}
	msg, _, _ := strings.Cut(rest, "/")
	return sender + "/" + msg, sender
}
