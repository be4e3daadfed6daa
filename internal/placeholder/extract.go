package placeholder

// Extract returns the distinct placeholder names in text, in order of first
// appearance. Unbalanced or malformed braces are treated as plain text.
func Extract(text string) []string {
	return ExtractAll(text)
}

// ExtractAll extracts across several texts (e.g. subject then body),
// deduplicating over all of them.
func ExtractAll(texts ...string) []string {
	names := []string{}
	seen := make(map[string]struct{})

	for _, text := range texts {
		if text == "" {
			continue
		}
		for _, m := range tokenPattern.FindAllStringSubmatch(text, -1) {
			name := m[1]
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}

	return names
}
