package contracts

import (
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize rewrites the contract into its canonical in-memory shape:
// strings trimmed and NFC-normalized, set-valued lists (compliance tags,
// use cases, stewards, enums, approved fields) deduplicated and sorted,
// uniqueness keys sorted inside and across keys. Schema field order is
// presentation order and is preserved. Normalize never fails; Validate
// decides whether the normalized document is acceptable.
func (c *Contract) Normalize() {
	c.Dataset = cleanText(c.Dataset)
	c.Version = strings.TrimSpace(c.Version)
	c.Notes = cleanText(c.Notes)

	c.Owner.Name = cleanText(c.Owner.Name)
	c.Owner.Contact = cleanText(c.Owner.Contact)
	c.Owner.Domain = cleanText(c.Owner.Domain)
	c.Owner.Stewards = normalizeSet(c.Owner.Stewards)

	for i := range c.Schema {
		f := &c.Schema[i]
		f.Name = cleanText(f.Name)
		f.Description = cleanText(f.Description)
		f.Enum = normalizeSet(f.Enum)
	}

	g := &c.Governance
	g.Classification = Classification(strings.ToLower(cleanText(string(g.Classification))))
	g.ComplianceTags = normalizeSet(g.ComplianceTags)
	g.ApprovedUseCases = normalizeSet(g.ApprovedUseCases)
	g.DataResidency = cleanText(g.DataResidency)
	g.VersioningPolicy = cleanText(g.VersioningPolicy)

	c.Quality.Tier = strings.ToLower(cleanText(c.Quality.Tier))
	c.Quality.UniquenessKeys = normalizeKeys(c.Quality.UniquenessKeys)

	for i := range c.Subscriptions {
		s := &c.Subscriptions[i]
		s.Consumer = cleanText(s.Consumer)
		s.ApprovedFields = normalizeSet(s.ApprovedFields)
		s.AccessWindow = cleanText(s.AccessWindow)
	}
	sort.SliceStable(c.Subscriptions, func(i, j int) bool {
		return c.Subscriptions[i].Consumer < c.Subscriptions[j].Consumer
	})
}

func cleanText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func normalizeSet(vals []string) []string {
	if len(vals) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(vals))
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		v = cleanText(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

func normalizeKeys(keys [][]string) [][]string {
	if len(keys) == 0 {
		return nil
	}
	out := make([][]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		k := normalizeSet(key)
		if len(k) == 0 {
			continue
		}
		joined := strings.Join(k, ",")
		if seen[joined] {
			continue
		}
		seen[joined] = true
		out = append(out, k)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.Join(out[i], ",") < strings.Join(out[j], ",")
	})
	return out
}
