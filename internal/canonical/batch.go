package canonical

// InvalidURL records a batch entry that could not be canonicalized.
type InvalidURL struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// Batch partitions a list of URLs into canonicalized and rejected entries.
type Batch struct {
	Processed []Result     `json:"processed"`
	Invalid   []InvalidURL `json:"invalid"`
}

// CanonicalizeBatch canonicalizes every entry independently. A bad entry only
// lands in Invalid; it never aborts the rest of the batch.
func CanonicalizeBatch(urls []string) Batch {
	out := Batch{
		Processed: make([]Result, 0, len(urls)),
		Invalid:   []InvalidURL{},
	}
	for _, raw := range urls {
		res := Canonicalize(raw)
		if !res.IsValid {
			out.Invalid = append(out.Invalid, InvalidURL{URL: raw, Reason: res.Reason})
			continue
		}
		out.Processed = append(out.Processed, res)
	}
	return out
}
