package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anamnesis-backend/internal/canonical"
)

func steppingClock(step time.Duration) func() time.Time {
	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		current = current.Add(step)
		return current
	}
}

func candidateFor(id, url string) Candidate {
	c := canonical.Canonicalize(url)
	return Candidate{AnalysisID: id, URL: url, Hash: c.Hash}
}

func TestCheckExactHashMatch(t *testing.T) {
	e := NewEngine(nil)
	existing := []Candidate{candidateFor("a-1", "https://clinic.com")}

	res := e.Check("https://clinic.com/", "user-1", existing)

	assert.True(t, res.IsDuplicate)
	assert.Equal(t, "a-1", res.OriginalAnalysisID)
	assert.Equal(t, ConfidenceExact, res.Confidence)
	assert.Equal(t, MatchHash, res.MatchType)
	assert.Equal(t, "https://clinic.com", res.NormalizedURL)
}

func TestCheckNormalizedFallbackWithoutHash(t *testing.T) {
	e := NewEngine(nil)
	existing := []Candidate{{AnalysisID: "legacy", URL: "HTTP://Clinic.com/"}}

	res := e.Check("https://clinic.com", "user-1", existing)

	assert.True(t, res.IsDuplicate)
	assert.Equal(t, "legacy", res.OriginalAnalysisID)
	assert.Equal(t, ConfidenceHigh, res.Confidence)
	assert.Equal(t, MatchNormalized, res.MatchType)
}

func TestCheckHashWinsOverNormalized(t *testing.T) {
	e := NewEngine(nil)
	existing := []Candidate{
		{AnalysisID: "legacy", URL: "https://clinic.com"},
		candidateFor("hashed", "https://clinic.com"),
	}

	res := e.Check("clinic.com", "user-1", existing)

	assert.Equal(t, MatchHash, res.MatchType)
	assert.Equal(t, "hashed", res.OriginalAnalysisID)
}

func TestCheckFuzzySuggestsWithoutMerging(t *testing.T) {
	e := NewEngine(nil)
	existing := []Candidate{
		candidateFor("a-1", "https://clinica.com"),
		candidateFor("a-2", "https://groomers.net"),
	}

	res := e.Check("https://clinic.com", "user-1", existing)

	assert.False(t, res.IsDuplicate)
	assert.Empty(t, res.OriginalAnalysisID)
	assert.Equal(t, ConfidenceMedium, res.Confidence)
	assert.Equal(t, MatchFuzzy, res.MatchType)
	require.Len(t, res.Suggestions, 1)
	assert.Equal(t, "https://clinica.com", res.Suggestions[0].URL)
	assert.Greater(t, res.Suggestions[0].Similarity, FuzzyThreshold)
}

func TestCheckWWWVariantIsFuzzy(t *testing.T) {
	e := NewEngine(nil)
	existing := []Candidate{candidateFor("a-1", "https://www.clinic.com")}

	res := e.Check("https://clinic.com", "user-1", existing)

	assert.False(t, res.IsDuplicate)
	require.Len(t, res.Suggestions, 1)
	assert.InDelta(t, 0.95, res.Suggestions[0].Similarity, 1e-9)
}

func TestCheckNoMatch(t *testing.T) {
	e := NewEngine(nil)
	existing := []Candidate{candidateFor("a-1", "https://petshop.org")}

	res := e.Check("https://vetclinic.com", "user-1", existing)

	assert.False(t, res.IsDuplicate)
	assert.Equal(t, ConfidenceHigh, res.Confidence)
	assert.Equal(t, MatchNone, res.MatchType)
	assert.Empty(t, res.Suggestions)
	assert.NotEmpty(t, res.Hash)
}

func TestCheckIgnoresOtherUsersCandidates(t *testing.T) {
	e := NewEngine(nil)
	foreign := candidateFor("a-1", "https://clinic.com")
	foreign.UserID = "user-2"
	own := candidateFor("a-2", "https://clinic.com")
	own.UserID = "user-1"

	res := e.Check("https://clinic.com", "user-1", []Candidate{foreign})
	assert.False(t, res.IsDuplicate)
	assert.Equal(t, MatchNone, res.MatchType)

	res = e.Check("https://clinic.com", "user-1", []Candidate{foreign, own})
	assert.True(t, res.IsDuplicate)
	assert.Equal(t, "a-2", res.OriginalAnalysisID)
}

func TestCheckInvalidShortCircuits(t *testing.T) {
	e := NewEngine(nil)
	existing := []Candidate{candidateFor("a-1", "https://clinic.com")}

	res := e.Check("ftp://clinic.com", "user-1", existing)

	assert.False(t, res.IsDuplicate)
	assert.Equal(t, ConfidenceLow, res.Confidence)
	assert.Equal(t, MatchNone, res.MatchType)
	assert.Empty(t, res.Hash)

	m := e.Metrics()
	assert.Equal(t, uint64(1), m.TotalChecks)
	assert.Zero(t, m.ExactMatches+m.FuzzyMatches+m.NewURLs)
}

func TestCheckBatchDoesNotCompareWithinBatch(t *testing.T) {
	e := NewEngine(nil)
	results := e.CheckBatch([]string{"https://new.com", "https://new.com/"}, "user-1", nil)

	require.Len(t, results, 2)
	for _, res := range results {
		assert.False(t, res.IsDuplicate)
		assert.Equal(t, MatchNone, res.MatchType)
	}
}

func TestDomainSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, DomainSimilarity("clinic.com", "clinic.com"))
	assert.Equal(t, 0.95, DomainSimilarity("www.clinic.com", "clinic.com"))
	assert.InDelta(t, 1-1.0/11.0, DomainSimilarity("clinic.com", "clinica.com"), 1e-9)
	assert.Less(t, DomainSimilarity("clinic.com", "groomers.net"), FuzzyThreshold)
	assert.Equal(t, 3, levenshtein([]rune("kitten"), []rune("sitting")))
}

func TestMetricsAndReport(t *testing.T) {
	e := NewEngine(steppingClock(time.Millisecond))
	existing := []Candidate{candidateFor("a-1", "https://clinic.com")}

	e.Check("https://clinic.com", "u", existing)
	e.Check("https://clinica.com", "u", existing)
	e.Check("https://clinicb.com", "u", existing)
	e.Check("https://clinicc.com", "u", existing)
	e.Check("https://elsewhere.org", "u", existing)

	m := e.Metrics()
	assert.Equal(t, uint64(5), m.TotalChecks)
	assert.Equal(t, uint64(1), m.ExactMatches)
	assert.Equal(t, uint64(3), m.FuzzyMatches)
	assert.Equal(t, uint64(1), m.NewURLs)
	assert.InDelta(t, 0.8, m.HitRate, 1e-9)
	assert.InDelta(t, 1.0, m.AvgProcessingTimeMs, 1e-9)
	assert.Equal(t, 5, m.SampleCount)

	report := e.Report()
	assert.Contains(t, report.Recommendations, "fuzzy matches outnumber exact matches; users may be submitting domain variants")
}

func TestLatencyWindowIsBounded(t *testing.T) {
	e := NewEngine(steppingClock(time.Microsecond))
	for i := 0; i < latencyWindow+250; i++ {
		e.Check("https://clinic.com", "u", nil)
	}
	m := e.Metrics()
	assert.Equal(t, latencyWindow, m.SampleCount)
	assert.Equal(t, uint64(latencyWindow+250), m.TotalChecks)
}

func TestEngineValidateHashIntegrity(t *testing.T) {
	e := NewEngine(nil)
	c := canonical.Canonicalize("https://clinic.com")
	assert.True(t, e.ValidateHashIntegrity("clinic.com/", c.Hash))
	assert.False(t, e.ValidateHashIntegrity("clinic.com/", "deadbeef"))
}
