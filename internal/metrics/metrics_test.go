package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSanitizeSite(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://missilery.info/search?page=2": "missilery.info",
		"https://MISSILERY.info/missile/topol": "missilery.info",
		"missilery.info/missile/topol":         "missilery.info",
		"127.0.0.1:8080":                       "127.0.0.1",
		"http://%":                             "unknown",
		"":                                     "unknown",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeSite(in), in)
	}
}

func TestCrawlObservers(t *testing.T) {
	Init()
	Init()

	pages := testutil.ToFloat64(crawlPagesTotal.WithLabelValues("detail", "ok"))
	bytes := testutil.ToFloat64(crawlBytesTotal.WithLabelValues("missilery.info"))
	ObservePage("https://missilery.info/missile/topol-m", "detail", "ok", 128)
	ObservePage("https://missilery.info/missile/empty", "detail", "ok", 0)
	assert.InDelta(t, pages+2, testutil.ToFloat64(crawlPagesTotal.WithLabelValues("detail", "ok")), 0)
	assert.InDelta(t, bytes+128, testutil.ToFloat64(crawlBytesTotal.WithLabelValues("missilery.info")), 0)

	retries := testutil.ToFloat64(crawlFetchRetriesTotal)
	ObserveFetchRetry()
	assert.InDelta(t, retries+1, testutil.ToFloat64(crawlFetchRetriesTotal), 0)

	ObserveRateLimitDelay("missilery.info", 250*time.Millisecond)
	assert.Positive(t, testutil.CollectAndCount(crawlRateLimitDelaySeconds))
}

func TestImportObservers(t *testing.T) {
	Init()

	created := testutil.ToFloat64(resolverReferencesTotal.WithLabelValues("country", "created"))
	reused := testutil.ToFloat64(resolverReferencesTotal.WithLabelValues("country", "reused"))
	ObserveReference("country", true)
	ObserveReference("country", false)
	ObserveReference("country", false)
	assert.InDelta(t, created+1, testutil.ToFloat64(resolverReferencesTotal.WithLabelValues("country", "created")), 0)
	assert.InDelta(t, reused+2, testutil.ToFloat64(resolverReferencesTotal.WithLabelValues("country", "reused")), 0)

	inserted := testutil.ToFloat64(importRecordsTotal.WithLabelValues("inserted"))
	ObserveImportRecord("inserted", 5*time.Millisecond)
	assert.InDelta(t, inserted+1, testutil.ToFloat64(importRecordsTotal.WithLabelValues("inserted")), 0)
	assert.Positive(t, testutil.CollectAndCount(importRecordDurationSeconds))
}

func FuzzSanitizeSite(f *testing.F) {
	for _, seed := range []string{"https://missilery.info", "missilery.info/search", "ftp://x"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, in string) {
		if SanitizeSite(in) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", in)
		}
	})
}
