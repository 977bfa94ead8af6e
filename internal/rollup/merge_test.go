package rollup

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func mkSummary(t *testing.T, start, end time.Time, failures int64, kinds map[string]KindStats) []byte {
	t.Helper()
	var observed int64
	for _, ks := range kinds {
		observed += ks.Count
	}
	b, err := json.Marshal(Summary{
		Start:    start,
		End:      end,
		Observed: observed,
		Failures: failures,
		BoundsMS: defaultBoundsMS,
		Kinds:    kinds,
	})
	if err != nil {
		t.Fatalf("marshal summary: %v", err)
	}
	return b
}

func kindOf(count int64, minMS, maxMS float64, bucket int) KindStats {
	ks := KindStats{
		Count:   count,
		TotalMS: minMS * float64(count),
		MinMS:   minMS,
		MaxMS:   maxMS,
		Buckets: make([]int64, len(defaultBoundsMS)+1),
	}
	ks.Buckets[bucket] = count
	return ks
}

func TestMerge_CombinesParts(t *testing.T) {
	t0 := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	p1 := mkSummary(t, t0, t0.Add(time.Minute), 2, map[string]KindStats{
		"sleep": kindOf(10, 4, 9, 2),
		"cpu":   kindOf(5, 0.5, 0.9, 0),
	})
	p2 := mkSummary(t, t0.Add(-time.Minute), t0.Add(30*time.Second), 1, map[string]KindStats{
		"sleep": kindOf(4, 2, 30, 1),
	})

	out, err := Merge([][]byte{p1, p2})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	var got Summary
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("unmarshal merged: %v", err)
	}

	if got.Observed != 19 || got.Failures != 3 {
		t.Fatalf("observed=%d failures=%d want 19/3", got.Observed, got.Failures)
	}
	if !got.Start.Equal(t0.Add(-time.Minute)) || !got.End.Equal(t0.Add(time.Minute)) {
		t.Fatalf("time span got=[%v, %v]", got.Start, got.End)
	}
	sleep := got.Kinds["sleep"]
	if sleep.Count != 14 || sleep.MinMS != 2 || sleep.MaxMS != 30 {
		t.Fatalf("sleep fold: %+v", sleep)
	}
	if sleep.Buckets[1] != 4 || sleep.Buckets[2] != 10 {
		t.Fatalf("sleep buckets: %v", sleep.Buckets)
	}
	if got.Kinds["cpu"].Count != 5 {
		t.Fatalf("cpu fold: %+v", got.Kinds["cpu"])
	}
}

func TestMerge_NoParts(t *testing.T) {
	out, err := Merge(nil)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	var got Summary
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("unmarshal merged: %v", err)
	}
	if got.Observed != 0 || len(got.BoundsMS) != len(defaultBoundsMS) {
		t.Fatalf("empty merge: %+v", got)
	}
}

func TestMerge_RejectsBadParts(t *testing.T) {
	now := time.Now().UTC()
	good := mkSummary(t, now, now, 0, map[string]KindStats{"sleep": kindOf(1, 1, 1, 0)})

	shortBuckets := []byte(`{"bounds_ms":[1,2,5,10,25,50,100,250,500,1000,2500,5000,10000],"kinds":{"sleep":{"count":1,"buckets":[1,0]}}}`)

	cases := []struct {
		name string
		part []byte
		want string
	}{
		{"not json", []byte("nope"), "part 1: parse json"},
		{"missing bounds", []byte(`{"kinds":{}}`), `missing required member "bounds_ms"`},
		{"different bounds", []byte(`{"bounds_ms":[1,2,3]}`), "differ"},
		{"wrong bucket count", shortBuckets, "buckets (want 14)"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Merge([][]byte{good, tc.part})
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("want error containing %q, got %v", tc.want, err)
			}
		})
	}
}
