// Package knowledge aggregates adverse-event terms from clinical trial
// result documents into the reference sets the risk-scoring stage cites.
package knowledge

import (
	"encoding/json"
	"log/slog"
	"os"
	"sort"
)

// Base is the aggregated reference knowledge, immutable after Load.
type Base struct {
	TotalSources  int
	LoadedSources int
	SeriousEvents []string
	OtherEvents   []string
}

// trialDocument mirrors the slice of the clinicaltrials.gov result schema
// this system reads.
type trialDocument struct {
	ResultsSection struct {
		AdverseEventsModule struct {
			SeriousEvents []adverseEvent `json:"seriousEvents"`
			OtherEvents   []adverseEvent `json:"otherEvents"`
		} `json:"adverseEventsModule"`
	} `json:"resultsSection"`
}

type adverseEvent struct {
	Term string `json:"term"`
}

// Load reads each trial document and unions its serious/other adverse-event
// terms into deduplicated, sorted sets. A source that fails to load or
// parse is logged and skipped; the aggregate is best effort, not atomic.
func Load(paths []string, log *slog.Logger) *Base {
	serious := make(map[string]struct{})
	other := make(map[string]struct{})
	loaded := 0

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Error("knowledge source unreadable, skipping", "path", path, "err", err)
			continue
		}
		var doc trialDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			log.Error("knowledge source unparseable, skipping", "path", path, "err", err)
			continue
		}
		mod := doc.ResultsSection.AdverseEventsModule
		for _, e := range mod.SeriousEvents {
			if e.Term != "" {
				serious[e.Term] = struct{}{}
			}
		}
		for _, e := range mod.OtherEvents {
			if e.Term != "" {
				other[e.Term] = struct{}{}
			}
		}
		loaded++
	}

	return &Base{
		TotalSources:  len(paths),
		LoadedSources: loaded,
		SeriousEvents: sortedKeys(serious),
		OtherEvents:   sortedKeys(other),
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for term := range set {
		out = append(out, term)
	}
	sort.Strings(out)
	return out
}
