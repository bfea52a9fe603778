package meas

import (
	"fmt"
	"math"
	"regexp"
	"sort"
)

// Event marks a sample (absolute, including the recording's first sample)
// with the value the trigger held before and the event code.
type Event struct {
	Sample   int
	Previous int
	Code     int
}

// FindEvents scans a trigger channel for steps to a non-zero value. A step is
// reported when the channel leaves zero or increases between two non-zero
// values; a value already present on the first sample is not an event.
func FindEvents(raw *Raw, stimChannel string) ([]Event, error) {
	k := raw.Info.Index(stimChannel)
	if k < 0 {
		return nil, fmt.Errorf("stim channel %q not found", stimChannel)
	}

	var events []Event
	prev := int(math.Round(raw.Data.At(k, 0)))
	for s := 1; s < raw.NTimes(); s++ {
		cur := int(math.Round(raw.Data.At(k, s)))
		if cur != prev && cur != 0 && (prev == 0 || cur > prev) {
			events = append(events, Event{Sample: raw.FirstSample + s, Previous: prev, Code: cur})
		}
		prev = cur
	}
	return events, nil
}

// EventsFromAnnotations converts annotations whose description matches pattern
// (anchored at the start of the description) into events. Codes are assigned
// 1..N over the sorted set of matching descriptions and returned as the
// description to code mapping.
func EventsFromAnnotations(raw *Raw, pattern string) ([]Event, map[string]int, error) {
	re, err := regexp.Compile(`^(?:` + pattern + `)`)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid annotation pattern: %w", err)
	}

	var matched []Annotation
	seen := map[string]bool{}
	for _, a := range raw.Annotations {
		if re.MatchString(a.Description) {
			matched = append(matched, a)
			seen[a.Description] = true
		}
	}

	descs := make([]string, 0, len(seen))
	for d := range seen {
		descs = append(descs, d)
	}
	sort.Strings(descs)
	eventID := make(map[string]int, len(descs))
	for k, d := range descs {
		eventID[d] = k + 1
	}

	n := raw.NTimes()
	var events []Event
	for _, a := range matched {
		s := int(math.Round(a.Onset * raw.Info.SFreq))
		if s < 0 || s >= n {
			continue
		}
		events = append(events, Event{Sample: raw.FirstSample + s, Code: eventID[a.Description]})
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Sample < events[j].Sample })
	return events, eventID, nil
}
