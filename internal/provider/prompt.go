package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vegerot/dayflow/internal/errors"
	"github.com/vegerot/dayflow/internal/timeline"
)

// Wire shapes shared by both providers. Models speak mm:ss strings; the
// parse helpers convert to video-relative seconds and reject anything
// malformed as a CONTENT error.

type wireObservation struct {
	Start       string `json:"start"`
	End         string `json:"end"`
	Description string `json:"description"`
}

type wireCard struct {
	Start       string `json:"start"`
	End         string `json:"end"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

func buildTranscriptionPrompt() string {
	return `You are watching a screen recording of someone's computer activity.
Break the video into distinct activity segments. For each segment report
what the person is doing, which applications are visible, and any context
that identifies the task.

Respond with a JSON array only, no prose:
[{"start": "mm:ss", "end": "mm:ss", "description": "..."}]

Timestamps are relative to the start of this video. Segments must be in
order and must not overlap.`
}

func buildSynthesisPrompt(observations []Observation, pctx Context) string {
	var b strings.Builder
	b.WriteString("You are summarizing computer activity into timeline cards.\n\n")

	if len(pctx.PriorCards) > 0 {
		b.WriteString("Earlier today the person was doing:\n")
		for _, prior := range pctx.PriorCards {
			fmt.Fprintf(&b, "- %s\n", prior)
		}
		b.WriteString("Merge with or continue these activities where it makes sense; do not repeat them as new cards.\n\n")
	}

	if len(pctx.Categories) > 0 {
		fmt.Fprintf(&b, "Allowed categories: %s\n\n", strings.Join(pctx.Categories, ", "))
	}

	b.WriteString("Observations from the current video:\n")
	for _, o := range observations {
		fmt.Fprintf(&b, "- [%s - %s] %s\n",
			timeline.FormatVideoTime(o.StartSeconds),
			timeline.FormatVideoTime(o.EndSeconds),
			o.Description)
	}

	b.WriteString(`
Group the observations into a small number of activity cards. Each card
needs a short human title, a one-paragraph markdown description, and one
of the allowed categories.

Respond with a JSON array only, no prose:
[{"start": "mm:ss", "end": "mm:ss", "title": "...", "description": "...", "category": "..."}]`)

	return b.String()
}

func buildFramePrompt() string {
	return `Describe what is happening in this screenshot of a computer screen in
one or two sentences: the visible application, the content, and what the
person appears to be doing. Plain text only.`
}

func buildFrameMergePrompt(descriptions []string, spanSeconds int64) string {
	var b strings.Builder
	fmt.Fprintf(&b, `These are descriptions of %d frames sampled evenly from a %s screen
recording, in order:

`, len(descriptions), timeline.FormatVideoTime(spanSeconds))
	for i, d := range descriptions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, d)
	}
	b.WriteString(`
Fold consecutive frames showing the same activity into observations.
Respond with a JSON array only, no prose:
[{"start": "mm:ss", "end": "mm:ss", "description": "..."}]

Timestamps are relative to the start of the recording; spread them evenly
across its length based on which frames each observation covers.`)
	return b.String()
}

func buildTitlePrompt(o Observation) string {
	return fmt.Sprintf(`Write a title of at most six words and a one-paragraph summary for this
activity: %q

Respond with JSON only: {"title": "...", "description": "..."}`, o.Description)
}

func buildMergeDecisionPrompt(a, b CardDraft) string {
	return fmt.Sprintf(`Two adjacent activity cards:
A: %s: %s
B: %s: %s

Are these the same continuous activity? Respond with JSON only:
{"merge": true} or {"merge": false}`, a.Title, a.Description, b.Title, b.Description)
}

// parseObservations decodes the model's observation array. Input outside
// the JSON array (markdown fences, prose) is stripped first.
func parseObservations(raw string) ([]Observation, error) {
	payload := extractJSONArray(raw)
	if payload == "" {
		return nil, errors.NewContent("no JSON array in transcription response")
	}

	var wire []wireObservation
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return nil, errors.NewContent("transcription response is not valid JSON: " + err.Error())
	}

	observations := make([]Observation, 0, len(wire))
	for _, w := range wire {
		start, err := timeline.ParseVideoTime(w.Start)
		if err != nil {
			return nil, errors.NewContent("bad observation start: " + err.Error())
		}
		end, err := timeline.ParseVideoTime(w.End)
		if err != nil {
			return nil, errors.NewContent("bad observation end: " + err.Error())
		}
		if end < start {
			return nil, errors.NewContent(fmt.Sprintf("observation ends before it starts (%s > %s)", w.Start, w.End))
		}
		if strings.TrimSpace(w.Description) == "" {
			continue
		}
		observations = append(observations, Observation{
			StartSeconds: start,
			EndSeconds:   end,
			Description:  strings.TrimSpace(w.Description),
		})
	}
	return observations, nil
}

// parseCards decodes the model's card array, constraining categories to
// the allowed taxonomy (unknown categories fall back to the last entry,
// conventionally "Other").
func parseCards(raw string, categories []string) ([]CardDraft, error) {
	payload := extractJSONArray(raw)
	if payload == "" {
		return nil, errors.NewContent("no JSON array in synthesis response")
	}

	var wire []wireCard
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return nil, errors.NewContent("synthesis response is not valid JSON: " + err.Error())
	}

	cards := make([]CardDraft, 0, len(wire))
	for _, w := range wire {
		start, err := timeline.ParseVideoTime(w.Start)
		if err != nil {
			return nil, errors.NewContent("bad card start: " + err.Error())
		}
		end, err := timeline.ParseVideoTime(w.End)
		if err != nil {
			return nil, errors.NewContent("bad card end: " + err.Error())
		}
		if end < start {
			return nil, errors.NewContent(fmt.Sprintf("card ends before it starts (%s > %s)", w.Start, w.End))
		}
		title := strings.TrimSpace(w.Title)
		if title == "" {
			return nil, errors.NewContent("card without title")
		}
		cards = append(cards, CardDraft{
			StartSeconds: start,
			EndSeconds:   end,
			Title:        title,
			Description:  strings.TrimSpace(w.Description),
			Category:     normalizeCategory(w.Category, categories),
		})
	}
	return cards, nil
}

func normalizeCategory(raw string, categories []string) string {
	raw = strings.TrimSpace(raw)
	for _, c := range categories {
		if strings.EqualFold(c, raw) {
			return c
		}
	}
	if len(categories) > 0 {
		return categories[len(categories)-1]
	}
	return raw
}

// extractJSONArray returns the outermost [...] span of raw, tolerating
// markdown fences and surrounding prose.
func extractJSONArray(raw string) string {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}

// extractJSONObject returns the outermost {...} span of raw.
func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}
