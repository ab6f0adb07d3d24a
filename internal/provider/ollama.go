package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/vegerot/dayflow/internal/errors"
)

// FrameSampler provides the video probing the decomposed provider needs.
// Satisfied by timelapse.Encoder; stubbed in tests.
type FrameSampler interface {
	ExtractFrames(ctx context.Context, inPath string, n int, dir string) ([]string, error)
	ProbeDuration(ctx context.Context, inPath string) (int64, error)
}

// ollamaProvider is the decomposed shape: sample N frames, describe each
// with one vision call, fold the descriptions into observations with a
// merge call, then synthesize per-observation cards plus pairwise
// merge-decision calls. Call count scales with sampling density.
type ollamaProvider struct {
	host    string
	model   string
	client  *http.Client
	sampler FrameSampler
	frames  int
	workDir string
}

func (p *ollamaProvider) Name() string {
	return fmt.Sprintf("Ollama (%s)", p.model)
}

func (p *ollamaProvider) Transcribe(ctx context.Context, videoPath string) ([]Observation, []CallLog, error) {
	var logs []CallLog

	span, err := p.sampler.ProbeDuration(ctx, videoPath)
	if err != nil {
		return nil, logs, errors.NewStorage(err)
	}

	frameDir := filepath.Join(p.workDir, "frames", strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath)))
	framePaths, err := p.sampler.ExtractFrames(ctx, videoPath, p.frames, frameDir)
	if err != nil {
		return nil, logs, errors.NewStorage(err)
	}
	defer os.RemoveAll(frameDir)
	if len(framePaths) == 0 {
		return nil, logs, errors.NewContent("no frames sampled from " + videoPath)
	}

	descriptions := make([]string, 0, len(framePaths))
	for _, framePath := range framePaths {
		desc, log, err := p.describeFrame(ctx, framePath)
		logs = append(logs, log)
		if err != nil {
			return nil, logs, err
		}
		descriptions = append(descriptions, desc)
	}

	raw, log, err := p.generate(ctx, "merge_frames", buildFrameMergePrompt(descriptions, span), nil)
	logs = append(logs, log)
	if err != nil {
		return nil, logs, err
	}

	observations, err := parseObservations(raw)
	if err != nil {
		return nil, logs, err
	}
	// Clamp to the probed span: small models drift past the end.
	for i := range observations {
		if observations[i].EndSeconds > span {
			observations[i].EndSeconds = span
		}
	}
	return observations, logs, nil
}

func (p *ollamaProvider) SynthesizeCards(ctx context.Context, observations []Observation, pctx Context) ([]CardDraft, []CallLog, error) {
	if len(observations) == 0 {
		return nil, nil, errors.NewContent("no observations to synthesize")
	}

	var logs []CallLog
	cards := make([]CardDraft, 0, len(observations))

	for _, o := range observations {
		card, log, err := p.titleCard(ctx, o, pctx.Categories)
		logs = append(logs, log)
		if err != nil {
			return nil, logs, err
		}
		cards = append(cards, card)
	}

	merged, mergeLogs, err := p.mergeAdjacent(ctx, cards)
	logs = append(logs, mergeLogs...)
	if err != nil {
		return nil, logs, err
	}
	return merged, logs, nil
}

// describeFrame issues one vision call for a single sampled frame.
func (p *ollamaProvider) describeFrame(ctx context.Context, framePath string) (string, CallLog, error) {
	data, err := os.ReadFile(framePath)
	if err != nil {
		return "", CallLog{Operation: "describe_frame", RequestPayload: framePath,
			Status: "failed: " + err.Error(), Attempt: 1}, errors.NewStorage(err)
	}
	image := base64.StdEncoding.EncodeToString(data)
	return p.generate(ctx, "describe_frame", buildFramePrompt(), []string{image})
}

// titleCard turns one observation into a draft card.
func (p *ollamaProvider) titleCard(ctx context.Context, o Observation, categories []string) (CardDraft, CallLog, error) {
	prompt := buildTitlePrompt(o)
	if len(categories) > 0 {
		prompt += fmt.Sprintf("\nAlso pick a \"category\" from: %s", strings.Join(categories, ", "))
	}

	raw, log, err := p.generate(ctx, "title_card", prompt, nil)
	if err != nil {
		return CardDraft{}, log, err
	}

	payload := extractJSONObject(raw)
	if payload == "" {
		return CardDraft{}, log, errors.NewContent("no JSON object in title response")
	}
	var parsed struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Category    string `json:"category"`
	}
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return CardDraft{}, log, errors.NewContent("title response is not valid JSON: " + err.Error())
	}
	if strings.TrimSpace(parsed.Title) == "" {
		return CardDraft{}, log, errors.NewContent("title response missing title")
	}

	return CardDraft{
		StartSeconds: o.StartSeconds,
		EndSeconds:   o.EndSeconds,
		Title:        strings.TrimSpace(parsed.Title),
		Description:  strings.TrimSpace(parsed.Description),
		Category:     normalizeCategory(parsed.Category, categories),
	}, log, nil
}

// mergeAdjacent folds consecutive cards the model judges to be one
// continuous activity. One decision call per adjacent pair.
func (p *ollamaProvider) mergeAdjacent(ctx context.Context, cards []CardDraft) ([]CardDraft, []CallLog, error) {
	if len(cards) < 2 {
		return cards, nil, nil
	}

	var logs []CallLog
	merged := []CardDraft{cards[0]}

	for _, next := range cards[1:] {
		current := &merged[len(merged)-1]

		raw, log, err := p.generate(ctx, "merge_decision", buildMergeDecisionPrompt(*current, next), nil)
		logs = append(logs, log)
		if err != nil {
			return nil, logs, err
		}

		payload := extractJSONObject(raw)
		var decision struct {
			Merge bool `json:"merge"`
		}
		if payload == "" || json.Unmarshal([]byte(payload), &decision) != nil {
			return nil, logs, errors.NewContent("merge decision is not valid JSON")
		}

		if decision.Merge {
			current.EndSeconds = next.EndSeconds
			if next.Description != "" {
				current.Description = strings.TrimSpace(current.Description + "\n\n" + next.Description)
			}
		} else {
			merged = append(merged, next)
		}
	}
	return merged, logs, nil
}

// generate issues one /api/generate call, optionally with images.
func (p *ollamaProvider) generate(ctx context.Context, operation, prompt string, images []string) (string, CallLog, error) {
	payload := map[string]any{
		"model":  p.model,
		"prompt": prompt,
		"stream": false,
	}
	if len(images) > 0 {
		payload["images"] = images
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return "", CallLog{}, errors.NewInternal(err)
	}

	log := CallLog{
		Operation:      operation,
		RequestPayload: auditPayload(prompt, len(images)),
		Attempt:        1,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/api/generate", bytes.NewReader(buf))
	if err != nil {
		log.Status = "failed: " + err.Error()
		return "", log, errors.NewInternal(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		log.Status = "failed: " + err.Error()
		return "", log, errors.NewTransport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Status = "failed: " + err.Error()
		return "", log, errors.NewTransport(err)
	}
	log.ResponsePayload = string(body)

	if resp.StatusCode >= 400 {
		log.Status = "failed: " + resp.Status
		return "", log, errors.NewTransport(fmt.Errorf("ollama API error: %s (%s)", resp.Status, string(body)))
	}

	var parsed struct {
		Response string `json:"response"`
		Done     bool   `json:"done"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		log.Status = "failed: " + err.Error()
		return "", log, errors.NewContent("ollama response is not valid JSON: " + err.Error())
	}
	if parsed.Response == "" {
		log.Status = "failed: empty response"
		return "", log, errors.NewContent("ollama returned an empty response")
	}

	log.Status = "success"
	return strings.TrimSpace(parsed.Response), log, nil
}

// auditPayload keeps frame bytes out of the audit table.
func auditPayload(prompt string, imageCount int) string {
	if imageCount > 0 {
		return fmt.Sprintf("[%d image(s)] %s", imageCount, prompt)
	}
	return prompt
}
