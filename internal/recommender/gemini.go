package recommender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const geminiAPI = "https://generativelanguage.googleapis.com/v1beta/models"

// Gemini calls the Google Generative Language API directly.
type Gemini struct {
	apiKey string
	model  string
	client *http.Client
}

// NewGemini creates a new Gemini API client. A zero timeout defaults to 30s.
func NewGemini(apiKey, model string, timeout time.Duration) *Gemini {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gemini{
		apiKey: apiKey,
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

// Propose sends the schedule state to Gemini and parses the JSON proposal out
// of the model response.
func (g *Gemini) Propose(ctx context.Context, req ProposalRequest) (*Proposal, error) {
	prompt, err := buildPrompt(req)
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	reqBody := map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]string{{"text": prompt}}},
		},
		"generationConfig": map[string]any{
			"temperature":      0.4,
			"responseMimeType": "application/json",
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent?key=%s", geminiAPI, g.model, g.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gemini api status %d: %s", resp.StatusCode, respBody)
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("gemini api returned no candidates")
	}

	return parseProposal(result.Candidates[0].Content.Parts[0].Text)
}

// parseProposal decodes the proposal JSON emitted by the model, tolerating a
// markdown code fence around it.
func parseProposal(text string) (*Proposal, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
	}
	var p Proposal
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return nil, fmt.Errorf("decode proposal: %w", err)
	}
	return &p, nil
}

// buildPrompt renders the request into the instruction sent to the model. The
// schedule state is embedded as JSON so the model reasons over exact ids and
// timestamps.
func buildPrompt(req ProposalRequest) (string, error) {
	state, err := json.Marshal(map[string]any{
		"items":     req.Items,
		"conflicts": req.Conflicts,
		"rollups":   req.Rollups,
	})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("You are a wellness schedule optimizer. Rearrange the schedule below ")
	b.WriteString("to reduce conflicts and improve adherence, using the strategy ")
	fmt.Fprintf(&b, "%q.\n\n", string(req.Type))
	b.WriteString("Current state (items, unresolved conflicts, recent daily rollups):\n")
	b.Write(state)
	b.WriteString("\n\n")
	if req.Preferences != "" {
		fmt.Fprintf(&b, "User preferences: %s\n\n", req.Preferences)
	}
	b.WriteString("Rules:\n")
	b.WriteString("- Only move items listed above; never invent item ids.\n")
	b.WriteString("- Keep durations between 5 and 480 minutes.\n")
	b.WriteString("- Moved items must not overlap each other or unmoved items.\n\n")
	b.WriteString("Respond with JSON only, shaped as ")
	b.WriteString(`{"moves":[{"item_id":"...","start_time":"RFC3339","duration":60}],`)
	b.WriteString(`"score":0-100,"rationale":"..."}`)
	return b.String(), nil
}
