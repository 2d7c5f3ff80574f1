package invoke

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/metalagman/gridca/internal/lattice"
	"github.com/metalagman/gridca/internal/rules"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// GeminiOptions configures the Gemini-backed collaborator.
type GeminiOptions struct {
	Model       string
	Temperature float32
	// CallTimeout bounds a single collaborator call. A timeout surfaces as an
	// error which the scheduler degrades to "no result this cycle".
	CallTimeout time.Duration
}

// Gemini invokes a generative model for per-cell computation. The genai client
// is safe for concurrent use, so one Gemini instance serves the whole grid.
type Gemini struct {
	client *genai.Client
	opts   GeminiOptions
}

// NewGemini creates a Gemini invoker. Credentials come from the environment
// (GEMINI_API_KEY / GOOGLE_API_KEY), per the genai client defaults.
func NewGemini(ctx context.Context, opts GeminiOptions) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	if opts.Model == "" {
		opts.Model = "gemini-2.0-flash"
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 60 * time.Second
	}
	return &Gemini{client: client, opts: opts}, nil
}

// Invoke implements Invoker. The model is asked for a single JSON object; a
// response that is not valid JSON is wrapped as a plain text payload rather
// than dropped, since downstream routing only needs the kind tag.
func (g *Gemini) Invoke(ctx context.Context, cell CellInfo, action rules.Action, fragment *lattice.Fragment, neighbors []lattice.Output) (lattice.Payload, error) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.CallTimeout)
	defer cancel()

	prompt := buildPrompt(cell, action, fragment, neighbors)
	cfg := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(g.opts.Temperature),
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemPrompt(cell, action)}}},
	}
	contents := []*genai.Content{{Role: genai.RoleUser, Parts: []*genai.Part{{Text: prompt}}}}

	resp, err := g.client.Models.GenerateContent(ctx, g.opts.Model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("generate content for %s/%s: %w", cell.Domain, cell.AgentType, err)
	}
	text := extractText(resp)
	if text == "" {
		return nil, nil
	}

	payload := parsePayload(text)
	if action == rules.ActionCritique {
		if raw, ok := payload["score"]; ok {
			if score, ok := NormalizeScore(raw); ok {
				payload["score"] = score
			}
		}
	}
	return payload, nil
}

func systemPrompt(cell CellInfo, action rules.Action) string {
	return fmt.Sprintf(
		"You are the %s agent %q in domain %q on an agent lattice. "+
			"Perform the %s action on the given work item using only the local "+
			"context provided. Respond with a single JSON object.",
		cell.Role, cell.AgentType, cell.Domain, action)
}

func buildPrompt(cell CellInfo, action rules.Action, fragment *lattice.Fragment, neighbors []lattice.Output) string {
	var b strings.Builder
	fmt.Fprintf(&b, "action: %s\nstate: %s\n", action, cell.State)
	if fragment != nil {
		fmt.Fprintf(&b, "work kind: %s (iteration %d)\n", fragment.Kind, fragment.Iteration)
		if content, err := json.Marshal(fragment.Content); err == nil {
			fmt.Fprintf(&b, "work content: %s\n", content)
		}
	}
	kinds := make([]string, 0, len(neighbors))
	for _, n := range neighbors {
		if !n.Empty() {
			kinds = append(kinds, n.Kind)
		}
	}
	if len(kinds) > 0 {
		fmt.Fprintf(&b, "neighbor outputs: %s\n", strings.Join(kinds, ", "))
	}
	return b.String()
}

func parsePayload(text string) lattice.Payload {
	text = stripFence(text)
	var payload lattice.Payload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		log.Debug().Err(err).Msg("collaborator response is not JSON, wrapping as text")
		return lattice.Payload{"text": text}
	}
	return payload
}

// stripFence removes a single wrapping markdown code fence, which models emit
// even when asked for bare JSON.
func stripFence(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) >= 2 &&
		strings.HasPrefix(strings.TrimSpace(lines[0]), "```") &&
		strings.TrimSpace(lines[len(lines)-1]) == "```" {
		return strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
	}
	return text
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			b.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(b.String())
}
