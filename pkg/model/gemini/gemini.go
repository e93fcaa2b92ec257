package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/nstogner/lazymcp/pkg/domain"
	"github.com/nstogner/lazymcp/pkg/model"
)

// Provider implements model.Provider using the Google Gen AI SDK.
type Provider struct {
	client    *genai.Client
	modelName string
}

// Verify interface compliance.
var _ model.Provider = (*Provider)(nil)

// New creates a new Gemini provider answering with modelName.
func New(ctx context.Context, apiKey, modelName string) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Provider{client: client, modelName: modelName}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "gemini" }

// Generate streams the model's answer and collects it into a single Response.
func (p *Provider) Generate(ctx context.Context, instructions string, turns []model.Turn, tools []model.ToolSpec) (model.Response, error) {
	slog.Debug("Gemini.Generate", "model", p.modelName, "turnCount", len(turns))

	config := &genai.GenerateContentConfig{
		Tools: buildToolDeclarations(tools),
	}
	if instructions != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: instructions}},
		}
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		fullText strings.Builder
		resp     model.Response
	)
	for chunk, err := range p.client.Models.GenerateContentStream(streamCtx, p.modelName, toContents(turns), config) {
		if err != nil {
			return model.Response{}, err
		}
		if chunk == nil {
			continue
		}
		if chunk.UsageMetadata != nil {
			resp.TokensUsed = int(chunk.UsageMetadata.TotalTokenCount)
		}
		for _, cand := range chunk.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if part.Text != "" {
					fullText.WriteString(part.Text)
				}
				if fc := part.FunctionCall; fc != nil {
					id := fc.ID
					if id == "" {
						id = "call-" + uuid.New().String()
					}
					resp.ToolCalls = append(resp.ToolCalls, model.ToolCall{ID: id, Name: fc.Name, Args: fc.Args})
				}
			}
		}
	}

	if fullText.Len() > 0 {
		resp.Text = []string{fullText.String()}
	}
	return resp, nil
}

func toContents(turns []model.Turn) []*genai.Content {
	var contents []*genai.Content
	for _, t := range turns {
		var parts []*genai.Part
		if t.Text != "" {
			parts = append(parts, &genai.Part{Text: t.Text})
		}
		for _, c := range t.ToolCalls {
			parts = append(parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{ID: c.ID, Name: c.Name, Args: c.Args},
			})
		}
		if r := t.Result; r != nil {
			parts = append(parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       r.CallID,
					Name:     r.Name,
					Response: map[string]any{"result": r.Content},
				},
			})
		}
		if len(parts) == 0 {
			continue
		}

		role := "user"
		if t.Role == domain.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents
}

func buildToolDeclarations(tools []model.ToolSpec) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		props := make(map[string]*genai.Schema, len(t.Params))
		for name, desc := range t.Params {
			props[name] = &genai.Schema{Type: genai.TypeString, Description: desc}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: props,
				Required:   t.Required,
			},
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}
