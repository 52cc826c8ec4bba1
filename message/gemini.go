package message

import (
	"context"
	"errors"
	"fmt"
	"os"

	"google.golang.org/genai"
)

// GeminiCaller implements Caller on the Gemini API.
type GeminiCaller struct {
	client *genai.Client
}

// NewGeminiCaller creates a Gemini-backed caller and verifies the key with
// one cheap API call, so a bad key aborts the run instead of silently
// turning every wish into the fallback.
func NewGeminiCaller(ctx context.Context, apiKey string) (*GeminiCaller, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if err := verifyCredentials(ctx, client); err != nil {
		return nil, err
	}
	return &GeminiCaller{client: client}, nil
}

// verifyCredentials lists models once; listing needs nothing beyond a valid
// key and does not consume generation quota.
func verifyCredentials(ctx context.Context, client *genai.Client) error {
	if _, err := client.Models.List(ctx, &genai.ListModelsConfig{}); err != nil {
		return fmt.Errorf("verify gemini credentials: %w", err)
	}
	return nil
}

// Generate produces text from one model. When imagePath is set the cached
// image is sent alongside the prompt.
func (g *GeminiCaller) Generate(ctx context.Context, model, prompt, imagePath string) (string, error) {
	contents := genai.Text(prompt)
	if imagePath != "" {
		// The cached image is optional context; an unreadable file means
		// generating from the prompt alone.
		if data, err := os.ReadFile(imagePath); err == nil {
			parts := []*genai.Part{
				genai.NewPartFromBytes(data, "image/jpeg"),
				genai.NewPartFromText(prompt),
			}
			contents = []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
		}
	}

	result, err := g.client.Models.GenerateContent(ctx, model, contents, nil)
	if err != nil {
		return "", err
	}
	if result == nil || len(result.Candidates) == 0 ||
		result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("empty response")
	}
	return result.Candidates[0].Content.Parts[0].Text, nil
}
