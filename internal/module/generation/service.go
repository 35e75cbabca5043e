package generation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nevisai/server/internal/module/credits"
	apperrors "github.com/nevisai/server/internal/shared/errors"
)

// Generation types recorded on usage entries.
const (
	TypeImage = "image"
	TypeText  = "text"
)

// modelSpec maps a public model version to the proxy model behind it and
// the credits one generation costs.
type modelSpec struct {
	Model     string
	Type      string
	Credits   int64
	ModelCost float64
}

// modelVersions is the public catalog. Versions front proxy models so the
// backing model can change without breaking clients.
var modelVersions = map[string]modelSpec{
	"revo-1.0": {Model: "gemini-2.5-flash-image-preview", Type: TypeImage, Credits: 2, ModelCost: 0.039},
	"revo-1.5": {Model: "gemini-2.5-flash", Type: TypeText, Credits: 1, ModelCost: 0.002},
	"revo-2.0": {Model: "gemini-2.5-flash-image-preview", Type: TypeImage, Credits: 3, ModelCost: 0.039},
}

// ProxyClient is the generation proxy surface used by the service.
type ProxyClient interface {
	GenerateImage(ctx context.Context, userID, prompt, model string, maxTokens int, temperature float64) (*ProxyResult, error)
	GenerateText(ctx context.Context, userID, prompt, model string, maxTokens int, temperature float64) (*ProxyResult, error)
}

// ContentStore persists generated images and returns their public URLs.
type ContentStore interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

// Service runs the generation pipeline: gate on balance, generate, store,
// then debit. The debit comes after generation, matching the rule that a
// user is only charged for content actually produced; the ledger's own
// no-overdraft check still has the final word.
type Service interface {
	Generate(ctx context.Context, userID uuid.UUID, req *GenerateRequest) (*GenerateResponse, error)
}

type service struct {
	client  ProxyClient
	store   ContentStore
	credits credits.Service
	logger  *zap.Logger
}

// NewService creates the generation service. store may be nil when object
// storage is not configured; image generations then return inline data.
func NewService(client ProxyClient, store ContentStore, creditsService credits.Service, logger *zap.Logger) Service {
	return &service{
		client:  client,
		store:   store,
		credits: creditsService,
		logger:  logger,
	}
}

func (s *service) Generate(ctx context.Context, userID uuid.UUID, req *GenerateRequest) (*GenerateResponse, error) {
	if req.Prompt == "" {
		return nil, ErrEmptyPrompt
	}
	spec, ok := modelVersions[req.ModelVersion]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModelVersion, req.ModelVersion)
	}

	// Cheap pre-flight: reject before calling the provider when the
	// balance clearly cannot afford this generation.
	status, err := s.credits.CheckAccess(ctx, userID)
	if err != nil {
		return nil, err
	}
	if status.RemainingCredits < spec.Credits {
		return nil, apperrors.ErrInsufficientCredits
	}

	var result *ProxyResult
	switch spec.Type {
	case TypeImage:
		result, err = s.client.GenerateImage(ctx, userID.String(), req.Prompt, spec.Model, req.MaxTokens, req.Temperature)
	default:
		result, err = s.client.GenerateText(ctx, userID.String(), req.Prompt, spec.Model, req.MaxTokens, req.Temperature)
	}
	if err != nil {
		return nil, err
	}

	resp := &GenerateResponse{
		ModelVersion:   req.ModelVersion,
		GenerationType: spec.Type,
		CreditsUsed:    spec.Credits,
	}
	if spec.Type == TypeImage {
		resp.ContentURL, err = s.storeImage(ctx, result.Data)
		if err != nil {
			return nil, err
		}
	} else {
		resp.Content = result.Data
	}

	consumeResult, err := s.credits.Consume(ctx, &credits.ConsumeRequest{
		UserID:         userID,
		Credits:        spec.Credits,
		Feature:        spec.Type + "_generation",
		ModelVersion:   req.ModelVersion,
		ModelCost:      spec.ModelCost,
		GenerationType: spec.Type,
		Details:        usageDetails(result.ModelUsed, req.Prompt),
	})
	if err != nil {
		return nil, err
	}
	if !consumeResult.Allowed {
		// Raced out by a concurrent debit: the pre-flight balance was
		// spent before this debit landed. The content is discarded rather
		// than handed out unpaid.
		s.logger.Warn("generation denied after production",
			zap.String("user_id", userID.String()),
			zap.String("model_version", req.ModelVersion))
		return nil, apperrors.ErrInsufficientCredits
	}

	resp.RemainingCredits = consumeResult.Remaining
	return resp, nil
}

func (s *service) storeImage(ctx context.Context, data string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", fmt.Errorf("decode generated image: %w", err)
	}
	if s.store == nil {
		return "data:image/png;base64," + data, nil
	}
	return s.store.Upload(ctx, decoded, "image/png")
}

func usageDetails(modelUsed, prompt string) string {
	details, err := json.Marshal(map[string]any{
		"model_used":   modelUsed,
		"prompt_chars": len(prompt),
	})
	if err != nil {
		return "{}"
	}
	return string(details)
}
