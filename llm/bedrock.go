package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/itsneelabh/hitl-orchestrator/core"
)

// BedrockGenerator implements Generator against AWS Bedrock's Converse
// API. Grounded on the teacher's ai/providers/bedrock/client.go, adapted
// from core.AIClient/core.AIOptions to this package's Generator/
// GenerateOptions and from the content-only response to the richer
// {text, tokens_used, model_confidence} contract spec §6.2 requires.
type BedrockGenerator struct {
	client      *bedrockruntime.Client
	model       string
	maxTokens   int
	temperature float32
	logger      core.Logger
}

// NewBedrockGenerator wraps an already-configured Bedrock runtime client.
func NewBedrockGenerator(client *bedrockruntime.Client, model string, maxTokens int, logger core.Logger) *BedrockGenerator {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &BedrockGenerator{client: client, model: model, maxTokens: maxTokens, logger: logger}
}

// Generate calls Bedrock's Converse API once (retries are the
// RetryingGenerator decorator's job, not this adapter's).
func (g *BedrockGenerator) Generate(ctx context.Context, prompt, systemInstructions string, opts GenerateOptions) (GenerateResult, error) {
	if opts.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Deadline)
		defer cancel()
	}

	messages := []types.Message{
		{
			Role: types.ConversationRoleUser,
			Content: []types.ContentBlock{
				&types.ContentBlockMemberText{Value: prompt},
			},
		},
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(g.model),
		Messages: messages,
	}

	if systemInstructions != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: systemInstructions},
		}
	}

	maxTokens := g.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	inferenceConfig := &types.InferenceConfiguration{}
	configSet := false
	if maxTokens > 0 {
		inferenceConfig.MaxTokens = aws.Int32(int32(maxTokens))
		configSet = true
	}
	if opts.Temperature > 0 {
		inferenceConfig.Temperature = aws.Float32(opts.Temperature)
		configSet = true
	}
	if configSet {
		input.InferenceConfig = inferenceConfig
	}

	start := time.Now()
	output, err := g.client.Converse(ctx, input)
	if err != nil {
		return GenerateResult{}, classifyBedrockError(err)
	}

	if output.Output == nil {
		return GenerateResult{}, fmt.Errorf("llm.BedrockGenerator: %w: empty output", core.ErrCollaboratorTerminal)
	}

	var text string
	switch v := output.Output.(type) {
	case *types.ConverseOutputMemberMessage:
		for _, block := range v.Value.Content {
			if b, ok := block.(*types.ContentBlockMemberText); ok {
				text += b.Value
			}
		}
	default:
		return GenerateResult{}, fmt.Errorf("llm.BedrockGenerator: %w: unexpected output type", core.ErrCollaboratorTerminal)
	}
	if text == "" {
		return GenerateResult{}, fmt.Errorf("llm.BedrockGenerator: %w: no text content", core.ErrCollaboratorTerminal)
	}

	result := GenerateResult{Text: text}
	if output.Usage != nil {
		result.TokensUsed = int(aws.ToInt32(output.Usage.TotalTokens))
	}

	g.logger.Info("bedrock generate completed", map[string]interface{}{
		"model":       g.model,
		"tokens_used": result.TokensUsed,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return result, nil
}

// classifyBedrockError maps AWS SDK errors onto the transient/terminal
// distinction spec §6.2 requires: throttling, timeouts, and 5xx are
// transient (worth retrying); validation and access errors are terminal.
func classifyBedrockError(err error) error {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		status := respErr.HTTPStatusCode()
		if status == 429 || status >= 500 {
			return fmt.Errorf("bedrock converse error: %w: %v", core.ErrCollaboratorTransient, err)
		}
		return fmt.Errorf("bedrock converse error: %w: %v", core.ErrCollaboratorTerminal, err)
	}
	return fmt.Errorf("bedrock converse error: %w: %v", core.ErrCollaboratorTransient, err)
}
