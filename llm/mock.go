package llm

import "context"

// MockGenerator is a deterministic, in-process Generator for tests and
// for running the pipeline without a live Bedrock dependency.
type MockGenerator struct {
	Response GenerateResult
	Err      error
	Calls    []string
}

// NewMockGenerator returns a MockGenerator that always returns response.
func NewMockGenerator(response GenerateResult) *MockGenerator {
	return &MockGenerator{Response: response}
}

func (m *MockGenerator) Generate(ctx context.Context, prompt, systemInstructions string, opts GenerateOptions) (GenerateResult, error) {
	m.Calls = append(m.Calls, prompt)
	if m.Err != nil {
		return GenerateResult{}, m.Err
	}
	return m.Response, nil
}
