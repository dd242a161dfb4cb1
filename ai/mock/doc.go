// Package mock provides test doubles for the ai interfaces.
//
//	mockEmbedder := mock.NewMockEmbedder()
//	mockEmbedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
//	    return nil, errors.New("model offline")
//	}
//	count := mockEmbedder.CallCount()
//
// Without injected functions MockEmbedder returns deterministic unit
// vectors of width Dimension derived from an FNV hash of the text.
package mock
