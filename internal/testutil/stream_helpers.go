package testutil

import (
	"context"

	"github.com/Belphemur/Sublynk/internal/models"
)

// CollectChunks consumes an aggregation stream until it closes.
// This is a test helper and should not be used in production code.
func CollectChunks(ctx context.Context, stream <-chan models.StreamResult[models.Chunk]) ([]models.Chunk, error) {
	var chunks []models.Chunk
	for {
		select {
		case result, ok := <-stream:
			if !ok {
				return chunks, nil
			}
			if result.Err != nil {
				return nil, result.Err
			}
			chunks = append(chunks, result.Value)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// ChunkSubtitles flattens chunks into their subtitles, keeping delivery order.
func ChunkSubtitles(chunks []models.Chunk) []models.Subtitle {
	var out []models.Subtitle
	for _, c := range chunks {
		out = append(out, c.Subtitles...)
	}
	return out
}

// DoneSources returns the sources that delivered their final chunk, in order.
func DoneSources(chunks []models.Chunk) []models.Source {
	var out []models.Source
	for _, c := range chunks {
		if c.Done {
			out = append(out, c.Source)
		}
	}
	return out
}
