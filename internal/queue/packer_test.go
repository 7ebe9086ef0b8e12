package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/artifactchat/internal/config"
	"github.com/agentoven/artifactchat/pkg/models"
)

func records(n, size int) models.ResultSet {
	set := models.ResultSet{Count: n * 10}
	for i := 0; i < n; i++ {
		set.Results = append(set.Results, models.ResultRecord{
			"id":      fmt.Sprintf("r%02d", i),
			"content": strings.Repeat("a", size),
		})
	}
	return set
}

func ids(env *models.ResultEnvelope) []string {
	out := make([]string, len(env.Value.Results))
	for i, r := range env.Value.Results {
		out[i] = r["id"].(string)
	}
	return out
}

func TestPackerStaysUnderCeilingAndKeepsPrefix(t *testing.T) {
	for _, strategy := range []string{"test-before-append", "build-then-trim"} {
		t.Run(strategy, func(t *testing.T) {
			p, err := NewPacker(config.PackingConfig{MaxBytes: 2000, FieldCap: 1000, Strategy: strategy})
			require.NoError(t, err)

			set := records(20, 300)
			body, env, err := p.Pack(set, "corr-1")
			require.NoError(t, err)
			assert.LessOrEqual(t, len(body), 2000)
			require.NotEmpty(t, env.Value.Results)
			assert.Less(t, len(env.Value.Results), 20)

			for i, id := range ids(env) {
				assert.Equal(t, fmt.Sprintf("r%02d", i), id)
			}
			assert.Equal(t, 200, env.Value.Count)

			var decoded models.ResultEnvelope
			require.NoError(t, json.Unmarshal(body, &decoded))
			assert.Equal(t, "corr-1", decoded.CorrelationID)
			assert.Len(t, decoded.Value.Results, len(env.Value.Results))
		})
	}
}

func TestPackerStrategiesAgreeOnFittingSets(t *testing.T) {
	a, err := NewPacker(config.PackingConfig{MaxBytes: 60000, FieldCap: 1000, Strategy: "test-before-append"})
	require.NoError(t, err)
	b, err := NewPacker(config.PackingConfig{MaxBytes: 60000, FieldCap: 1000, Strategy: "build-then-trim"})
	require.NoError(t, err)

	set := records(5, 100)
	bodyA, _, err := a.Pack(set, "c")
	require.NoError(t, err)
	bodyB, _, err := b.Pack(set, "c")
	require.NoError(t, err)
	assert.JSONEq(t, string(bodyA), string(bodyB))
}

func TestPackerTruncatesLongFields(t *testing.T) {
	p, err := NewPacker(config.PackingConfig{MaxBytes: 60000, FieldCap: 10})
	require.NoError(t, err)

	set := models.ResultSet{Results: []models.ResultRecord{{"id": "r1", "content": "héllo wörld and more", "score": 1.5}}, Count: 1}
	_, env, err := p.Pack(set, "")
	require.NoError(t, err)
	assert.Equal(t, "héllo wörl...", env.Value.Results[0]["content"])
	assert.Equal(t, 1.5, env.Value.Results[0]["score"])
	// The caller's records are not modified.
	assert.Equal(t, "héllo wörld and more", set.Results[0]["content"])
}

func TestPackerEmptyResults(t *testing.T) {
	p, err := NewPacker(config.PackingConfig{MaxBytes: 100, FieldCap: 10})
	require.NoError(t, err)

	body, _, err := p.Pack(models.ResultSet{}, "c")
	require.NoError(t, err)
	assert.JSONEq(t, `{"Value":{"results":[],"count":0},"CorrelationId":"c"}`, string(body))

	_, _, err = p.Pack(models.ResultSet{}, strings.Repeat("c", 200))
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestNewPackerValidates(t *testing.T) {
	_, err := NewPacker(config.PackingConfig{MaxBytes: 0})
	assert.Error(t, err)
	_, err = NewPacker(config.PackingConfig{MaxBytes: config.MaxQueueMessageBytes + 1})
	assert.Error(t, err)
	_, err = NewPacker(config.PackingConfig{MaxBytes: 100, Strategy: "random"})
	assert.Error(t, err)
}
