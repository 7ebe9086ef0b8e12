package queue

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/agentoven/artifactchat/internal/config"
	"github.com/agentoven/artifactchat/pkg/models"
	"github.com/rs/zerolog/log"
)

// Strategy selects how the packer keeps an envelope under the ceiling.
type Strategy string

const (
	// StrategyTestBeforeAppend serialises the envelope with each candidate
	// before committing it and stops at the first that would overflow.
	StrategyTestBeforeAppend Strategy = "test-before-append"
	// StrategyBuildThenTrim appends every candidate, then pops records
	// from the end until the envelope fits.
	StrategyBuildThenTrim Strategy = "build-then-trim"
)

// Ellipsis marks a truncated field value.
const Ellipsis = "..."

// Packer serialises result envelopes within a byte ceiling. Field-level
// truncation always runs first; envelope-level trimming only removes whole
// records and never reorders them.
type Packer struct {
	maxBytes int
	fieldCap int
	strategy Strategy
}

// NewPacker validates the packing configuration.
func NewPacker(cfg config.PackingConfig) (*Packer, error) {
	if cfg.MaxBytes <= 0 || cfg.MaxBytes > config.MaxQueueMessageBytes {
		return nil, fmt.Errorf("packer ceiling %d must be in (0, %d]", cfg.MaxBytes, config.MaxQueueMessageBytes)
	}
	s := Strategy(cfg.Strategy)
	if s == "" {
		s = StrategyTestBeforeAppend
	}
	if s != StrategyTestBeforeAppend && s != StrategyBuildThenTrim {
		return nil, fmt.Errorf("unknown packing strategy %q", cfg.Strategy)
	}
	return &Packer{maxBytes: cfg.MaxBytes, fieldCap: cfg.FieldCap, strategy: s}, nil
}

// Pack returns the serialised envelope and the records it kept. Count is
// carried through unchanged: it reports the search total, not the page.
func (p *Packer) Pack(set models.ResultSet, correlationID string) ([]byte, *models.ResultEnvelope, error) {
	candidates := make([]models.ResultRecord, len(set.Results))
	for i, r := range set.Results {
		candidates[i] = p.truncate(r)
	}

	env := &models.ResultEnvelope{
		Value:         models.ResultSet{Results: []models.ResultRecord{}, Count: set.Count},
		CorrelationID: correlationID,
	}

	var (
		body []byte
		err  error
	)
	switch p.strategy {
	case StrategyBuildThenTrim:
		body, err = p.buildThenTrim(env, candidates)
	default:
		body, err = p.testBeforeAppend(env, candidates)
	}
	if err != nil {
		return nil, nil, err
	}

	if dropped := len(candidates) - len(env.Value.Results); dropped > 0 {
		log.Warn().
			Str("correlation_id", correlationID).
			Str("strategy", string(p.strategy)).
			Int("kept", len(env.Value.Results)).
			Int("dropped", dropped).
			Int("bytes", len(body)).
			Msg("Result envelope truncated to fit the transport limit")
	}
	return body, env, nil
}

func (p *Packer) testBeforeAppend(env *models.ResultEnvelope, candidates []models.ResultRecord) ([]byte, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	if len(body) > p.maxBytes {
		return nil, fmt.Errorf("%w: empty envelope is %d bytes", ErrMessageTooLarge, len(body))
	}

	for _, c := range candidates {
		env.Value.Results = append(env.Value.Results, c)
		next, err := json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("marshal envelope: %w", err)
		}
		if len(next) > p.maxBytes {
			env.Value.Results = env.Value.Results[:len(env.Value.Results)-1]
			break
		}
		body = next
	}
	return body, nil
}

func (p *Packer) buildThenTrim(env *models.ResultEnvelope, candidates []models.ResultRecord) ([]byte, error) {
	env.Value.Results = append(env.Value.Results, candidates...)
	for {
		body, err := json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("marshal envelope: %w", err)
		}
		if len(body) <= p.maxBytes {
			return body, nil
		}
		if len(env.Value.Results) == 0 {
			return nil, fmt.Errorf("%w: empty envelope is %d bytes", ErrMessageTooLarge, len(body))
		}
		env.Value.Results = env.Value.Results[:len(env.Value.Results)-1]
	}
}

// truncate copies a record, shortening string fields longer than the cap.
func (p *Packer) truncate(r models.ResultRecord) models.ResultRecord {
	out := make(models.ResultRecord, len(r))
	for k, v := range r {
		if s, ok := v.(string); ok && p.fieldCap > 0 && utf8.RuneCountInString(s) > p.fieldCap {
			v = string([]rune(s)[:p.fieldCap]) + Ellipsis
		}
		out[k] = v
	}
	return out
}
