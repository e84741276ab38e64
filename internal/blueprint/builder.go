// Package blueprint freezes the per-attempt question and option order.
package blueprint

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"

	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
)

// SeedFor derives the shuffle seed from the attempt id, so the same attempt
// always gets the same permutation.
func SeedFor(attemptID uint) int64 {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "attempt:%d", attemptID)
	return int64(h.Sum64())
}

// Build orders questions by number and permutes the options of every
// multiple choice question with a Fisher-Yates shuffle driven by seed.
// Other question types pass through unchanged. The input is not modified.
func Build(questions []models.ExamQuestion, seed int64) (*models.Blueprint, error) {
	ordered := make([]models.ExamQuestion, len(questions))
	copy(ordered, questions)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Number != ordered[j].Number {
			return ordered[i].Number < ordered[j].Number
		}
		return ordered[i].ID < ordered[j].ID
	})

	rng := rand.New(rand.NewSource(seed))
	bp := &models.Blueprint{
		Seed:  seed,
		Items: make([]models.BlueprintItem, 0, len(ordered)),
	}

	for i := range ordered {
		q := &ordered[i]
		item := models.BlueprintItem{
			Position:       i + 1,
			QuestionID:     q.ID,
			Number:         q.Number,
			Type:           q.Type,
			SlotKey:        q.SlotKey(),
			SituationIndex: q.SituationIndex,
			Prompt:         q.Prompt,
		}

		if q.Type == models.MultipleChoice {
			opts, err := q.ParsedOptions()
			if err != nil {
				return nil, err
			}
			shuffled := make([]models.QuestionOption, len(opts))
			copy(shuffled, opts)
			shuffle(rng, shuffled)

			item.Options = shuffled
			item.OptionOrder = make([]string, len(shuffled))
			for k, o := range shuffled {
				item.OptionOrder[k] = o.Key
			}
		}

		bp.Items = append(bp.Items, item)
	}

	return bp, nil
}

// Encode serializes the blueprint for storage on the attempt.
func Encode(bp *models.Blueprint) ([]byte, error) {
	data, err := json.Marshal(bp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode blueprint: %w", err)
	}
	return data, nil
}

func shuffle(rng *rand.Rand, opts []models.QuestionOption) {
	for i := len(opts) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		opts[i], opts[j] = opts[j], opts[i]
	}
}
