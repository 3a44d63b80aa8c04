package catalog

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/m3rciful/edubot/core/telegram/format"
	"github.com/m3rciful/edubot/internal/apperr"
)

// topicDocument mirrors the upload file format. Pointers distinguish
// absent optional fields from zero values.
type topicDocument struct {
	Name      string     `json:"name"`
	Emoji     *string    `json:"emoji,omitempty"`
	Order     *int       `json:"order,omitempty"`
	Premium   *bool      `json:"premium,omitempty"`
	Theory    []string   `json:"theory,omitempty"`
	Questions []Question `json:"questions"`
}

// ParseDocument decodes an uploaded topic document and applies defaults
// for absent optional fields. Structural validation happens in Upload;
// this only rejects undecodable input.
func ParseDocument(data []byte) (*Topic, error) {
	var doc topicDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}

	t := &Topic{
		Name:      strings.TrimSpace(doc.Name),
		Emoji:     strings.TrimSpace(format.DerefString(doc.Emoji, "")),
		Order:     format.DerefInt(doc.Order, -1),
		Premium:   format.DerefBool(doc.Premium, false),
		Theory:    doc.Theory,
		Questions: doc.Questions,
	}
	if t.Theory == nil {
		t.Theory = []string{}
	}
	return t, nil
}

// ExportJSON serializes a topic unchanged for download. Read-only.
func ExportJSON(t *Topic) ([]byte, error) {
	if t == nil {
		return nil, apperr.ErrNotFound
	}
	return json.MarshalIndent(t, "", "  ")
}

// questionLineFields is the exact field count of the inline question
// syntax: question|opt1|opt2|opt3|opt4|correctIndex.
const questionLineFields = 6

// ParseQuestionLine parses the pipe-delimited single-question syntax.
// Exactly six fields; the correct index is constrained to the four
// options, 0 through 3.
func ParseQuestionLine(line string) (Question, error) {
	parts := strings.Split(line, "|")
	if len(parts) != questionLineFields {
		return Question{}, fmt.Errorf("%w: expected %d pipe-delimited fields, got %d",
			apperr.ErrValidation, questionLineFields, len(parts))
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if parts[0] == "" {
		return Question{}, fmt.Errorf("%w: question text is empty", apperr.ErrValidation)
	}
	for i := 1; i <= 4; i++ {
		if parts[i] == "" {
			return Question{}, fmt.Errorf("%w: option %d is empty", apperr.ErrValidation, i)
		}
	}
	correct, err := strconv.Atoi(parts[5])
	if err != nil {
		return Question{}, fmt.Errorf("%w: correct index %q is not a number", apperr.ErrValidation, parts[5])
	}
	if correct < 0 || correct > 3 {
		return Question{}, fmt.Errorf("%w: correct index %d out of range [0, 3]", apperr.ErrValidation, correct)
	}
	return Question{
		Question: parts[0],
		Options:  []string{parts[1], parts[2], parts[3], parts[4]},
		Correct:  correct,
	}, nil
}
