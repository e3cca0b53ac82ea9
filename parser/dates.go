package parser

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/aluiziolira/meli-harvester/models"
)

// ParseThumbnailDate reads the MMYYYY stamp that prefixes the last
// underscore-delimited token of a thumbnail URL, e.g. ".../D_NQ_NP_9-MCO1_062023-I.jpg"
// yields ("06", "2023"). Anything that is not a plausible stamp yields nils.
func ParseThumbnailDate(thumbnail string) (month, year *string) {
	thumbnail = strings.TrimSpace(thumbnail)
	if thumbnail == "" {
		return nil, nil
	}
	name := path.Base(thumbnail)
	idx := strings.LastIndex(name, "_")
	if idx < 0 {
		return nil, nil
	}
	token := name[idx+1:]
	if len(token) < 6 || !isDigits(token[:6]) {
		return nil, nil
	}
	m, y := token[:2], token[2:6]
	if m < "01" || m > "12" {
		return nil, nil
	}
	return &m, &y
}

type questionSearch struct {
	Total     *int `json:"total"`
	Questions []struct {
		DateCreated string `json:"date_created"`
	} `json:"questions"`
}

// ParseQuestionActivity decodes a question search response sorted by
// creation date. The first question's YYYY-MM-DD prefix gives the year and
// month; an empty list leaves both nil and keeps the reported total.
func ParseQuestionActivity(body []byte) (models.QuestionFields, error) {
	var resp questionSearch
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.QuestionFields{}, fmt.Errorf("decode question search: %w", err)
	}

	fields := models.QuestionFields{TotalQuestions: resp.Total}
	if len(resp.Questions) == 0 {
		return fields, nil
	}
	parts := strings.SplitN(resp.Questions[0].DateCreated, "-", 3)
	if len(parts) < 2 || len(parts[0]) != 4 || !isDigits(parts[0]) {
		return fields, nil
	}
	year, month := parts[0], parts[1]
	if len(month) > 2 {
		month = month[:2]
	}
	fields.YearCreated = &year
	fields.MonthCreated = &month
	return fields, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
