package parser

import (
	"fmt"
	"strings"

	"github.com/aluiziolira/meli-harvester/models"
)

// ValidateRecord ensures a record can be keyed and attributed to a category.
// Attribute fields are optional and never fail validation.
func ValidateRecord(r *models.ProductRecord) error {
	if r == nil {
		return fmt.Errorf("record is nil")
	}
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("record missing id")
	}
	if strings.TrimSpace(r.CategoryName) == "" {
		return fmt.Errorf("record %s missing category name", r.ID)
	}
	return nil
}
