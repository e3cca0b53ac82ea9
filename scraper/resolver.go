package scraper

import (
	"context"
	"strings"
	"unicode"

	"github.com/aluiziolira/meli-harvester/models"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// SiteLister enumerates marketplace sites.
type SiteLister interface {
	Sites(ctx context.Context) ([]models.Site, error)
}

// CanonicalSiteName folds case, strips diacritics and collapses whitespace,
// so "PERÚ", "peru" and " Perú " compare equal.
func CanonicalSiteName(name string) string {
	stripAccents := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(stripAccents, name)
	if err != nil {
		stripped = name
	}
	return cases.Fold().String(strings.Join(strings.Fields(stripped), " "))
}

// ResolveSite finds the site whose canonical name matches name.
func ResolveSite(ctx context.Context, lister SiteLister, name string) (models.Site, error) {
	sites, err := lister.Sites(ctx)
	if err != nil {
		return models.Site{}, err
	}

	want := CanonicalSiteName(name)
	available := make([]string, 0, len(sites))
	for _, site := range sites {
		if CanonicalSiteName(site.Name) == want {
			return site, nil
		}
		available = append(available, site.Name)
	}
	return models.Site{}, CountryNotFoundError{Name: name, Available: available}
}
