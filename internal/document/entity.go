package document

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// entityNamespace seeds the name-based UUIDs of legal entities so that
// re-imports converge on the same row.
var entityNamespace = uuid.MustParse("5b0b6f1e-7a55-4c3e-9d0a-1f4f2f8e6a11")

// LegalEntity is an individual or an organization identified by its document.
// The variant is carried by Doc.Kind(); there is no separate type per variant.
type LegalEntity struct {
	Doc      Document
	LegacyID string
	Name     string
}

// NewLegalEntity builds a LegalEntity from a raw document string.
func NewLegalEntity(rawDoc, legacyID, name string) (LegalEntity, error) {
	doc, err := Parse(rawDoc)
	if err != nil {
		return LegalEntity{}, eris.Wrapf(err, "document: legal entity %s", legacyID)
	}
	return LegalEntity{Doc: doc, LegacyID: legacyID, Name: strings.TrimSpace(name)}, nil
}

// Kind returns the variant tag.
func (e LegalEntity) Kind() Kind { return e.Doc.Kind() }

// ID returns the deterministic identifier of the entity, derived from its document.
func (e LegalEntity) ID() uuid.UUID {
	return uuid.NewSHA1(entityNamespace, []byte(e.Doc.Key()))
}

// SearchName returns the upper-cased, accent-free form of the name.
func (e LegalEntity) SearchName() string { return FoldName(e.Name) }

// FoldName strips diacritics, upper-cases, and collapses whitespace.
// "  José da Silva  Ltda" -> "JOSE DA SILVA LTDA".
func FoldName(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	return strings.Join(strings.Fields(strings.ToUpper(folded)), " ")
}
