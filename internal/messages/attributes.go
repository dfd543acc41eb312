package messages

import (
	"strings"
	"unicode/utf8"

	"msgstream/internal/constants"
	pkgerrors "msgstream/pkg/errors"
)

// ValidateAttributes enforces the limits applied to every attribute map
// before it reaches the bus or the store.
func ValidateAttributes(attrs map[string]string) error {
	if len(attrs) > constants.MaxAttributes {
		return pkgerrors.Validationf("too many attributes: %d (max %d)", len(attrs), constants.MaxAttributes).
			WithDetail("field", "attributes")
	}

	for k, v := range attrs {
		switch {
		case k == "":
			return pkgerrors.Validationf("attribute key must not be empty").WithDetail("field", "attributes")
		case len(k) > constants.MaxAttributeKeyLen:
			return pkgerrors.Validationf("attribute key exceeds %d bytes", constants.MaxAttributeKeyLen).
				WithDetail("field", "attributes")
		case len(v) > constants.MaxAttributeValueLen:
			return pkgerrors.Validationf("attribute %q value exceeds %d bytes", k, constants.MaxAttributeValueLen).
				WithDetail("field", "attributes")
		case !utf8.ValidString(k) || !utf8.ValidString(v):
			return pkgerrors.Validationf("attribute %q is not valid UTF-8", strings.ToValidUTF8(k, "?")).
				WithDetail("field", "attributes")
		}
	}

	return nil
}

// IdentityExtractor picks the dedup key and source label out of an attribute
// map. Keys are tried in order and the first non-blank value wins.
type IdentityExtractor struct {
	idKeys     []string
	sourceKeys []string
}

func NewIdentityExtractor(idKeys, sourceKeys []string) *IdentityExtractor {
	return &IdentityExtractor{idKeys: idKeys, sourceKeys: sourceKeys}
}

func (e *IdentityExtractor) Extract(attrs map[string]string) (clientMessageID *string, source string) {
	if id := firstValue(attrs, e.idKeys); id != "" {
		clientMessageID = &id
	}
	return clientMessageID, firstValue(attrs, e.sourceKeys)
}

func firstValue(attrs map[string]string, keys []string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(attrs[k]); v != "" {
			return v
		}
	}
	return ""
}
