package validate

import (
	"github.com/matriculahub/go-intake-pipeline/internal/domain"
	"github.com/matriculahub/go-intake-pipeline/internal/extract"
)

// comparability lists, per field, the document types that carry the same
// real-world value. A field is only compared across two documents when both
// types appear in its set; document numbers are issuer-specific and never
// cross-compared.
var comparability = map[string][]domain.DocumentType{
	extract.FieldName: {
		domain.DocTypeRG,
		domain.DocTypeCPF,
		domain.DocTypeBirthCertificate,
		domain.DocTypeProofOfAddress,
		domain.DocTypeSchoolRecord,
	},
	extract.FieldBirthDate: {
		domain.DocTypeRG,
		domain.DocTypeCPF,
		domain.DocTypeBirthCertificate,
		domain.DocTypeSchoolRecord,
	},
	extract.FieldAddress: {
		domain.DocTypeRG,
		domain.DocTypeProofOfAddress,
	},
}

// Comparable reports whether a field carries the same underlying value on
// both document types.
func Comparable(field string, a, b domain.DocumentType) bool {
	types, ok := comparability[field]
	if !ok {
		return false
	}
	return containsType(types, a) && containsType(types, b)
}

func containsType(types []domain.DocumentType, t domain.DocumentType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}
