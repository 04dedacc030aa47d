// Per-document-type field extractors and the document-type inference
// signatures. Patterns target the Brazilian document set the enrollment flow
// receives (RG, CPF, comprovante de residência, histórico escolar, certidão
// de nascimento); OCR noise means every extractor is best-effort and feeds a
// confidence score instead of gating.
package extract

import (
	"regexp"
	"strings"

	"github.com/matriculahub/go-intake-pipeline/internal/domain"
)

// Canonical field names shared with cross-validation.
const (
	FieldName      = "name"
	FieldNumber    = "number"
	FieldCPF       = "cpf"
	FieldBirthDate = "birth_date"
	FieldAddress   = "address"
	FieldIssueDate = "issue_date"
	FieldSchool    = "school_name"
	FieldRawText   = "raw_text"
)

// fieldExtractor pulls one candidate value out of raw OCR text.
type fieldExtractor struct {
	field string
	re    *regexp.Regexp
	// group is the capture group holding the value (defaults to 1).
	group int
}

func (fe fieldExtractor) extract(text string) (string, bool) {
	m := fe.re.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	g := fe.group
	if g == 0 {
		g = 1
	}
	if g >= len(m) {
		return "", false
	}
	v := strings.TrimSpace(m[g])
	return v, v != ""
}

var (
	nameRE      = regexp.MustCompile(`(?i)nome(?:\s+completo)?\s*[:\-]?\s*([\p{L} '.]{3,60})`)
	birthDateRE = regexp.MustCompile(`(?i)(?:data\s+de\s+)?nascimento\s*[:\-]?\s*(\d{1,2}[/\-.]\d{1,2}[/\-.]\d{2,4})`)
	issueDateRE = regexp.MustCompile(`(?i)(?:data\s+de\s+)?expedi[cç][aã]o\s*[:\-]?\s*(\d{1,2}[/\-.]\d{1,2}[/\-.]\d{2,4})`)
	addressRE   = regexp.MustCompile(`(?i)endere[cç]o\s*[:\-]?\s*([^\n]{5,120})`)
	rgNumberRE  = regexp.MustCompile(`(?i)(?:registro\s+geral|rg)\s*[:\-]?\s*(\d[\d.\-xX ]{4,14}\d)`)
	cpfNumberRE = regexp.MustCompile(`\b(\d{3}\.?\d{3}\.?\d{3}-?\d{2})\b`)
	schoolRE    = regexp.MustCompile(`(?i)(?:escola|col[eé]gio|institui[cç][aã]o)\s*[:\-]?\s*([^\n]{3,80})`)
	certNumRE   = regexp.MustCompile(`(?i)matr[ií]cula\s*[:\-]?\s*(\d[\d.\-\s]{6,30}\d)`)
)

// extractorsByType maps each document type to the extractors that apply.
var extractorsByType = map[domain.DocumentType][]fieldExtractor{
	domain.DocTypeRG: {
		{field: FieldName, re: nameRE},
		{field: FieldNumber, re: rgNumberRE},
		{field: FieldBirthDate, re: birthDateRE},
		{field: FieldIssueDate, re: issueDateRE},
	},
	domain.DocTypeCPF: {
		{field: FieldName, re: nameRE},
		{field: FieldNumber, re: cpfNumberRE},
		{field: FieldBirthDate, re: birthDateRE},
	},
	domain.DocTypeProofOfAddress: {
		{field: FieldName, re: nameRE},
		{field: FieldAddress, re: addressRE},
		{field: FieldIssueDate, re: issueDateRE},
	},
	domain.DocTypeSchoolRecord: {
		{field: FieldName, re: nameRE},
		{field: FieldSchool, re: schoolRE},
		{field: FieldBirthDate, re: birthDateRE},
	},
	domain.DocTypeBirthCertificate: {
		{field: FieldName, re: nameRE},
		{field: FieldNumber, re: certNumRE},
		{field: FieldBirthDate, re: birthDateRE},
	},
	domain.DocTypeOther: nil,
}

// requiredByType lists the fields that drive the confidence score.
var requiredByType = map[domain.DocumentType][]string{
	domain.DocTypeRG:               {FieldName, FieldNumber, FieldBirthDate},
	domain.DocTypeCPF:              {FieldName, FieldNumber},
	domain.DocTypeProofOfAddress:   {FieldName, FieldAddress},
	domain.DocTypeSchoolRecord:     {FieldName, FieldSchool},
	domain.DocTypeBirthCertificate: {FieldName, FieldBirthDate},
	domain.DocTypeOther:            nil,
}

// typeSignature is one keyword/regex signature for document-type inference.
type typeSignature struct {
	docType domain.DocumentType
	re      *regexp.Regexp
}

// Signature order matters: the first match wins, so the most specific
// wordings come first.
var typeSignatures = []typeSignature{
	{domain.DocTypeBirthCertificate, regexp.MustCompile(`(?i)certid[aã]o\s+de\s+nascimento`)},
	{domain.DocTypeSchoolRecord, regexp.MustCompile(`(?i)hist[oó]rico\s+escolar|declara[cç][aã]o\s+de\s+escolaridade`)},
	{domain.DocTypeCPF, regexp.MustCompile(`(?i)cadastro\s+de\s+pessoa[s]?\s+f[ií]sica[s]?`)},
	{domain.DocTypeRG, regexp.MustCompile(`(?i)registro\s+geral|carteira\s+de\s+identidade`)},
	{domain.DocTypeProofOfAddress, regexp.MustCompile(`(?i)comprovante.*(resid[eê]ncia|endere[cç]o)|conta\s+de\s+(luz|[aá]gua|energia|g[aá]s|telefone)`)},
}

// InferDocumentType guesses the document type from keyword signatures in the
// raw text. Unmatched text defaults to "other".
func InferDocumentType(text string) domain.DocumentType {
	for _, sig := range typeSignatures {
		if sig.re.MatchString(text) {
			return sig.docType
		}
	}
	return domain.DocTypeOther
}

// RequiredFields returns the confidence-driving fields for a type.
func RequiredFields(t domain.DocumentType) []string {
	return requiredByType[t]
}
