package generation

import (
	"strings"
	"time"

	"github.com/nikhilbhutani/docissue/internal/models"
	"github.com/nikhilbhutani/docissue/internal/substitute"
)

// Data keys every template can reference. Custom student fields are added
// under their own names but never shadow these.
const (
	KeyName           = "name"
	KeyStudentName    = "studentName"
	KeyRollNo         = "rollNo"
	KeyRegistrationNo = "registrationNo"
	KeyFatherName     = "fatherName"
	KeyMotherName     = "motherName"
	KeyDOB            = "dob"
	KeyEmail          = "email"
	KeyMobile         = "mobile"
	KeyTenantName     = "tenantName"
	KeyIssueDate      = "issueDate"
	KeyQRToken        = "qrToken"
	KeyVerifyURL      = "verifyUrl"
)

// DataInput is everything the substitution data is built from.
type DataInput struct {
	Snapshot   models.Snapshot
	TenantName string
	IssuedAt   time.Time
	QRToken    string
	VerifyURL  string
}

// BuildData resolves the substitution map for one document.
func BuildData(in DataInput) map[string]string {
	s := in.Snapshot
	data := make(map[string]string, len(s.CustomFields)+13)
	for k, v := range s.CustomFields {
		data[k] = v
	}
	data[KeyName] = s.Name
	data[KeyStudentName] = s.Name
	data[KeyRollNo] = s.RollNo
	data[KeyRegistrationNo] = s.RegistrationNo
	data[KeyFatherName] = s.FatherName
	data[KeyMotherName] = s.MotherName
	data[KeyDOB] = s.DOB
	data[KeyEmail] = s.Email
	data[KeyMobile] = s.Mobile
	data[KeyTenantName] = in.TenantName
	data[KeyIssueDate] = in.IssuedAt.UTC().Format(time.DateOnly)
	data[KeyQRToken] = in.QRToken
	data[KeyVerifyURL] = in.VerifyURL
	return data
}

// Title resolves the document title from the template's title pattern,
// falling back to the template name.
func Title(t *models.Template, data map[string]string) string {
	pattern := t.TitlePattern
	if pattern == "" {
		pattern = t.Name
	}
	return substitute.Substitute(pattern, data)
}

// Variables lists the keys a template references, in order of first use:
// the title pattern first, then the body or field sources.
func Variables(t *models.Template) []string {
	parts := []string{t.TitlePattern}
	switch t.Type {
	case models.TemplateFieldMap:
		for _, f := range t.FieldMappings {
			if f.Type == models.FieldQR {
				continue
			}
			src := f.Source
			if src == "" {
				src = "{{" + f.Name + "}}"
			}
			parts = append(parts, src)
		}
	default:
		parts = append(parts, t.Content)
	}
	vars := substitute.Variables(strings.Join(parts, "\n"))
	if vars == nil {
		vars = []string{}
	}
	return vars
}
