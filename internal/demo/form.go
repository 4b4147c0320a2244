// Package demo implements the "request a demo" form: field state, the
// completion indicator, required-field validation, and the submit lifecycle
// of the modal that hosts it.
package demo

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	ErrUnknownField  = errors.New("unknown field")
	ErrInvalidChoice = errors.New("invalid choice")
)

// MaxMessageLength caps the free-text message, counted in characters.
const MaxMessageLength = 500

type FieldID string

const (
	FieldFullName     FieldID = "fullName"
	FieldEmail        FieldID = "email"
	FieldPhone        FieldID = "phone"
	FieldOrganization FieldID = "organization"
	FieldRole         FieldID = "role"
	FieldCameras      FieldID = "cameras"
	FieldMessage      FieldID = "message"
)

// Fields lists every field in form order. The completion ratio divides by
// its length.
var Fields = []FieldID{
	FieldFullName,
	FieldEmail,
	FieldPhone,
	FieldOrganization,
	FieldRole,
	FieldCameras,
	FieldMessage,
}

var RequiredFields = []FieldID{FieldFullName, FieldEmail, FieldPhone, FieldOrganization}

type Choice struct {
	Value string
	Label string
}

var RoleChoices = []Choice{
	{"security", "Security Director"},
	{"it", "IT Manager"},
	{"operations", "Operations Manager"},
	{"executive", "Executive"},
	{"other", "Other"},
}

var CameraChoices = []Choice{
	{"1-10", "1-10 cameras"},
	{"11-50", "11-50 cameras"},
	{"51-200", "51-200 cameras"},
	{"200+", "200+ cameras"},
}

func ParseField(s string) (FieldID, error) {
	for _, f := range Fields {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownField, s)
}

func validChoice(choices []Choice, v string) bool {
	if v == "" {
		return true
	}
	for _, c := range choices {
		if c.Value == v {
			return true
		}
	}
	return false
}

// Request is the data sent to the booking endpoint. Role and Cameras are
// empty when unspecified.
type Request struct {
	FullName     string `json:"fullName"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	Organization string `json:"organization"`
	Role         string `json:"role"`
	Cameras      string `json:"cameras"`
	Message      string `json:"message"`
}

func (r *Request) ptr(id FieldID) *string {
	switch id {
	case FieldFullName:
		return &r.FullName
	case FieldEmail:
		return &r.Email
	case FieldPhone:
		return &r.Phone
	case FieldOrganization:
		return &r.Organization
	case FieldRole:
		return &r.Role
	case FieldCameras:
		return &r.Cameras
	case FieldMessage:
		return &r.Message
	}
	return nil
}

// Value returns the current value of id, or "" for unknown ids.
func (r Request) Value(id FieldID) string {
	if p := r.ptr(id); p != nil {
		return *p
	}
	return ""
}

// Missing returns the required fields that are blank, in form order.
func (r Request) Missing() []FieldID {
	var out []FieldID
	for _, f := range RequiredFields {
		if strings.TrimSpace(r.Value(f)) == "" {
			out = append(out, f)
		}
	}
	return out
}

// CompletionRatio is filled fields over all fields. Whitespace-only values
// count as empty.
func (r Request) CompletionRatio() float64 {
	filled := 0
	for _, f := range Fields {
		if strings.TrimSpace(r.Value(f)) != "" {
			filled++
		}
	}
	return float64(filled) / float64(len(Fields))
}

type ValidationError struct {
	Missing []FieldID
}

func (e *ValidationError) Error() string {
	names := make([]string, len(e.Missing))
	for i, f := range e.Missing {
		names[i] = string(f)
	}
	return "required fields missing: " + strings.Join(names, ", ")
}

// Form holds the field values of one open modal.
type Form struct {
	req Request
}

// Set replaces the value of one field. The message is cut at
// MaxMessageLength characters; select fields only take their listed values.
func (f *Form) Set(id FieldID, value string) error {
	p := f.req.ptr(id)
	if p == nil {
		return fmt.Errorf("%w: %q", ErrUnknownField, string(id))
	}
	switch id {
	case FieldRole:
		if !validChoice(RoleChoices, value) {
			return fmt.Errorf("%w for %s: %q", ErrInvalidChoice, id, value)
		}
	case FieldCameras:
		if !validChoice(CameraChoices, value) {
			return fmt.Errorf("%w for %s: %q", ErrInvalidChoice, id, value)
		}
	case FieldMessage:
		value = truncateChars(value, MaxMessageLength)
	}
	*p = value
	return nil
}

func (f *Form) Request() Request { return f.req }

func (f *Form) CompletionRatio() float64 { return f.req.CompletionRatio() }

func (f *Form) Validate() error {
	if missing := f.req.Missing(); len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}

func (f *Form) Reset() { f.req = Request{} }

func truncateChars(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
