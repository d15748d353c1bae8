package portfolio

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Technology is one entry of a "technologies" section payload.
type Technology struct {
	Name string `json:"name" validate:"required,max=100"`
	Logo string `json:"logo,omitempty" validate:"omitempty,url"`
}

// UserInfo is the payload of the fixed "userInfo" section. Unknown keys are
// allowed; only the known ones are checked.
type UserInfo struct {
	Name  string `json:"name" validate:"max=200"`
	Title string `json:"title,omitempty" validate:"max=200"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
}

// payloadRules maps a section type to a schema check for its data.
var payloadRules = map[string]func(json.RawMessage) []string{
	"technologies": checkTechnologies,
	"userInfo":     checkUserInfo,
}

// Validate checks every document invariant: non-empty unique section types,
// the complete fixed set exactly once, well-formed payloads and metadata.
// All violations are reported together in a *ValidationError.
func Validate(d Document) error {
	var problems []string

	seen := make(map[string]bool, len(d.Sections))
	for i, s := range d.Sections {
		if err := validate.Struct(s); err != nil {
			problems = append(problems, fmt.Sprintf("section %d: type is required", i))
			continue
		}
		if seen[s.Type] {
			problems = append(problems, fmt.Sprintf("section %q appears more than once", s.Type))
			continue
		}
		seen[s.Type] = true

		if len(s.Data) > 0 && !json.Valid(s.Data) {
			problems = append(problems, fmt.Sprintf("section %q: data is not valid JSON", s.Type))
			continue
		}
		if rule, ok := payloadRules[s.Type]; ok && len(s.Data) > 0 && string(s.Data) != "null" {
			problems = append(problems, rule(s.Data)...)
		}
	}

	if _, err := FixedSet(d); err != nil {
		if ve, ok := err.(*ValidationError); ok {
			for _, p := range ve.Problems {
				// Duplicates were already reported above.
				if !strings.Contains(p, "appears") {
					problems = append(problems, p)
				}
			}
		}
	}

	problems = append(problems, checkMetadata(d.Metadata)...)

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// ValidateSection checks a single section payload against its type's schema.
func ValidateSection(s Section) error {
	var problems []string
	if s.Type == "" {
		problems = append(problems, "section type is required")
	} else if len(s.Data) > 0 && !json.Valid(s.Data) {
		problems = append(problems, fmt.Sprintf("section %q: data is not valid JSON", s.Type))
	} else if rule, ok := payloadRules[s.Type]; ok && len(s.Data) > 0 && string(s.Data) != "null" {
		problems = append(problems, rule(s.Data)...)
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func checkTechnologies(data json.RawMessage) []string {
	var techs []Technology
	if err := json.Unmarshal(data, &techs); err != nil {
		return []string{"section \"technologies\": data must be a list of {name, logo}"}
	}
	var problems []string
	for i, t := range techs {
		if err := validate.Struct(t); err != nil {
			problems = append(problems, fieldProblems(fmt.Sprintf("technologies[%d]", i), err)...)
		}
	}
	return problems
}

func checkUserInfo(data json.RawMessage) []string {
	var info UserInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return []string{"section \"userInfo\": data must be an object"}
	}
	if err := validate.Struct(info); err != nil {
		return fieldProblems("userInfo", err)
	}
	return nil
}

func checkMetadata(m Metadata) []string {
	var problems []string
	if err := validate.Struct(m); err != nil {
		problems = append(problems, fieldProblems("metadata", err)...)
	}
	if !utf8.ValidString(m.CustomStyle) {
		problems = append(problems, "metadata.customStyle: must be text")
	}
	return problems
}

func fieldProblems(prefix string, err error) []string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []string{fmt.Sprintf("%s: %v", prefix, err)}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fmt.Sprintf("%s.%s: failed %q", prefix, fe.Field(), fe.Tag()))
	}
	return out
}
