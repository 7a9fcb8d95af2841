package intake

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	scanIDRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._:-]*$`)
	tagRegex    = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9._/-]*[a-zA-Z0-9])?$`)
)

type validationRule struct {
	tag string
	fn  validator.Func
}

var jobRules = []validationRule{
	{tag: "scan_id", fn: patternValidator(scanIDRegex)},
	{tag: "scan_tag", fn: patternValidator(tagRegex)},
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	for _, r := range jobRules {
		_ = v.RegisterValidation(r.tag, r.fn)
	}
	return v
}

func patternValidator(re *regexp.Regexp) validator.Func {
	return func(fl validator.FieldLevel) bool {
		val, ok := fl.Field().Interface().(string)
		if !ok {
			return false
		}
		return re.MatchString(val)
	}
}

// describe turns validator errors into one line naming every failing field.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}
